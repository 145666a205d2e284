// Package harness runs reconciliation scenarios against the engine.
//
// A scenario scripts both collaborators: what the server lists at startup,
// how it answers each create, and which updates it pushes over the event
// channel. The harness drives a real engine through the steps and checks the
// final store and notifications.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: push_after_create
//	description: "A pushed update replaces the created record"
//	seed:
//	  - { id: tx0, type: debit, amount: "5.00", status: processed }
//	steps:
//	  - submit:
//	      type: credit
//	      amount: "100.00"
//	      respond:
//	        record: { id: tx1, type: credit, amount: "100.00", status: created }
//	      expect: committed
//	  - push:
//	      data: { id: tx1, status: processed }
//	  - trigger: { id: tx1 }
//	  - select: { id: tx0 }
//	assertions:
//	  - type: store_order
//	    ids: [tx1, tx0]
//	  - type: store_status
//	    id: tx1
//	    status: processed
//	  - type: notification_count
//	    count: 1
//	  - type: latest_notification
//	    id: tx1
//	    status: processed
//	  - type: key_reused
//	    steps: [0, 1]
//
// A submit's respond block holds exactly one of record (success), reject
// (server error text) or fail (transport error text). A push without an
// event name sends "transaction.updated".
//
// # Deterministic Testing
//
// Each run uses a fresh engine with:
//   - keys from testutil.KeySequence ("idemp_test-0001", ...)
//   - wall time from testutil.StepClock
//   - in-memory fakes of both collaborators
//
// Every step is fully applied before the next one starts, so the same
// scenario always produces the same snapshot.
package harness
