// Package engine implements the reconciliation engine: the single owner of
// the local transaction store and notification buffer.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Two independent sources feed the store: the synchronous create response
// and the asynchronous event channel. Neither writes directly. Both enqueue
// events onto one FIFO queue, and one goroutine applies them in order. This
// ensures:
//   - the merge rule is never invoked concurrently with itself
//   - a store change and its notification are applied together
//   - the store converges to the last delivered state for each id
//
// Event Processing Flow:
//  1. Open seeds the queue from ListTransactions (oldest first)
//  2. A pump goroutine forwards event channel messages to the queue
//  3. Submit awaits the API, then enqueues the create result and waits for
//     the loop to apply it
//  4. The loop merges each record, appends a notification for channel
//     updates only, journals the change, and signals subscribers
//
// Readers (CurrentTransactions, CurrentNotifications) take a read lock and
// receive deep copies; they never see the live structures.
//
// ORDERING:
// Records carry no sequence number, so the engine is last-delivered-wins.
// The server is assumed to deliver updates to one subscriber in send order.
// Reordering across reconnects or multiple producers can let an older state
// overwrite a newer one.
//
// LIFECYCLE:
// Open acquires the channel subscription; Close releases it, stops the loop
// and is safe to call more than once. Create results that arrive after Close
// are never applied and their Submit calls report ENGINE_CLOSED.
package engine
