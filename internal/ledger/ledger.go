// Package ledger holds the local view of transaction state.
//
// The merge rule is whole-record replace by ID:
//   - a known ID is replaced in place and keeps its position
//   - an unknown ID is inserted at the head (most recent first)
//   - a record without an ID is rejected and nothing changes
//
// There is no field-level merge. The server owns a transaction's full state,
// and stitching fields from two snapshots could produce a state the server
// never had.
package ledger

import (
	"errors"
	"fmt"

	"github.com/roach88/txsync/internal/txn"
)

// ErrMalformedRecord is returned when a merge input lacks identity.
var ErrMalformedRecord = errors.New("malformed record")

// Merge applies r to records and returns the resulting slice and whether r
// was a new transaction. The input slice is never modified, so callers
// holding it keep a consistent snapshot.
func Merge(records []txn.Record, r txn.Record) ([]txn.Record, bool, error) {
	if err := r.Validate(); err != nil {
		return records, false, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	out := make([]txn.Record, 0, len(records)+1)
	for i, existing := range records {
		if existing.ID == r.ID {
			out = append(out, records...)
			out[i] = r.Clone()
			return out, false, nil
		}
	}

	out = append(out, r.Clone())
	out = append(out, records...)
	return out, true, nil
}

// Store is the mutable owner of the merged view.
//
// Thread-safety: Store is NOT safe for concurrent use. The reconciliation
// engine is its single writer; readers receive copies via Snapshot.
type Store struct {
	records []txn.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Merge applies r using the package merge rule.
func (s *Store) Merge(r txn.Record) (inserted bool, err error) {
	next, inserted, err := Merge(s.records, r)
	if err != nil {
		return false, err
	}
	s.records = next
	return inserted, nil
}

// Snapshot returns a deep copy of the records, most recent first.
func (s *Store) Snapshot() []txn.Record {
	out := make([]txn.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id string) (txn.Record, bool) {
	for _, r := range s.records {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return txn.Record{}, false
}

// Len returns the number of distinct transactions.
func (s *Store) Len() int {
	return len(s.records)
}
