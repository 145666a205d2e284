// Package notify keeps the log of human-readable status announcements.
//
// The buffer grows without bound; only Visible truncates, and it does so on
// a copy. Nothing is ever evicted, so a caller asking for a larger limit
// later still sees every entry.
package notify

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/txsync/internal/txn"
)

// DefaultLimit is how many entries Visible returns when asked for <= 0.
const DefaultLimit = 5

// Entry is one announcement. Entries are never mutated after Append.
type Entry struct {
	// ID is unique per entry: "<txid>_<status>_<seq>". Repeated transitions
	// of one transaction to the same status still get distinct IDs.
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Message       string     `json:"message"`
	Status        txn.Status `json:"status"`
	Seq           int64      `json:"seq"`
	At            time.Time  `json:"at"`
}

// Sequencer hands out strictly increasing numbers.
type Sequencer interface {
	Next() int64
}

type counter struct {
	n atomic.Int64
}

func (c *counter) Next() int64 { return c.n.Add(1) }

// Option configures a Buffer.
type Option func(*Buffer)

// WithSequencer shares an external logical clock for entry IDs.
func WithSequencer(seq Sequencer) Option {
	return func(b *Buffer) { b.seq = seq }
}

// WithNow overrides the wall clock used for Entry.At.
func WithNow(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithDefaultLimit sets the limit used by Visible(0).
func WithDefaultLimit(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.limit = n
		}
	}
}

// Buffer is a most-recent-first log of entries.
//
// Thread-safety: Buffer is NOT safe for concurrent use; it is owned by the
// reconciliation engine's run loop.
type Buffer struct {
	entries []Entry
	seq     Sequencer
	now     func() time.Time
	limit   int
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		seq:   &counter{},
		now:   time.Now,
		limit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Message renders the announcement text for a transition.
func Message(transactionID string, status txn.Status) string {
	return fmt.Sprintf("Transaction %s is now %s", txn.ShortID(transactionID), status)
}

// Append prepends a new entry for the transition and returns it.
func (b *Buffer) Append(transactionID string, status txn.Status) Entry {
	seq := b.seq.Next()
	e := Entry{
		ID:            fmt.Sprintf("%s_%s_%d", transactionID, status, seq),
		TransactionID: transactionID,
		Message:       Message(transactionID, status),
		Status:        status,
		Seq:           seq,
		At:            b.now(),
	}

	b.entries = append(b.entries, Entry{})
	copy(b.entries[1:], b.entries)
	b.entries[0] = e
	return e
}

// Visible returns up to limit of the most recent entries. A limit <= 0 uses
// the buffer's default limit. The buffer itself is not changed.
func (b *Buffer) Visible(limit int) []Entry {
	if limit <= 0 {
		limit = b.limit
	}
	if limit > len(b.entries) {
		limit = len(b.entries)
	}
	out := make([]Entry, limit)
	copy(out, b.entries[:limit])
	return out
}

// All returns every entry, most recent first.
func (b *Buffer) All() []Entry {
	return b.Visible(len(b.entries) + 1)
}

// Len returns the total number of entries ever appended.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// DefaultLimit returns the limit Visible uses when given <= 0.
func (b *Buffer) DefaultLimit() int {
	return b.limit
}
