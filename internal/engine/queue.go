package engine

import (
	"sync"

	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/txn"
)

// EventType distinguishes the inputs multiplexed onto the queue.
type EventType int

const (
	// EventTypeSeed is a record from the startup listing.
	EventTypeSeed EventType = iota + 1
	// EventTypeCreate is the record returned by a successful create.
	EventTypeCreate
	// EventTypeChannel is a raw event channel message.
	EventTypeChannel
	// EventTypeChannelClosed reports the channel went away.
	EventTypeChannelClosed
	// EventTypeBarrier is applied as a no-op; its reply proves every earlier
	// event has been applied.
	EventTypeBarrier
)

func (t EventType) String() string {
	switch t {
	case EventTypeSeed:
		return "seed"
	case EventTypeCreate:
		return "create"
	case EventTypeChannel:
		return "channel"
	case EventTypeChannelClosed:
		return "channel_closed"
	case EventTypeBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// applyResult is sent back to a waiting producer.
type applyResult struct {
	record   txn.Record
	inserted bool
	err      error
}

// Event is one unit of work for the run loop.
type Event struct {
	Type    EventType
	Record  *txn.Record
	Message *channel.Message
	Err     error

	// reply, when set, receives exactly one result. Buffered by the sender.
	reply chan applyResult
}

// eventQueue is a thread-safe unbounded FIFO.
//
// Unbounded so the channel pump never blocks the socket reader while a slow
// subscriber holds up the loop. A buffered signal channel of size 1 lets the
// loop wait with select alongside context cancellation.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin records.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes the waiter. Events already queued
// are dropped; their producers observe the engine's done channel instead.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	for i := range q.events {
		q.events[i] = Event{}
	}
	q.events = q.events[:0]
	close(q.signal)
}
