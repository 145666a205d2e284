package harness

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/roach88/txsync/internal/api"
	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/engine"
	"github.com/roach88/txsync/internal/txn"
)

// flushEvent is pushed after every scripted message. The engine ignores
// event kinds it does not know, and once the pump has accepted it the
// preceding message is already queued.
const flushEvent = "harness.flush"

// scriptedAPI answers from the scenario script.
type scriptedAPI struct {
	mu        sync.Mutex
	seed      []txn.Record
	next      *Response
	lastKey   string
	triggered []string
}

func (f *scriptedAPI) expect(r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = &r
	f.lastKey = ""
}

func (f *scriptedAPI) sentKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

func (f *scriptedAPI) CreateTransaction(ctx context.Context, req api.CreateRequest, key string) (txn.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastKey = key
	r := f.next
	f.next = nil

	switch {
	case r == nil, r.Record == nil && r.Reject == "" && r.Fail == "":
		return txn.Record{}, &api.TransportError{Op: "create", Err: errors.New("no response scripted")}
	case r.Reject != "":
		return txn.Record{}, &api.RejectedError{StatusCode: http.StatusConflict, Detail: r.Reject}
	case r.Fail != "":
		return txn.Record{}, &api.TransportError{Op: "create", Err: errors.New(r.Fail)}
	default:
		rec, err := toRecord(r.Record)
		if err != nil {
			return txn.Record{}, &api.TransportError{Op: "create", Err: err}
		}
		return rec, nil
	}
}

func (f *scriptedAPI) TriggerProcessing(ctx context.Context, id string) (api.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, id)
	return api.Ack{Status: "queued"}, nil
}

func (f *scriptedAPI) ListTransactions(ctx context.Context) ([]txn.Record, error) {
	return f.seed, nil
}

// scriptedChannel is an unbuffered in-memory event channel.
type scriptedChannel struct {
	msgs chan channel.Message
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{msgs: make(chan channel.Message)}
}

func (c *scriptedChannel) dial(ctx context.Context) (engine.Subscription, error) {
	return c, nil
}

func (c *scriptedChannel) Messages() <-chan channel.Message { return c.msgs }
func (c *scriptedChannel) Err() error                       { return nil }

// Close does not close msgs; the engine stops reading on its own.
func (c *scriptedChannel) Close() error {
	return nil
}

// send delivers msg and returns once the engine has queued it.
func (c *scriptedChannel) send(ctx context.Context, msg channel.Message) error {
	for _, m := range []channel.Message{msg, {Event: flushEvent}} {
		select {
		case c.msgs <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
