package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txsync/internal/api"
	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/idempotency"
	"github.com/roach88/txsync/internal/journal"
	"github.com/roach88/txsync/internal/txn"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory Transaction API.
type fakeAPI struct {
	mu         sync.Mutex
	listing    []txn.Record
	listErr    error
	create     func(req api.CreateRequest, key string) (txn.Record, error)
	keys       []string
	triggered  []string
	triggerErr error
}

func (f *fakeAPI) CreateTransaction(ctx context.Context, req api.CreateRequest, key string) (txn.Record, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	create := f.create
	f.mu.Unlock()

	if create == nil {
		return txn.Record{ID: "tx1", Type: req.Type, Amount: req.Amount, Status: txn.StatusCreated}, nil
	}
	return create(req, key)
}

func (f *fakeAPI) TriggerProcessing(ctx context.Context, id string) (api.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return api.Ack{}, f.triggerErr
	}
	f.triggered = append(f.triggered, id)
	return api.Ack{Status: "queued"}, nil
}

func (f *fakeAPI) ListTransactions(ctx context.Context) ([]txn.Record, error) {
	return f.listing, f.listErr
}

func (f *fakeAPI) sentKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// fakeSub is an in-memory event channel.
type fakeSub struct {
	msgs   chan channel.Message
	err    error
	mu     sync.Mutex
	closed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{msgs: make(chan channel.Message, 16)}
}

func (s *fakeSub) Messages() <-chan channel.Message { return s.msgs }
func (s *fakeSub) Err() error                       { return s.err }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) push(id string, status txn.Status) {
	data := fmt.Sprintf(`{"id":%q,"type":"credit","amount":"100.00","status":%q}`, id, status)
	s.msgs <- channel.Message{Event: channel.EventTransactionUpdated, Data: json.RawMessage(data)}
}

func (s *fakeSub) drop(err error) {
	s.err = err
	close(s.msgs)
}

func (s *fakeSub) dialer() Dialer {
	return func(ctx context.Context) (Subscription, error) { return s, nil }
}

func openTestEngine(t *testing.T, fa *fakeAPI, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithNow(func() time.Time { return testNow })}, opts...)
	e := New(fa, opts...)
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { e.Close() })
	return e
}

func ids(records []txn.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func statusOf(e *Engine, id string) txn.Status {
	for _, r := range e.CurrentTransactions() {
		if r.ID == id {
			return r.Status
		}
	}
	return ""
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit_CommitsWithoutNotification(t *testing.T) {
	fa := &fakeAPI{}
	gen := idempotency.NewFixedGenerator("idemp_k1")
	e := openTestEngine(t, fa, WithKeyGenerator(gen))

	out, err := e.Submit(context.Background(), "credit", "100.00", "")
	require.NoError(t, err)

	assert.Equal(t, SubmissionCommitted, out.State)
	assert.True(t, out.Inserted)
	assert.Equal(t, "idemp_k1", out.Key)
	assert.Equal(t, "tx1", out.Record.ID)

	records := e.CurrentTransactions()
	require.Len(t, records, 1)
	assert.Equal(t, txn.Record{ID: "tx1", Type: txn.TypeCredit, Amount: "100.00", Status: txn.StatusCreated}, records[0])
	assert.Empty(t, e.CurrentNotifications(0), "own creates are not announced")

	sel, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, "tx1", sel.ID)
	assert.Equal(t, "idemp_k1", e.KeyInput(), "generated key adopted into empty input")
}

func TestChannelUpdate_ReplacesAndNotifies(t *testing.T) {
	fa := &fakeAPI{}
	sub := newFakeSub()
	e := openTestEngine(t, fa, WithDialer(sub.dialer()), WithKeyGenerator(idempotency.NewFixedGenerator("k")))

	_, err := e.Submit(context.Background(), "credit", "100.00", "")
	require.NoError(t, err)

	sub.push("tx1", txn.StatusProcessed)
	waitFor(t, func() bool { return statusOf(e, "tx1") == txn.StatusProcessed })

	assert.Len(t, e.CurrentTransactions(), 1)

	notes := e.CurrentNotifications(0)
	require.Len(t, notes, 1)
	assert.Equal(t, "tx1", notes[0].TransactionID)
	assert.Equal(t, txn.StatusProcessed, notes[0].Status)
	assert.Equal(t, "Transaction tx1 is now processed", notes[0].Message)
	assert.Equal(t, testNow, notes[0].At)
}

func TestChannelUpdate_UnknownIDInsertedAtHead(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{
		{ID: "tx2", Status: txn.StatusCreated},
		{ID: "tx1", Status: txn.StatusProcessed},
	}}
	sub := newFakeSub()
	e := openTestEngine(t, fa, WithDialer(sub.dialer()))

	sub.push("tx9", txn.StatusPending)
	waitFor(t, func() bool { return len(e.CurrentTransactions()) == 3 })

	assert.Equal(t, []string{"tx9", "tx2", "tx1"}, ids(e.CurrentTransactions()))
	notes := e.CurrentNotifications(0)
	require.Len(t, notes, 1)
	assert.Equal(t, "tx9", notes[0].TransactionID)
	assert.NoError(t, e.ChannelErr())
}

func TestChannelUpdate_RepeatedStatusGetsDistinctEntries(t *testing.T) {
	sub := newFakeSub()
	e := openTestEngine(t, &fakeAPI{}, WithDialer(sub.dialer()))

	sub.push("tx1", txn.StatusPending)
	sub.push("tx1", txn.StatusPending)
	waitFor(t, func() bool { return len(e.CurrentNotifications(0)) == 2 })

	notes := e.CurrentNotifications(0)
	assert.NotEqual(t, notes[0].ID, notes[1].ID)
	assert.Greater(t, notes[0].Seq, notes[1].Seq, "most recent first")
	assert.Len(t, e.CurrentTransactions(), 1)
}

func TestSeed_PreservesServerOrder(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{{ID: "c"}, {ID: "b"}, {ID: "a"}}}
	e := openTestEngine(t, fa)

	require.NoError(t, e.Sync(context.Background()))
	assert.Equal(t, []string{"c", "b", "a"}, ids(e.CurrentTransactions()))
	assert.Empty(t, e.CurrentNotifications(0), "seeding is not announced")

	_, ok := e.Selected()
	assert.False(t, ok, "seeding selects nothing")
}

func TestSeed_ListFailureStartsEmpty(t *testing.T) {
	fa := &fakeAPI{listErr: errors.New("connection refused")}
	e := openTestEngine(t, fa)

	require.NoError(t, e.Sync(context.Background()))
	assert.Empty(t, e.CurrentTransactions())
}

func TestChannel_MalformedAndForeignMessagesIgnored(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{{ID: "tx1", Status: txn.StatusCreated}}}
	sub := newFakeSub()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := openTestEngine(t, fa, WithDialer(sub.dialer()), WithMetrics(m))

	require.NoError(t, e.Sync(context.Background()))
	before := e.CurrentTransactions()

	sub.msgs <- channel.Message{Event: channel.EventTransactionUpdated, Data: json.RawMessage(`{"status":"processed"}`)}
	sub.msgs <- channel.Message{Event: channel.EventTransactionUpdated, Data: json.RawMessage(`[1,2]`)}
	sub.msgs <- channel.Message{Event: "transaction.deleted", Data: json.RawMessage(`{"id":"tx1"}`)}
	sub.push("tx5", txn.StatusCreated)

	waitFor(t, func() bool { return len(e.CurrentTransactions()) == 2 })

	assert.Equal(t, before[0], e.CurrentTransactions()[1], "existing record untouched")
	assert.Len(t, e.CurrentNotifications(0), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.malformed.WithLabelValues("channel")))
	assert.NoError(t, e.ChannelErr())
}

func TestSubmit_RejectedLeavesStoreUntouched(t *testing.T) {
	fa := &fakeAPI{create: func(api.CreateRequest, string) (txn.Record, error) {
		return txn.Record{}, &api.RejectedError{StatusCode: 409, Detail: "Idempotency-Key reused with different payload"}
	}}
	e := openTestEngine(t, fa, WithKeyGenerator(idempotency.NewFixedGenerator("k1")))

	out, err := e.Submit(context.Background(), "debit", "5", "")
	require.Error(t, err)

	assert.True(t, IsRejected(err))
	assert.Equal(t, SubmissionRejected, out.State)

	var eerr *Error
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "Idempotency-Key reused with different payload", eerr.Detail)

	assert.Empty(t, e.CurrentTransactions())
	assert.Empty(t, e.KeyInput(), "key only adopted after commit")
}

func TestSubmit_RetryAfterTransportFailureReusesKey(t *testing.T) {
	calls := 0
	fa := &fakeAPI{}
	fa.create = func(req api.CreateRequest, key string) (txn.Record, error) {
		calls++
		if calls == 1 {
			return txn.Record{}, &api.TransportError{Op: "create", Err: errors.New("timeout")}
		}
		return txn.Record{ID: "tx1", Status: txn.StatusCreated}, nil
	}
	gen := idempotency.NewFixedGenerator("idemp_k1", "idemp_k2")
	e := openTestEngine(t, fa, WithKeyGenerator(gen))

	out, err := e.Submit(context.Background(), "credit", "100", "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, SubmissionFailed, out.State)
	assert.Empty(t, e.CurrentTransactions())

	out, err = e.Submit(context.Background(), "credit", "100", "")
	require.NoError(t, err)
	assert.Equal(t, SubmissionCommitted, out.State)

	assert.Equal(t, []string{"idemp_k1", "idemp_k1"}, fa.sentKeys())
	assert.Equal(t, 1, gen.Issued())
}

func TestSubmit_EditedInputGetsNewKey(t *testing.T) {
	fa := &fakeAPI{}
	gen := idempotency.NewFixedGenerator("idemp_k1", "idemp_k2")
	e := openTestEngine(t, fa, WithKeyGenerator(gen))

	_, err := e.Submit(context.Background(), "credit", "1", "")
	require.NoError(t, err)
	require.Equal(t, "idemp_k1", e.KeyInput())

	// Resubmitting the adopted key reuses it.
	_, err = e.Submit(context.Background(), "credit", "1", e.KeyInput())
	require.NoError(t, err)

	// Clearing the field is an edit.
	_, err = e.Submit(context.Background(), "credit", "1", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"idemp_k1", "idemp_k1", "idemp_k2"}, fa.sentKeys())
}

func TestSubmit_UserKeyVerbatim(t *testing.T) {
	fa := &fakeAPI{}
	gen := idempotency.NewFixedGenerator()
	e := openTestEngine(t, fa, WithKeyGenerator(gen))

	out, err := e.Submit(context.Background(), "credit", "1", "  userkey ")
	require.NoError(t, err)

	assert.Equal(t, "userkey", out.Key)
	assert.Equal(t, []string{"userkey"}, fa.sentKeys())
	assert.Equal(t, 0, gen.Issued())
}

func TestSubmit_ConcurrentCallersKeepTheirKeys(t *testing.T) {
	fa := &fakeAPI{create: func(req api.CreateRequest, key string) (txn.Record, error) {
		return txn.Record{ID: "tx-" + key, Type: req.Type, Amount: req.Amount, Status: txn.StatusCreated}, nil
	}}
	e := openTestEngine(t, fa)

	type result struct {
		raw string
		out Outcome
		err error
	}
	results := make(chan result, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := ""
			if i%2 == 1 {
				raw = fmt.Sprintf("user-%d", i)
			}
			out, err := e.Submit(context.Background(), "credit", "1", raw)
			results <- result{raw: raw, out: out, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	for r := range results {
		require.NoError(t, r.err)
		if r.raw != "" {
			assert.Equal(t, r.raw, r.out.Key)
			assert.Equal(t, "tx-"+r.raw, r.out.Record.ID)
		} else {
			assert.True(t, idempotency.IsGenerated(r.out.Key), "empty input sent %s", r.out.Key)
		}
	}

	sent := map[string]int{}
	for _, k := range fa.sentKeys() {
		sent[k]++
	}
	for i := 1; i < 100; i += 2 {
		assert.Equal(t, 1, sent[fmt.Sprintf("user-%d", i)])
	}
}

func TestSubmit_InvalidInputSendsNothing(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		amount string
	}{
		{"unknown type", "refund", "1.00"},
		{"not a number", "credit", "abc"},
		{"too many places", "credit", "1.001"},
		{"empty amount", "debit", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAPI{}
			gen := idempotency.NewFixedGenerator()
			e := openTestEngine(t, fa, WithKeyGenerator(gen))

			_, err := e.Submit(context.Background(), tt.typ, tt.amount, "")
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))
			assert.Empty(t, fa.sentKeys())
			assert.Equal(t, 0, gen.Issued())
		})
	}
}

func TestSubmit_NormalizesAmount(t *testing.T) {
	var sent api.CreateRequest
	fa := &fakeAPI{create: func(req api.CreateRequest, key string) (txn.Record, error) {
		sent = req
		return txn.Record{ID: "tx1"}, nil
	}}
	e := openTestEngine(t, fa, WithKeyGenerator(idempotency.NewFixedGenerator("k")))

	_, err := e.Submit(context.Background(), " Credit ", "100", "")
	require.NoError(t, err)
	assert.Equal(t, api.CreateRequest{Type: txn.TypeCredit, Amount: "100.00"}, sent)
}

func TestSubmit_MalformedResponse(t *testing.T) {
	fa := &fakeAPI{create: func(api.CreateRequest, string) (txn.Record, error) {
		return txn.Record{Status: txn.StatusCreated}, nil
	}}
	e := openTestEngine(t, fa, WithKeyGenerator(idempotency.NewFixedGenerator("k")))

	out, err := e.Submit(context.Background(), "credit", "1", "")
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.Equal(t, SubmissionFailed, out.State)
	assert.Empty(t, e.CurrentTransactions())
	assert.Empty(t, e.KeyInput())
}

func TestSubmit_CreateAppliedAfterPush(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAPI{create: func(api.CreateRequest, string) (txn.Record, error) {
		<-release
		return txn.Record{ID: "tx1", Status: txn.StatusCreated}, nil
	}}
	sub := newFakeSub()
	e := openTestEngine(t, fa, WithDialer(sub.dialer()), WithKeyGenerator(idempotency.NewFixedGenerator("k")))

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Submit(context.Background(), "credit", "1", "")
		done <- out
	}()

	sub.push("tx1", txn.StatusProcessed)
	waitFor(t, func() bool { return statusOf(e, "tx1") == txn.StatusProcessed })

	close(release)
	out := <-done

	assert.Equal(t, SubmissionCommitted, out.State)
	assert.False(t, out.Inserted, "push already inserted tx1")
	assert.Equal(t, txn.StatusCreated, statusOf(e, "tx1"), "last delivered wins")
	assert.Len(t, e.CurrentTransactions(), 1)
	assert.Len(t, e.CurrentNotifications(0), 1)
}

func TestTriggerProcessing(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{{ID: "tx2"}}}
	e := openTestEngine(t, fa, WithKeyGenerator(idempotency.NewFixedGenerator("k")))
	ctx := context.Background()

	_, err := e.TriggerProcessing(ctx, "")
	assert.Equal(t, ErrCodeNoSelection, CodeOf(err))

	_, err = e.Submit(ctx, "credit", "1", "")
	require.NoError(t, err)

	ack, err := e.TriggerProcessing(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "queued", ack.Status)

	_, err = e.TriggerProcessing(ctx, "tx2")
	require.NoError(t, err)

	assert.Equal(t, []string{"tx1", "tx2"}, fa.triggered)
}

func TestTriggerProcessing_Errors(t *testing.T) {
	fa := &fakeAPI{triggerErr: &api.RejectedError{StatusCode: 404, Detail: "Not found."}}
	e := openTestEngine(t, fa)

	_, err := e.TriggerProcessing(context.Background(), "nope")
	assert.True(t, IsRejected(err))

	fa.triggerErr = &api.TransportError{Op: "trigger", StatusCode: 502}
	_, err = e.TriggerProcessing(context.Background(), "nope")
	assert.True(t, IsTransport(err))
}

func TestSelect(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{{ID: "tx2"}, {ID: "tx1"}}}
	e := openTestEngine(t, fa)
	require.NoError(t, e.Sync(context.Background()))

	assert.False(t, e.Select("missing"))
	_, ok := e.Selected()
	assert.False(t, ok)

	assert.True(t, e.Select("tx1"))
	sel, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, "tx1", sel.ID)

	assert.True(t, e.Select(""))
	_, ok = e.Selected()
	assert.False(t, ok)
}

func TestSnapshotsAreCopies(t *testing.T) {
	fa := &fakeAPI{listing: []txn.Record{{ID: "tx1", Status: txn.StatusCreated}}}
	e := openTestEngine(t, fa)
	require.NoError(t, e.Sync(context.Background()))

	snap := e.CurrentTransactions()
	snap[0].Status = txn.StatusFailed

	assert.Equal(t, txn.StatusCreated, statusOf(e, "tx1"))
}

func TestSubscribe_Signals(t *testing.T) {
	sub := newFakeSub()
	e := openTestEngine(t, &fakeAPI{}, WithDialer(sub.dialer()))

	signals, cancel := e.Subscribe()
	defer cancel()

	sub.push("tx1", txn.StatusPending)

	first := <-signals
	assert.Equal(t, SignalStoreChanged, first.Kind)
	assert.Equal(t, "tx1", first.TransactionID)
	assert.True(t, first.Inserted)

	second := <-signals
	assert.Equal(t, SignalNotification, second.Kind)
	require.NotNil(t, second.Notification)
	assert.Equal(t, txn.StatusPending, second.Notification.Status)

	sub.drop(errors.New("connection reset"))

	third := <-signals
	assert.Equal(t, SignalChannelClosed, third.Kind)
	assert.True(t, IsChannelClosed(third.Err))
	assert.True(t, IsChannelClosed(e.ChannelErr()))
}

func TestOpen_DialFailure(t *testing.T) {
	e := New(&fakeAPI{}, WithDialer(func(context.Context) (Subscription, error) {
		return nil, errors.New("bad handshake")
	}))
	defer e.Close()

	err := e.Open(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	_, err = e.Submit(context.Background(), "credit", "1", "")
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestOpen_Twice(t *testing.T) {
	e := openTestEngine(t, &fakeAPI{})
	assert.Error(t, e.Open(context.Background()))
}

func TestClose(t *testing.T) {
	sub := newFakeSub()
	e := New(&fakeAPI{}, WithDialer(sub.dialer()))
	require.NoError(t, e.Open(context.Background()))

	signals, _ := e.Subscribe()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")
	assert.True(t, sub.isClosed(), "subscription released")

	_, open := <-signals
	assert.False(t, open, "subscriber channels closed")

	_, err := e.Submit(context.Background(), "credit", "1", "")
	assert.True(t, IsEngineClosed(err))
	assert.True(t, IsEngineClosed(e.Sync(context.Background())))
	assert.True(t, IsEngineClosed(e.Open(context.Background())))

	_, err = e.TriggerProcessing(context.Background(), "tx1")
	assert.True(t, IsEngineClosed(err))

	late, _ := e.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestClose_DuringSubmit(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAPI{create: func(api.CreateRequest, string) (txn.Record, error) {
		<-release
		return txn.Record{ID: "tx1"}, nil
	}}
	e := New(fa, WithKeyGenerator(idempotency.NewFixedGenerator("k")))
	require.NoError(t, e.Open(context.Background()))

	errs := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), "credit", "1", "")
		errs <- err
	}()

	waitFor(t, func() bool { return len(fa.sentKeys()) == 1 })
	require.NoError(t, e.Close())
	close(release)

	assert.True(t, IsEngineClosed(<-errs))
	assert.Empty(t, e.CurrentTransactions(), "nothing merged after close")
}

func TestClose_AfterCreateApplied(t *testing.T) {
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	// The journal stamp blocks the loop inside the create merge.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	now := func() time.Time {
		once.Do(func() {
			close(entered)
			<-release
		})
		return testNow
	}

	e := New(&fakeAPI{},
		WithJournal(j),
		WithNow(now),
		WithKeyGenerator(idempotency.NewFixedGenerator("k")),
	)
	require.NoError(t, e.Open(context.Background()))

	type result struct {
		out Outcome
		err error
	}
	results := make(chan result, 1)
	go func() {
		out, err := e.Submit(context.Background(), "credit", "1", "")
		results <- result{out: out, err: err}
	}()

	<-entered
	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()
	waitFor(t, func() bool {
		select {
		case <-e.done:
			return true
		default:
			return false
		}
	})
	close(release)

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, SubmissionCommitted, r.out.State)
	assert.Equal(t, []string{"tx1"}, ids(e.CurrentTransactions()))
	assert.Equal(t, "k", e.KeyInput())
	require.NoError(t, <-closed)
}

func TestJournal_RecordsEveryMerge(t *testing.T) {
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	fa := &fakeAPI{listing: []txn.Record{{ID: "tx0", Status: txn.StatusProcessed}}}
	sub := newFakeSub()
	e := openTestEngine(t, fa,
		WithDialer(sub.dialer()),
		WithJournal(j),
		WithKeyGenerator(idempotency.NewFixedGenerator("k")),
	)

	_, err = e.Submit(context.Background(), "credit", "1", "")
	require.NoError(t, err)

	sub.msgs <- channel.Message{Event: channel.EventTransactionUpdated, Data: json.RawMessage(`{"status":"failed"}`)}
	sub.push("tx1", txn.StatusProcessed)
	waitFor(t, func() bool { return statusOf(e, "tx1") == txn.StatusProcessed })
	require.NoError(t, e.Sync(context.Background()))

	entries, err := j.Read(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	type row struct {
		Source journal.Source
		Kind   journal.Kind
		ID     string
	}
	var got []row
	for _, en := range entries {
		got = append(got, row{en.Source, en.Kind, en.TransactionID})
		assert.Equal(t, testNow, en.At)
	}
	assert.Equal(t, []row{
		{journal.SourceSeed, journal.KindInsert, "tx0"},
		{journal.SourceCreate, journal.KindInsert, "tx1"},
		{journal.SourceChannel, journal.KindMalformed, ""},
		{journal.SourceChannel, journal.KindUpdate, "tx1"},
	}, got)

	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}

	hash, err := txn.ContentHash(txn.Record{ID: "tx0", Status: txn.StatusProcessed})
	require.NoError(t, err)
	assert.Equal(t, hash, entries[0].Hash)
	assert.Empty(t, entries[2].Hash)
}

func TestJournal_SeqContinuesAcrossEngines(t *testing.T) {
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	fa := &fakeAPI{listing: []txn.Record{{ID: "tx1"}}}

	first := New(fa, WithJournal(j))
	require.NoError(t, first.Open(context.Background()))
	require.NoError(t, first.Sync(context.Background()))
	require.NoError(t, first.Close())

	second := New(fa, WithJournal(j))
	require.NoError(t, second.Open(context.Background()))
	require.NoError(t, second.Sync(context.Background()))
	require.NoError(t, second.Close())

	entries, err := j.Read(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(2), entries[1].Seq)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	fa := &fakeAPI{listing: []txn.Record{{ID: "tx0"}}}
	sub := newFakeSub()
	e := openTestEngine(t, fa,
		WithDialer(sub.dialer()),
		WithMetrics(m),
		WithKeyGenerator(idempotency.NewFixedGenerator("k")),
	)

	_, err := e.Submit(context.Background(), "credit", "1", "")
	require.NoError(t, err)
	sub.push("tx1", txn.StatusProcessed)
	waitFor(t, func() bool { return testutil.ToFloat64(m.notifications) == 1 })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("seed", "insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("create", "insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("channel", "update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeSize))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.merged("seed", true, 1)
		m.rejected("channel")
		m.submitted(SubmissionFailed)
		m.notified()
	})
}
