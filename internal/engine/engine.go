package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/txsync/internal/api"
	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/idempotency"
	"github.com/roach88/txsync/internal/journal"
	"github.com/roach88/txsync/internal/ledger"
	"github.com/roach88/txsync/internal/notify"
	"github.com/roach88/txsync/internal/txn"
)

// Transactions is the Transaction API collaborator.
// Implemented by *api.Client (production) and fakes in tests.
type Transactions interface {
	CreateTransaction(ctx context.Context, req api.CreateRequest, key string) (txn.Record, error)
	TriggerProcessing(ctx context.Context, transactionID string) (api.Ack, error)
	ListTransactions(ctx context.Context) ([]txn.Record, error)
}

// Subscription is a live event channel. Messages is closed when the channel
// goes away, after which Err reports why.
type Subscription interface {
	Messages() <-chan channel.Message
	Err() error
	Close() error
}

// Dialer opens the event channel.
type Dialer func(ctx context.Context) (Subscription, error)

// ChannelDialer returns a Dialer for the WebSocket event channel at url.
func ChannelDialer(url string, opts ...channel.Option) Dialer {
	return func(ctx context.Context) (Subscription, error) {
		conn, err := channel.Dial(ctx, url, opts...)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Journal receives an entry for every applied or rejected merge.
// Implemented by *journal.Journal.
type Journal interface {
	Append(ctx context.Context, e journal.Entry) error
	LastSeq(ctx context.Context) (int64, error)
}

// ErrNotOpen is returned by operations that need the run loop before Open.
var ErrNotOpen = errors.New("engine not open")

// signalBuffer is the per-subscriber channel capacity. Slow subscribers miss
// signals rather than stall the run loop.
const signalBuffer = 64

// SignalKind says what changed.
type SignalKind int

const (
	// SignalStoreChanged is sent after every successful merge.
	SignalStoreChanged SignalKind = iota + 1
	// SignalNotification is sent after a notification entry is appended.
	SignalNotification
	// SignalChannelClosed is sent once when the event channel goes away.
	SignalChannelClosed
)

func (k SignalKind) String() string {
	switch k {
	case SignalStoreChanged:
		return "store_changed"
	case SignalNotification:
		return "notification"
	case SignalChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

// Signal is a change announcement. It carries copies; reading state still
// goes through CurrentTransactions and CurrentNotifications.
type Signal struct {
	Kind          SignalKind
	TransactionID string
	Inserted      bool
	Notification  *notify.Entry
	Err           error
}

// SubmissionState is the terminal state of one submit.
type SubmissionState string

const (
	SubmissionCommitted SubmissionState = "committed"
	SubmissionRejected  SubmissionState = "rejected"
	SubmissionFailed    SubmissionState = "failed"
)

// Outcome reports a submit. Key is the idempotency key that was sent, so a
// caller can show it or retry with it explicitly.
type Outcome struct {
	State    SubmissionState
	Record   txn.Record
	Key      string
	Inserted bool
	Err      error
}

// Engine is the reconciliation engine.
//
// CRITICAL: the store and the notification buffer are only written by the
// run loop goroutine. Every other method either enqueues an event or reads
// a copy under the read lock.
//
// Thread-safety model:
//   - Submit, TriggerProcessing, Sync: safe from any goroutine
//   - Current*, Selected, ChannelErr: safe from any goroutine, return copies
//   - Open, Close: safe from any goroutine; Close is idempotent
type Engine struct {
	api     Transactions
	dial    Dialer
	keys    *idempotency.Field
	journal Journal
	metrics *Metrics
	clock   *Clock
	now     func() time.Time
	limit   int

	queue *eventQueue

	mu       sync.RWMutex
	store    *ledger.Store
	notes    *notify.Buffer
	selected string
	chanErr  error

	subMu   sync.Mutex
	subs    map[int]chan Signal
	nextSub int

	lifecycle sync.Mutex
	opened    atomic.Bool
	closed    atomic.Bool
	sub       Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialer enables the event channel. Without it the engine only sees
// seeded records and its own creates.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// WithKeyGenerator replaces the UUIDv7 idempotency key generator.
func WithKeyGenerator(gen idempotency.Generator) Option {
	return func(e *Engine) { e.keys = idempotency.NewField(gen) }
}

// WithJournal records every merge to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics records engine activity to m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotificationLimit sets the default for CurrentNotifications(0).
func WithNotificationLimit(n int) Option {
	return func(e *Engine) { e.limit = n }
}

// WithNow overrides the wall clock stamped on notifications and journal rows.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over the Transaction API collaborator.
// Call Open before submitting.
func New(client Transactions, opts ...Option) *Engine {
	e := &Engine{
		api:     client,
		keys:    idempotency.NewField(nil),
		clock:   NewClock(),
		now:     time.Now,
		limit:   notify.DefaultLimit,
		queue:   newEventQueue(),
		store:   ledger.New(),
		subs:    make(map[int]chan Signal),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.notes = notify.New(
		notify.WithSequencer(e.clock),
		notify.WithNow(e.now),
		notify.WithDefaultLimit(e.limit),
	)
	return e
}

// Open acquires the event channel, seeds the store from ListTransactions and
// starts the run loop.
//
// The channel is dialed before listing so no update sent after the listing is
// lost; seeded records are queued before any channel message, so a pushed
// update always wins over the listing's copy.
//
// A failed listing is logged and the engine starts empty. A failed dial is
// returned as TRANSPORT_FAILURE and nothing is started.
func (e *Engine) Open(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.closed.Load() {
		return errEngineClosed()
	}
	if e.opened.Load() {
		return errors.New("engine already open")
	}

	if e.journal != nil {
		last, err := e.journal.LastSeq(ctx)
		if err != nil {
			return fmt.Errorf("read journal position: %w", err)
		}
		e.clock.AdvanceTo(last)
	}

	var sub Subscription
	if e.dial != nil {
		s, err := e.dial(ctx)
		if err != nil {
			slog.Error("event channel dial failed", "error", err)
			return &Error{Code: ErrCodeTransportFailure, Message: "dial event channel", Err: err}
		}
		sub = s
	}

	records, err := e.api.ListTransactions(ctx)
	if err != nil {
		slog.Warn("seed listing failed, starting empty", "error", err)
		records = nil
	}

	// The listing is newest first; head insertion restores that order.
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		e.queue.Enqueue(Event{Type: EventTypeSeed, Record: &r})
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.sub = sub

	e.wg.Add(1)
	go e.run(loopCtx)

	if sub != nil {
		e.wg.Add(1)
		go e.pump(loopCtx, sub)
	}

	e.opened.Store(true)
	slog.Info("engine opened", "seeded", len(records), "channel", sub != nil)
	return nil
}

// Close releases the event channel and stops the run loop. Events still
// queued are dropped. Safe to call more than once; later calls return nil.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.lifecycle.Lock()
		defer e.lifecycle.Unlock()

		e.closed.Store(true)
		close(e.done)
		e.queue.Close()

		if e.cancel != nil {
			e.cancel()
		}
		if e.sub != nil {
			err = e.sub.Close()
		}
		e.wg.Wait()
		close(e.stopped)

		e.subMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subMu.Unlock()

		slog.Info("engine closed")
	})
	return err
}

// Sync blocks until every event enqueued before the call has been applied.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	reply := make(chan applyResult, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeBarrier, reply: reply}) {
		return errEngineClosed()
	}

	select {
	case <-reply:
		return nil
	case <-e.done:
		return errEngineClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit creates a transaction.
//
// The idempotency key comes from rawKey when it is non-empty, otherwise from
// a generated key that is reused for as long as rawKey is unchanged. After a
// commit the generated key is adopted into KeyInput.
//
// The returned error is non-nil unless the outcome is committed:
// INVALID_INPUT (nothing sent), SUBMISSION_REJECTED, TRANSPORT_FAILURE,
// MALFORMED_RECORD or ENGINE_CLOSED.
//
// Submit does not abandon the merge when ctx is cancelled mid-flight; a
// response that arrives is still applied unless the engine has closed.
func (e *Engine) Submit(ctx context.Context, typ, amount, rawKey string) (Outcome, error) {
	if err := e.ready(); err != nil {
		return Outcome{}, err
	}

	t, err := txn.ParseType(typ)
	if err != nil {
		return Outcome{}, &Error{Code: ErrCodeInvalidInput, Message: "invalid type", Err: err}
	}
	amt, err := txn.ParseAmount(amount)
	if err != nil {
		return Outcome{}, &Error{Code: ErrCodeInvalidInput, Message: "invalid amount", Err: err}
	}

	key := e.keys.ResolveInput(rawKey)

	slog.Debug("submitting transaction", "type", t, "amount", amt, "key", key)

	rec, err := e.api.CreateTransaction(ctx, api.CreateRequest{Type: t, Amount: amt}, key)
	if err != nil {
		return e.submitFailed(key, err)
	}

	reply := make(chan applyResult, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeCreate, Record: &rec, reply: reply}) {
		return Outcome{Key: key}, errEngineClosed()
	}

	var res applyResult
	select {
	case res = <-reply:
	case <-e.done:
		// The loop may be applying this create; its reply is final once
		// the loop has stopped.
		select {
		case res = <-reply:
		case <-e.stopped:
			select {
			case res = <-reply:
			default:
				return Outcome{Key: key}, errEngineClosed()
			}
		}
	}

	if res.err != nil {
		e.metrics.submitted(SubmissionFailed)
		return Outcome{State: SubmissionFailed, Key: key, Err: res.err}, res.err
	}

	e.keys.Adopt(key)
	e.metrics.submitted(SubmissionCommitted)
	slog.Info("transaction committed",
		"tx_id", res.record.ID,
		"status", res.record.Status,
		"inserted", res.inserted,
	)

	return Outcome{
		State:    SubmissionCommitted,
		Record:   res.record,
		Key:      key,
		Inserted: res.inserted,
	}, nil
}

func (e *Engine) submitFailed(key string, err error) (Outcome, error) {
	var rejected *api.RejectedError
	if errors.As(err, &rejected) {
		slog.Warn("submission rejected", "status_code", rejected.StatusCode, "detail", rejected.Detail)
		e.metrics.submitted(SubmissionRejected)
		serr := &Error{
			Code:    ErrCodeSubmissionRejected,
			Message: "server rejected transaction",
			Detail:  rejected.Detail,
			Err:     err,
		}
		return Outcome{State: SubmissionRejected, Key: key, Err: serr}, serr
	}

	slog.Warn("submission failed", "error", err)
	e.metrics.submitted(SubmissionFailed)
	serr := &Error{Code: ErrCodeTransportFailure, Message: "create transaction", Err: err}
	return Outcome{State: SubmissionFailed, Key: key, Err: serr}, serr
}

// TriggerProcessing asks the server to process a transaction. An empty id
// targets the selected transaction. The result arrives later as a channel
// update; the returned Ack only says the request was queued.
func (e *Engine) TriggerProcessing(ctx context.Context, id string) (api.Ack, error) {
	if e.closed.Load() {
		return api.Ack{}, errEngineClosed()
	}

	if id == "" {
		e.mu.RLock()
		id = e.selected
		e.mu.RUnlock()
	}
	if id == "" {
		return api.Ack{}, &Error{Code: ErrCodeNoSelection, Message: "no transaction selected"}
	}

	ack, err := e.api.TriggerProcessing(ctx, id)
	if err != nil {
		var rejected *api.RejectedError
		if errors.As(err, &rejected) {
			return api.Ack{}, &Error{
				Code:          ErrCodeSubmissionRejected,
				Message:       "server rejected processing request",
				TransactionID: id,
				Detail:        rejected.Detail,
				Err:           err,
			}
		}
		return api.Ack{}, &Error{
			Code:          ErrCodeTransportFailure,
			Message:       "trigger processing",
			TransactionID: id,
			Err:           err,
		}
	}

	slog.Info("processing requested", "tx_id", id, "ack", ack.Status)
	return ack, nil
}

// Select makes id the selected transaction. It reports false, leaving the
// selection unchanged, when id is not in the store. An empty id clears it.
func (e *Engine) Select(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == "" {
		e.selected = ""
		return true
	}
	if _, ok := e.store.Get(id); !ok {
		return false
	}
	e.selected = id
	return true
}

// Selected returns the current state of the selected transaction.
func (e *Engine) Selected() (txn.Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.selected == "" {
		return txn.Record{}, false
	}
	return e.store.Get(e.selected)
}

// KeyInput is the caller-visible idempotency key field, including a key
// adopted after the last commit.
func (e *Engine) KeyInput() string {
	return e.keys.Value()
}

// CurrentTransactions returns a copy of the store, most recent first.
func (e *Engine) CurrentTransactions() []txn.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot()
}

// CurrentNotifications returns up to limit entries, most recent first.
// A limit <= 0 uses the configured default.
func (e *Engine) CurrentNotifications(limit int) []notify.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notes.Visible(limit)
}

// ChannelErr returns the CHANNEL_CLOSED error once the event channel has gone
// away, or nil while it is live.
func (e *Engine) ChannelErr() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chanErr
}

// Subscribe registers for change signals. The returned function unsubscribes
// and closes the channel; the channel is also closed by Close.
func (e *Engine) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, signalBuffer)

	e.subMu.Lock()
	defer e.subMu.Unlock()

	if e.closed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) ready() error {
	if e.closed.Load() {
		return errEngineClosed()
	}
	if !e.opened.Load() {
		return ErrNotOpen
	}
	return nil
}

// run is the single-writer loop.
// CRITICAL: exactly one run goroutine exists per engine.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.apply(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case _, open := <-e.queue.Wait():
			if !open {
				return
			}
		}
	}
}

// pump forwards channel messages to the queue in arrival order.
func (e *Engine) pump(ctx context.Context, sub Subscription) {
	defer e.wg.Done()

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				e.queue.Enqueue(Event{Type: EventTypeChannelClosed, Err: sub.Err()})
				return
			}
			e.queue.Enqueue(Event{Type: EventTypeChannel, Message: &msg})
		}
	}
}

// apply routes one event. Called only from run.
func (e *Engine) apply(ctx context.Context, event Event) {
	var res applyResult

	switch event.Type {
	case EventTypeSeed:
		res = e.merge(ctx, journal.SourceSeed, *event.Record)
	case EventTypeCreate:
		res = e.merge(ctx, journal.SourceCreate, *event.Record)
	case EventTypeChannel:
		e.applyMessage(ctx, *event.Message)
	case EventTypeChannelClosed:
		e.channelClosed(event.Err)
	case EventTypeBarrier:
	default:
		slog.Error("unknown event type", "type", int(event.Type))
	}

	if event.reply != nil {
		event.reply <- res
	}
}

func (e *Engine) applyMessage(ctx context.Context, msg channel.Message) {
	if msg.Event != channel.EventTransactionUpdated {
		slog.Debug("ignoring channel event", "event", msg.Event)
		return
	}

	var r txn.Record
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		slog.Warn("malformed record rejected",
			"source", journal.SourceChannel,
			"error", err,
		)
		e.metrics.rejected(string(journal.SourceChannel))
		e.appendJournal(ctx, journal.Entry{
			Source:  journal.SourceChannel,
			Kind:    journal.KindMalformed,
			Payload: string(msg.Data),
		})
		return
	}

	e.merge(ctx, journal.SourceChannel, r)
}

// merge applies r to the store. Channel merges also append a notification,
// and create merges select the record; both happen under the same lock as
// the store change.
func (e *Engine) merge(ctx context.Context, source journal.Source, r txn.Record) applyResult {
	e.mu.Lock()
	inserted, err := e.store.Merge(r)
	if err != nil {
		e.mu.Unlock()

		slog.Warn("malformed record rejected", "source", source, "error", err)
		e.metrics.rejected(string(source))
		e.appendJournal(ctx, journalEntry(source, journal.KindMalformed, r))
		return applyResult{err: newMalformedError(err)}
	}

	var note *notify.Entry
	switch source {
	case journal.SourceCreate:
		e.selected = r.ID
	case journal.SourceChannel:
		n := e.notes.Append(r.ID, r.Status)
		note = &n
	}
	size := e.store.Len()
	e.mu.Unlock()

	kind := journal.KindUpdate
	if inserted {
		kind = journal.KindInsert
	}

	slog.Debug("record merged",
		"tx_id", r.ID,
		"status", r.Status,
		"source", source,
		"kind", kind,
	)

	e.metrics.merged(string(source), inserted, size)
	e.appendJournal(ctx, journalEntry(source, kind, r))

	e.broadcast(Signal{Kind: SignalStoreChanged, TransactionID: r.ID, Inserted: inserted})
	if note != nil {
		e.metrics.notified()
		e.broadcast(Signal{Kind: SignalNotification, TransactionID: r.ID, Notification: note})
	}

	return applyResult{record: r.Clone(), inserted: inserted}
}

func (e *Engine) channelClosed(cause error) {
	cerr := &Error{Code: ErrCodeChannelClosed, Message: "event channel closed", Err: cause}

	e.mu.Lock()
	e.chanErr = cerr
	e.mu.Unlock()

	slog.Warn("event channel closed", "error", cause)
	e.broadcast(Signal{Kind: SignalChannelClosed, Err: cerr})
}

func journalEntry(source journal.Source, kind journal.Kind, r txn.Record) journal.Entry {
	entry := journal.Entry{
		Source:        source,
		Kind:          kind,
		TransactionID: r.ID,
		Status:        string(r.Status),
	}
	if payload, err := txn.MarshalCanonical(r); err == nil {
		entry.Payload = string(payload)
	}
	if kind != journal.KindMalformed {
		if hash, err := txn.ContentHash(r); err == nil {
			entry.Hash = hash
		}
	}
	return entry
}

// appendJournal stamps and writes entry. Journal failures are logged and
// never block the merge that produced them.
func (e *Engine) appendJournal(ctx context.Context, entry journal.Entry) {
	if e.journal == nil {
		return
	}

	entry.Seq = e.clock.Next()
	entry.At = e.now().UTC()

	if err := e.journal.Append(ctx, entry); err != nil {
		slog.Error("journal append failed",
			"seq", entry.Seq,
			"tx_id", entry.TransactionID,
			"error", err,
		)
	}
}

func (e *Engine) broadcast(sig Signal) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- sig:
		default:
			slog.Debug("subscriber full, signal dropped", "kind", sig.Kind.String())
		}
	}
}
