// Package channel is the client for the server's push Event Channel.
//
// The channel is a single WebSocket carrying JSON text frames of the form
// {"event": "...", "data": {...}}. A read goroutine decodes frames onto a
// buffered Go channel that is closed when the socket drops. There is no
// reconnection: a dropped channel stays dropped and Err reports why.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventTransactionUpdated is the only event kind the reconciliation core
// acts on. Other kinds are delivered but ignored by consumers.
const EventTransactionUpdated = "transaction.updated"

// Path is the server's transaction channel endpoint.
const Path = "/ws/transactions/"

// ErrClosed is reported by Err after a local Close.
var ErrClosed = errors.New("channel closed by client")

// Message is one decoded frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DisconnectError reports that the server side went away.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("event channel disconnected: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

// URLFromBase derives the channel URL from the Transaction API base URL:
// http becomes ws, https becomes wss, and Path is appended.
func URLFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("base url %q: unsupported scheme %q", base, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + Path
	u.RawQuery = ""
	return u.String(), nil
}

type options struct {
	handshakeTimeout time.Duration
	buffer           int
}

// Option configures Dial.
type Option func(*options)

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithBuffer sets how many decoded messages may wait for the consumer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.buffer = n
		}
	}
}

// Conn is an open Event Channel subscription.
//
// Thread-safety: Messages, Err and Close are safe for concurrent use.
type Conn struct {
	ws   *websocket.Conn
	msgs chan Message
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial opens the channel at rawURL.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	o := options{handshakeTimeout: 5 * time.Second, buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial event channel %s: %w", rawURL, err)
	}

	c := &Conn{
		ws:   ws,
		msgs: make(chan Message, o.buffer),
		done: make(chan struct{}),
	}
	go c.readLoop()

	slog.Debug("event channel connected", "url", rawURL)
	return c, nil
}

// Messages returns decoded frames in delivery order. The channel closes when
// the connection ends for any reason.
func (c *Conn) Messages() <-chan Message {
	return c.msgs
}

// Err returns why the connection ended: ErrClosed after Close, a
// *DisconnectError when the server side dropped, nil while open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setErr(ErrClosed)
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) readLoop() {
	defer close(c.msgs)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(&DisconnectError{Err: err})
			select {
			case <-c.done:
			default:
				slog.Warn("event channel disconnected", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("event channel: dropping undecodable frame", "error", err, "bytes", len(data))
			continue
		}

		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}
