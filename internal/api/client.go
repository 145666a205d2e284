// Package api is the HTTP client for the Transaction API.
//
// Endpoints:
//
//	POST {base}/transactions/create          {"type","amount"} + Idempotency-Key header
//	POST {base}/transactions/async-process   {"transaction_id"}
//	GET  {base}/transactions/
//
// The idempotency key travels only as a header; the body never carries it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/txsync/internal/txn"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// CreateRequest is the create body.
type CreateRequest struct {
	Type   txn.Type `json:"type"`
	Amount string   `json:"amount"`
}

// Ack is the async-process acknowledgement. Its only content is the queue
// status; the processing outcome arrives later over the event channel.
type Ack struct {
	Status string `json:"status"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets a per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// Client talks to one Transaction API base URL.
//
// Thread-safety: safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// CreateTransaction submits a create. The key is sent as a header when
// non-empty.
//
// Returns *RejectedError when the server answered with a structured error
// and *TransportError when no usable answer arrived.
func (c *Client) CreateTransaction(ctx context.Context, req CreateRequest, key string) (txn.Record, error) {
	const op = "create transaction"

	headers := http.Header{}
	if key != "" {
		headers.Set(HeaderIdempotencyKey, key)
	}
	status, body, err := c.do(ctx, http.MethodPost, "/transactions/create", req, headers)
	if err != nil {
		return txn.Record{}, &TransportError{Op: op, Err: err}
	}
	if status >= 500 {
		return txn.Record{}, &TransportError{Op: op, StatusCode: status}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if status >= 400 {
			return txn.Record{}, &RejectedError{StatusCode: status, Detail: strings.TrimSpace(string(body))}
		}
		return txn.Record{}, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", errOrNotObject(err))}
	}

	// An error-shaped body is a rejection regardless of status code.
	if raw, ok := fields["detail"]; ok {
		return txn.Record{}, &RejectedError{StatusCode: status, Detail: detailText(raw)}
	}
	if status >= 400 {
		return txn.Record{}, &RejectedError{StatusCode: status, Detail: compact(body)}
	}

	var rec txn.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return txn.Record{}, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode record: %w", err)}
	}
	return rec, nil
}

// TriggerProcessing asks the server to process a transaction asynchronously.
func (c *Client) TriggerProcessing(ctx context.Context, transactionID string) (Ack, error) {
	const op = "trigger processing"

	status, body, err := c.do(ctx, http.MethodPost, "/transactions/async-process",
		map[string]string{"transaction_id": transactionID}, nil)
	if err != nil {
		return Ack{}, &TransportError{Op: op, Err: err}
	}
	if status >= 500 {
		return Ack{}, &TransportError{Op: op, StatusCode: status}
	}
	if status >= 400 {
		return Ack{}, rejectionFrom(status, body)
	}

	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return Ack{}, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode ack: %w", err)}
	}
	return ack, nil
}

// ListTransactions returns the server's recent transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context) ([]txn.Record, error) {
	const op = "list transactions"

	status, body, err := c.do(ctx, http.MethodGet, "/transactions/", nil, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if status >= 500 {
		return nil, &TransportError{Op: op, StatusCode: status}
	}
	if status >= 400 {
		return nil, rejectionFrom(status, body)
	}

	var records []txn.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode list: %w", err)}
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers http.Header) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func rejectionFrom(status int, body []byte) *RejectedError {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if raw, ok := fields["detail"]; ok {
			return &RejectedError{StatusCode: status, Detail: detailText(raw)}
		}
	}
	return &RejectedError{StatusCode: status, Detail: compact(body)}
}

// detailText unwraps a JSON string detail; any other shape is kept as JSON.
func detailText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return compact(raw)
}

func compact(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return strings.TrimSpace(string(body))
	}
	return buf.String()
}

func errOrNotObject(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("response is not a JSON object")
}
