package api

import (
	"errors"
	"fmt"
	"net/http"
)

// RejectedError is a structured refusal from the server, e.g. an idempotency
// key reused with a different payload (409) or a validation failure (400).
// Detail is surfaced to the caller verbatim.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d %s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
}

// TransportError means no usable answer was received: the request failed,
// the server errored (5xx), or the body could not be decoded.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
