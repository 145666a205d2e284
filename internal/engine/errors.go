package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeMalformedRecord: a merge input had no identity. Nothing was applied.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"

	// ErrCodeSubmissionRejected: the server refused the create with a
	// structured error. Detail carries the server's text verbatim.
	ErrCodeSubmissionRejected ErrorCode = "SUBMISSION_REJECTED"

	// ErrCodeTransportFailure: no usable answer from the server. Retrying
	// with the same key input is safe.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeChannelClosed: the event channel disconnected. The engine does
	// not reconnect.
	ErrCodeChannelClosed ErrorCode = "CHANNEL_CLOSED"

	// ErrCodeEngineClosed: the engine was torn down.
	ErrCodeEngineClosed ErrorCode = "ENGINE_CLOSED"

	// ErrCodeInvalidInput: the caller's type or amount was rejected locally
	// before any request was made.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeNoSelection: processing was requested with no transaction id
	// and nothing selected.
	ErrCodeNoSelection ErrorCode = "NO_SELECTION"
)

// Error is the engine's error type.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TransactionID identifies the affected transaction, when known.
	TransactionID string

	// Detail is the server's error text for SUBMISSION_REJECTED.
	Detail string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TransactionID != "" {
		msg += fmt.Sprintf(" (tx=%s)", e.TransactionID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an *Error anywhere in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsMalformed reports whether err is a MALFORMED_RECORD error.
func IsMalformed(err error) bool { return CodeOf(err) == ErrCodeMalformedRecord }

// IsRejected reports whether err is a SUBMISSION_REJECTED error.
func IsRejected(err error) bool { return CodeOf(err) == ErrCodeSubmissionRejected }

// IsTransport reports whether err is a TRANSPORT_FAILURE error.
func IsTransport(err error) bool { return CodeOf(err) == ErrCodeTransportFailure }

// IsChannelClosed reports whether err is a CHANNEL_CLOSED error.
func IsChannelClosed(err error) bool { return CodeOf(err) == ErrCodeChannelClosed }

// IsEngineClosed reports whether err is an ENGINE_CLOSED error.
func IsEngineClosed(err error) bool { return CodeOf(err) == ErrCodeEngineClosed }

// IsInvalidInput reports whether err is an INVALID_INPUT error.
func IsInvalidInput(err error) bool { return CodeOf(err) == ErrCodeInvalidInput }

func errEngineClosed() *Error {
	return &Error{Code: ErrCodeEngineClosed, Message: "engine is closed"}
}

func newMalformedError(err error) *Error {
	return &Error{Code: ErrCodeMalformedRecord, Message: "record rejected", Err: err}
}
