// Package apperr defines the error taxonomy shared by the store, the security
// gate and the protocol server.
//
// Every error that can reach a client is an *Error carrying a Kind and a
// client-safe Message. The wrapped cause (Err) may contain absolute paths or
// OS-level detail and is only ever written to the server log and audit log.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and client reporting.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindSecurity   Kind = "SecurityError"
	KindNotFound   Kind = "NotFoundError"
	KindIO         Kind = "IOError"
	KindProtocol   Kind = "ProtocolError"
	KindTimeout    Kind = "TimeoutError"
	KindInternal   Kind = "InternalError"
)

// Error is the structured error type used across the module.
type Error struct {
	Kind    Kind
	Op      string   // operation that failed, e.g. "store.put"
	Message string   // safe to show to clients
	Details []string // individual validation findings, safe to show to clients
	Err     error    // internal cause, never sent to clients
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Details)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrSecurity   = &Error{Kind: KindSecurity}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrIO         = &Error{Kind: KindIO}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrTimeout    = &Error{Kind: KindTimeout}
)

func Validation(op, msg string, details ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Details: details}
}

func Security(op, msg string, details ...string) *Error {
	return &Error{Kind: KindSecurity, Op: op, Message: msg, Details: details}
}

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

func IO(op, msg string, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Message: msg, Err: cause}
}

func Protocol(op, msg string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: msg}
}

func Timeout(op, msg string) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: msg}
}

func Internal(op, msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: msg, Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ClientMessage returns the message that may be shown to a client for err.
// Errors outside the taxonomy collapse to a generic message.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// ClientDetails returns the client-safe detail list for err, if any.
func ClientDetails(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Retryable reports whether err may be retried automatically.
// Only IO failures qualify; every other kind surfaces on first occurrence.
func Retryable(err error) bool {
	return KindOf(err) == KindIO
}
