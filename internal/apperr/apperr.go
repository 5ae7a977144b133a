// Package apperr is the structured error type shared by every worker and
// store in this module. It exists so a queue handler can classify a
// failure (transient, rate-limited, deferred, ...) without string-matching
// on error text at every call site.
package apperr

import (
	"fmt"
	"net/http"
	"strings"
)

// Type names one branch of the error taxonomy.
type Type string

const (
	// Transient covers network errors, timeouts, and 5xx responses.
	// Retried with exponential backoff up to the queue's max retries.
	Transient Type = "transient"
	// RateLimited is a 429 or a message containing "rate limit".
	// Retried at a fixed +65s delay; does not consume a retry.
	RateLimited Type = "rate_limited"
	// Deferred is a precondition that isn't met yet (catalog row missing,
	// shipment not yet synced). Non-fatal, retried with normal backoff.
	Deferred Type = "deferred"
	// InvalidTransition is a state machine refusal. Never retried.
	InvalidTransition Type = "invalid_transition"
	// ValidationFailure is a session-build race: the shipment moved out of
	// NEEDS_SESSION between read and write. Skipped, not retried.
	ValidationFailure Type = "validation_failure"
	// DeadLetter marks a queue row that exhausted its retries.
	DeadLetter Type = "dead_letter"
	// Fatal aborts process startup (missing config, missing DB extension).
	Fatal Type = "fatal"
)

// statusCodes maps each Type onto an HTTP status. The queue and lifecycle
// workers read it through StatusCode when deciding whether a failure was
// rate limited.
var statusCodes = map[Type]int{
	Transient:         http.StatusBadGateway,
	RateLimited:       http.StatusTooManyRequests,
	Deferred:          http.StatusConflict,
	InvalidTransition: http.StatusUnprocessableEntity,
	ValidationFailure: http.StatusConflict,
	DeadLetter:        http.StatusInternalServerError,
	Fatal:             http.StatusInternalServerError,
}

// Error is the structured error value passed up from every component.
type Error struct {
	Type    Type
	Message string
	Details string
	Cause   error
}

func New(t Type, message string) *Error {
	return &Error{Type: t, Message: message}
}

func Newf(t Type, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

func Wrap(cause error, t Type, message string) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

func Wrapf(cause error, t Type, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func (e *Error) WithDetailsf(format string, args ...any) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Error() string {
	s := string(e.Type) + ": " + e.Message
	if e.Details != "" {
		s += " (" + e.Details + ")"
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) StatusCode() int {
	if code, ok := statusCodes[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Is reports whether err (or any error it wraps) carries Type t.
func Is(err error, t Type) bool {
	for err != nil {
		if a, ok := err.(*Error); ok && a.Type == t {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRateLimited additionally recognizes handlers that didn't bother
// constructing an *Error and only classified the failure by HTTP status or
// message text, for callers that only ever see an error, not a status code.
func IsRateLimited(err error, httpStatus int) bool {
	if Is(err, RateLimited) {
		return true
	}
	if httpStatus == http.StatusTooManyRequests {
		return true
	}
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}
