package model

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType classifies provider failures for the gateway's retry and
// fallback decisions.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting (HTTP 429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeOverloaded represents a provider-signalled overload condition.
	ErrorTypeOverloaded
	// ErrorTypeTransient represents 5xx responses and recognized network
	// faults (EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypePermanent represents everything else: auth failures, bad
	// requests, unknown models. Never retried in place; the gateway
	// advances to the next fallback immediately.
	ErrorTypePermanent
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeOverloaded:
		return "overloaded"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	default:
		return "invalid"
	}
}

// Retryable reports whether failures of this type should be retried
// against the same model before falling back.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeOverloaded, ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// Error is a classified provider error with retry metadata. RetryAfter,
// when non-zero, is a provider hint that overrides the gateway's
// computed backoff delay.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("provider error (%s)", e.Type)
}

// Unwrap returns the wrapped underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error without an underlying cause.
func NewError(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// WrapError classifies an underlying error.
func WrapError(t ErrorType, err error) *Error {
	return &Error{Type: t, Err: err}
}

// ClassifyStatus maps an HTTP status code to an error type.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 529: // Anthropic "overloaded_error"
		return ErrorTypeOverloaded
	case status >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// Classify derives the error type of an arbitrary error: classified
// *Error values keep their type, network faults count as transient,
// everything else is permanent.
func Classify(err error) ErrorType {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type
	}
	if isNetworkFault(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// RetryAfterHint extracts a provider retry-after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}

// isNetworkFault recognizes transport level failures worth retrying.
func isNetworkFault(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected EOF",
		"i/o timeout",
		"TLS handshake timeout",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
