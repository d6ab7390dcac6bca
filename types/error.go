package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrTransient covers network, timeout and rate-limit failures that
	// are retryable by default.
	ErrTransient ErrorCode = "TRANSIENT"
	// ErrFatal marks errors that must never be retried.
	ErrFatal ErrorCode = "FATAL"
	// ErrCircuitOpen is raised when a breaker rejects a call without
	// invoking the protected operation. Always fatal to the retry loop.
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrElementNotFound means no locator could be produced for a
	// description.
	ErrElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	// ErrAmbiguousSelector means a selector resolved to more than one
	// element.
	ErrAmbiguousSelector ErrorCode = "AMBIGUOUS_SELECTOR"
	// ErrValidation covers malformed LLM JSON and missing required plan
	// fields.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrRecursionLimit means the DOM↔perceptual fallback cycle bound was
	// exceeded.
	ErrRecursionLimit ErrorCode = "RECURSION_LIMIT"
)

// Error is a structured error with a code and retryability flag.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == ErrTransient}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryability flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error carries an explicit retryable marker,
// anywhere in its wrap chain.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error is explicitly non-retryable, anywhere in its
// wrap chain.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrFatal || e.Code == ErrCircuitOpen
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as
// needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
