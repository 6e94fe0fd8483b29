package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the retrieval core.
type ErrorCode string

const (
	// ErrNotFound indicates a missing entity, relationship or knowledge base id.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrValidation indicates a rejected request: dimension mismatch, empty
	// knowledge base selection, malformed metadata filter.
	ErrValidation ErrorCode = "VALIDATION"

	// ErrUpstream indicates a failed embedding, LLM or store call.
	ErrUpstream ErrorCode = "UPSTREAM_ERROR"

	// ErrTimeout indicates an upstream call that exceeded its deadline.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrConfiguration indicates an unusable setup: no retrievers configured,
	// decomposition resource unavailable, dangling entity reference.
	ErrConfiguration ErrorCode = "CONFIGURATION"
)

// Error represents a structured error with code, message, and metadata.
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
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
