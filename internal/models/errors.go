package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the sync engine. Handlers map kinds
// to HTTP status codes; the executor maps them to state transitions.
type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "validation"          // Bad input (duplicate name, bad interval)
	ErrorKindNotFound           ErrorKind = "not_found"           // Unknown profile
	ErrorKindConflict           ErrorKind = "conflict"            // Claim failed, profile already busy
	ErrorKindSessionExpired     ErrorKind = "session_expired"     // Credentials rejected by the target site
	ErrorKindNetwork            ErrorKind = "network"             // Transient I/O failure, retried
	ErrorKindDownstreamRejected ErrorKind = "downstream_rejected" // Downstream refused the token (bad connection token)
	ErrorKindUnexpectedState    ErrorKind = "unexpected_state"    // Page rendered but no token and no login form
	ErrorKindUnauthorized       ErrorKind = "unauthorized"        // Missing or invalid caller credentials
	ErrorKindInternal           ErrorKind = "internal"
)

// Error carries a classification alongside the message. Wrap with %w as
// usual; IsKind walks the chain.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewValidationError(format string, args ...interface{}) *Error {
	return NewError(ErrorKindValidation, format, args...)
}

func NewNotFoundError(format string, args ...interface{}) *Error {
	return NewError(ErrorKindNotFound, format, args...)
}

func NewConflictError(format string, args ...interface{}) *Error {
	return NewError(ErrorKindConflict, format, args...)
}

// IsKind reports whether err (or anything it wraps) carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the classification from an error chain, defaulting to
// internal for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}

// Retryable reports whether a failure is transient and worth another
// attempt in place. Rejections and bad input are not.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindNetwork, ErrorKindUnexpectedState:
		return true
	}
	return false
}
