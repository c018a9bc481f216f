package errors

import (
	"errors"
	"fmt"
)

// Error represents a typed, recoverable domain error.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wraps of a
// sentinel still match it with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, retryable bool, message string) *Error {
	return &Error{Code: code, Retryable: retryable, Message: message}
}

// Wrap attaches context to an existing error using the sentinel's code.
func Wrap(err error, sentinel *Error, message string) *Error {
	if message == "" {
		message = sentinel.Message
	}
	return &Error{Code: sentinel.Code, Retryable: sentinel.Retryable, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrValidation  = New("VALIDATION_ERROR", false, "validation failed")
	ErrIO          = New("IO_ERROR", true, "storage unavailable, try again")
	ErrParse       = New("PARSE_ERROR", false, "malformed snapshot")
	ErrLookup      = New("LOOKUP_ERROR", false, "selected student no longer exists")
	ErrNotFound    = New("NOT_FOUND", false, "resource not found")
	ErrNoSavePath  = New("NO_SAVE_PATH", false, "no save path, use save as first")
	ErrUnsupported = New("UNSUPPORTED", false, "operation not supported by the storage backend")
	ErrInternal    = New("INTERNAL_ERROR", false, "internal error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal, "")
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
