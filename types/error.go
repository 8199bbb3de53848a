package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the editor.
type ErrorCode string

// Graph editing error codes
const (
	ErrInvalidConnection ErrorCode = "INVALID_CONNECTION"
	ErrUnknownKind       ErrorCode = "UNKNOWN_KIND"
	ErrCorruptDocument   ErrorCode = "CORRUPT_DOCUMENT"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidPosition   ErrorCode = "INVALID_POSITION"
	ErrInvalidNodeData   ErrorCode = "INVALID_NODE_DATA"
)

// Interaction error codes
const (
	ErrCanvasNotReady    ErrorCode = "CANVAS_NOT_READY"
	ErrGestureInProgress ErrorCode = "GESTURE_IN_PROGRESS"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Service error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Cause      error     `json:"-"`
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// WrapError converts an arbitrary error into a *Error, keeping an existing code.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}
