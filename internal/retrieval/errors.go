package retrieval

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier for a query failure.
type ErrorCode string

const (
	// CodeQueryTimeout indicates the query deadline passed between phases.
	CodeQueryTimeout ErrorCode = "QUERY_TIMEOUT"
	// CodeStoreUnavailable indicates the store could not be read.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// CodeInvalidTask indicates the task cannot be served as given.
	CodeInvalidTask ErrorCode = "INVALID_TASK"
)

// ErrQueryTimeout matches every timeout Error via errors.Is.
var ErrQueryTimeout = errors.New("query timed out")

// Error is a typed query failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Phase is the last phase that completed before the failure, if any.
	Phase string `json:"phase,omitempty"`

	cause error
}

// NewError creates an Error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes timeout errors match ErrQueryTimeout.
func (e *Error) Is(target error) bool {
	return target == ErrQueryTimeout && e.Code == CodeQueryTimeout
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrQueryTimeout)
}

// CodeOf returns the code of a typed error, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
