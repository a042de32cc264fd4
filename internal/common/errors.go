// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Code is the error taxonomy surfaced to callers of the reconciliation API.
type Code string

const (
	// CodeInvalidArgument marks a missing or malformed field. Always raised
	// before any mutation.
	CodeInvalidArgument Code = "invalid-argument"
	// CodeNotFound marks a referenced entity that does not exist.
	CodeNotFound Code = "not-found"
	// CodePermissionDenied marks an entity owned by another user.
	CodePermissionDenied Code = "permission-denied"
	// CodeFailedPrecondition marks a valid request blocked by a business rule.
	CodeFailedPrecondition Code = "failed-precondition"
	// CodeInternal marks unexpected failures including store errors.
	CodeInternal Code = "internal"
)

// Store and concurrency errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrConflict       = errors.New("version conflict")
	ErrBatchTooLarge  = errors.New("batch exceeds operation limit")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error is an error carrying a taxonomy code.
type Error struct {
	Err     error
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, &common.Error{Code: common.CodeNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// NewError creates a coded error.
func NewError(code Code, err error, format string, args ...any) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// InvalidArgument creates an invalid-argument error.
func InvalidArgument(format string, args ...any) error {
	return NewError(CodeInvalidArgument, nil, format, args...)
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) error {
	return NewError(CodeNotFound, nil, format, args...)
}

// PermissionDenied creates a permission-denied error.
func PermissionDenied(format string, args ...any) error {
	return NewError(CodePermissionDenied, nil, format, args...)
}

// FailedPrecondition creates a failed-precondition error.
func FailedPrecondition(format string, args ...any) error {
	return NewError(CodeFailedPrecondition, nil, format, args...)
}

// Internal wraps an unexpected error.
func Internal(err error, format string, args ...any) error {
	return NewError(CodeInternal, err, format, args...)
}

// CodeOf returns the taxonomy code of err. Uncoded errors are internal,
// except store lookups that failed with ErrNotFound.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
