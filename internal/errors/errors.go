// Package errors defines the failure taxonomy shared by the sync engine:
// transport failures, server rejections, missing entities and local store
// failures. Callers branch on the code, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code categorizes an AppError.
type Code string

const (
	// CodeTransport means no response reached us (network error, timeout,
	// remote temporarily unreachable).
	CodeTransport Code = "TRANSPORT_FAILURE"
	// CodeRejected means the server answered with a non-success status.
	CodeRejected Code = "REJECTED"
	// CodeNotFound means the entity is absent both remotely and locally.
	CodeNotFound Code = "NOT_FOUND"
	// CodeLocalStore means a persistence I/O error. Fatal to the current
	// operation, not to the process.
	CodeLocalStore Code = "LOCAL_STORE_FAILURE"
	// CodeInvalidInput is returned for malformed caller input.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeInternal is the fallback for errors that carry no code.
	CodeInternal Code = "INTERNAL"
)

// AppError is a categorized error with optional cause and context.
type AppError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]any
	Retryable  bool
	StatusCode int // HTTP status for rejections, 0 otherwise
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code, so
// errors.Is(err, errors.New(CodeNotFound, "")) works through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an AppError without a cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// Transport wraps a transport-level failure. Always retryable.
func Transport(err error, message string) *AppError {
	return &AppError{Code: CodeTransport, Message: message, Cause: err, Retryable: true}
}

// Rejected builds a server rejection for the given HTTP status.
func Rejected(statusCode int, message string) *AppError {
	return &AppError{
		Code:       CodeRejected,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  statusCode >= 500 || statusCode == 429 || statusCode == 408,
	}
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity string, id any) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s %v not found", entity, id)).WithContext("id", id)
}

// LocalStore wraps a persistence failure. Returns nil for a nil err so it
// can wrap store calls inline.
func LocalStore(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: CodeLocalStore, Message: message, Cause: err}
}

// InvalidInput builds a validation error.
func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// GetCode extracts the code from err, looking through wrapping.
func GetCode(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

func IsTransport(err error) bool  { return err != nil && GetCode(err) == CodeTransport }
func IsRejected(err error) bool   { return err != nil && GetCode(err) == CodeRejected }
func IsNotFound(err error) bool   { return err != nil && GetCode(err) == CodeNotFound }
func IsLocalStore(err error) bool { return err != nil && GetCode(err) == CodeLocalStore }
