// Package errors provides the unified error type used across the server
// core: a small set of named codes plus structured metadata, propagated
// the way the scheduler and transport layers need in order to decide what
// to log, what to suppress, and what to surface to a client.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure so callers can branch on it without
// string matching.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	ConfigInvalid
	ModelLoadFailed
	PoolExhausted
	InferenceFailed
	DetectorFailed
	ProtocolMisuse
)

func (c ErrorCode) String() string {
	switch c {
	case ConfigInvalid:
		return "CONFIG_INVALID"
	case ModelLoadFailed:
		return "MODEL_LOAD_FAILED"
	case PoolExhausted:
		return "POOL_EXHAUSTED"
	case InferenceFailed:
		return "INFERENCE_FAILED"
	case DetectorFailed:
		return "DETECTOR_FAILED"
	case ProtocolMisuse:
		return "PROTOCOL_MISUSE"
	default:
		return "UNKNOWN"
	}
}

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata attaches a key/value pair to an AppError, returning it for
// chaining.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// IsCode reports whether err is an *AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or Unknown if err is not an
// *AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}
