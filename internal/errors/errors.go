// Package errors provides the error taxonomy of the pipeline.
// Every failure that reaches the scheduler is either an AppError or wraps one,
// so callers can branch on the code without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Configuration creates an error for invalid or missing configuration.
func Configuration(format string, args ...any) *AppError {
	return New(ErrCodeConfiguration, fmt.Sprintf(format, args...))
}

// Build creates an error for a failed toolchain invocation.
func Build(step string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeBuild, Message: fmt.Sprintf("%s failed", step),
		Details: map[string]any{"step": step}, Cause: cause,
	}
}

// Authentication creates an error for a failed key decode or session open.
func Authentication(host string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeAuthentication, Message: fmt.Sprintf("cannot authenticate to %s", host),
		Details: map[string]any{"host": host}, Cause: cause,
	}
}

// Transfer creates an error for a failed upload.
func Transfer(local, remote string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTransfer, Message: fmt.Sprintf("upload %s to %s failed", local, remote),
		Details: map[string]any{"local": local, "remote": remote}, Cause: cause,
	}
}

// RemoteCommand creates an error for a remote command that did not exit zero.
func RemoteCommand(command string, exitCode int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeRemoteCommand, Message: fmt.Sprintf("remote command %q exited %d", command, exitCode),
		Details: map[string]any{"command": command, "exit_code": exitCode}, Cause: cause,
	}
}

// Internal creates an error for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: "unexpected error", Cause: cause}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
