package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeRateLimit represents rate limiting / blocking errors (HTTP 403, 429)
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeNotFound represents searches with no acceptable match
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeNetwork represents network-related errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeTool represents failures to start the external download tool
	ErrTypeTool ErrorType = "tool"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewToolError creates a new error for a download tool that could not run
func NewToolError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTool,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// signatures maps lower-cased fragments of tool output to an error type.
// Order matters: the first matching group wins.
var signatures = []struct {
	typ       ErrorType
	fragments []string
}{
	{ErrTypeRateLimit, []string{"http error 403", "http error 429", "too many requests", "forbidden", "rate-limited", "rate limited"}},
	{ErrTypeNotFound, []string{"no video results", "does not pass filter", "matches reject pattern", "video unavailable", "no matching"}},
	{ErrTypeFileSystem, []string{"permission denied", "no space left", "read-only file system"}},
	{ErrTypeTool, []string{"executable file not found", "no such file or directory"}},
	{ErrTypeNetwork, []string{"unable to download webpage", "connection reset", "timed out", "name resolution"}},
}

// Classify inspects a failure message from the download tool and returns its type
func Classify(message string) ErrorType {
	lower := strings.ToLower(message)
	if lower == "" {
		return ErrTypeUnknown
	}
	for _, sig := range signatures {
		for _, f := range sig.fragments {
			if strings.Contains(lower, f) {
				return sig.typ
			}
		}
	}
	return ErrTypeUnknown
}

// FromMessage wraps a failure message in an AppError of the classified type
func FromMessage(message string) *AppError {
	typ := Classify(message)
	return &AppError{
		Type:      typ,
		Message:   message,
		Retryable: typ == ErrTypeRateLimit || typ == ErrTypeNetwork || typ == ErrTypeFileSystem,
	}
}
