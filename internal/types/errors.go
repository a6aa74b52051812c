package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for Aegis framework errors.
type ErrorCode string

// Submission and validation error codes
const (
	VALIDATION_FAILED  ErrorCode = "VALIDATION_FAILED"
	WORKFLOW_NOT_FOUND ErrorCode = "WORKFLOW_NOT_FOUND"
	WORKFLOW_TERMINAL  ErrorCode = "WORKFLOW_TERMINAL"
)

// Planning error codes
const (
	PLANNER_OUTPUT_MALFORMED ErrorCode = "PLANNER_OUTPUT_MALFORMED"
	PLANNER_UNAVAILABLE      ErrorCode = "PLANNER_UNAVAILABLE"
	RECOMMENDATION_UNSAFE    ErrorCode = "RECOMMENDATION_UNSAFE"
)

// Execution error codes
const (
	CAPABILITY_TIMEOUT     ErrorCode = "CAPABILITY_TIMEOUT"
	CAPABILITY_UNAVAILABLE ErrorCode = "CAPABILITY_UNAVAILABLE"
	CAPABILITY_NOT_FOUND   ErrorCode = "CAPABILITY_NOT_FOUND"
	SANDBOX_FAILED         ErrorCode = "SANDBOX_FAILED"
)

// Audit and persistence error codes
const (
	AUDIT_NO_DECISIONS  ErrorCode = "AUDIT_NO_DECISIONS"
	DECISION_NOT_FOUND  ErrorCode = "DECISION_NOT_FOUND"
	PERSISTENCE_FAILED  ErrorCode = "PERSISTENCE_FAILED"
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// AegisError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type AegisError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *AegisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *AegisError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is an AegisError with the same Code.
func (e *AegisError) Is(target error) bool {
	var aegisErr *AegisError
	if errors.As(target, &aegisErr) {
		return e.Code == aegisErr.Code
	}
	return false
}

// NewError creates a new non-retryable AegisError with the given code and message.
func NewError(code ErrorCode, message string) *AegisError {
	return &AegisError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable AegisError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., sandbox restarts).
func NewRetryableError(code ErrorCode, message string) *AegisError {
	return &AegisError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable AegisError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *AegisError {
	return &AegisError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsRetryable checks if an error is an AegisError marked as retryable.
func IsRetryable(err error) bool {
	var aegisErr *AegisError
	if errors.As(err, &aegisErr) {
		return aegisErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns an empty code if no AegisError is present.
func CodeOf(err error) ErrorCode {
	var aegisErr *AegisError
	if errors.As(err, &aegisErr) {
		return aegisErr.Code
	}
	return ""
}
