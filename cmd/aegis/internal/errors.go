package internal

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Exit code constants for the CLI
const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitError indicates a general error
	ExitError = 1
	// ExitCriticalFindings indicates critical security findings were discovered
	ExitCriticalFindings = 2
	// ExitTimeout indicates the operation timed out
	ExitTimeout = 3
	// ExitCancelled indicates the operation was cancelled
	ExitCancelled = 4
	// ExitConfigError indicates a configuration error
	ExitConfigError = 10
	// ExitDatabaseError indicates a database error
	ExitDatabaseError = 12
)

// CLIError carries an exit code alongside the underlying error.
type CLIError struct {
	Code  int
	Cause error
}

func (e *CLIError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "command failed"
}

func (e *CLIError) Unwrap() error {
	return e.Cause
}

// NewCLIError wraps an error with an explicit exit code.
func NewCLIError(code int, cause error) *CLIError {
	return &CLIError{Code: code, Cause: cause}
}

// HandleError prints the error and maps it to an exit code.
func HandleError(cmd *cobra.Command, err error) int {
	if err == nil {
		return ExitSuccess
	}

	cmd.PrintErrln("Error:", err.Error())

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}

	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeout
	}

	switch types.CodeOf(err) {
	case types.CONFIG_LOAD_FAILED, types.CONFIG_PARSE_FAILED, types.CONFIG_VALIDATION_FAILED:
		return ExitConfigError
	case types.DB_OPEN_FAILED, types.DB_MIGRATION_FAILED, types.DB_QUERY_FAILED:
		return ExitDatabaseError
	default:
		return ExitError
	}
}
