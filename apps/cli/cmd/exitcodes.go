package cmd

import (
	"errors"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
)

// Exit codes for hitbatch CLI
const (
	// ExitSuccess indicates all requests passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more requests failed
	ExitTestFailure = 1

	// ExitParseError indicates a batch file could not be parsed
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates a batch failed as a whole
	ExitNetworkError = 4

	// ExitInterrupted indicates the run was cancelled
	ExitInterrupted = 130

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries the exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var cancelled *interruptible.CancelledError
	if errors.As(err, &cancelled) {
		return ExitInterrupted
	}
	return ExitTestFailure
}
