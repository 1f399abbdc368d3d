package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateRun signals that a run for the same correlation key already
// completed successfully, or is still in flight within the staleness window.
// This is the idempotency guarantee firing, not a failure.
var ErrDuplicateRun = errors.New("automation run already exists for correlation key")

// ErrDuplicateStepLog signals that a concurrent execution already recorded a
// successful log for the same (run, step). The insert is swallowed by callers.
var ErrDuplicateStepLog = errors.New("step execution already logged as success")

// ErrRunCancelled signals that the run's cancellation checkpoint fired before
// the step could be attempted.
var ErrRunCancelled = errors.New("automation run cancelled")

// Common error types
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found with ID: %s", e.Entity, e.ID)
}

// ValidationError represents an error that occurs due to invalid input or parameters
type ValidationError struct {
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a new validation error with the given message
func NewValidationError(message string) error {
	return ValidationError{
		Message: message,
	}
}

// ErrStepExecution wraps a step failure with its run/step identity for logs
type ErrStepExecution struct {
	RunID  string
	StepID string
	Reason string
	Err    error
}

func (e *ErrStepExecution) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step execution failed [run %s, step %s]: %s - %v", e.RunID, e.StepID, e.Reason, e.Err)
	}
	return fmt.Sprintf("step execution failed [run %s, step %s]: %s", e.RunID, e.StepID, e.Reason)
}

func (e *ErrStepExecution) Unwrap() error {
	return e.Err
}
