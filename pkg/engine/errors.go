package engine

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrWorkflowInactive  = errors.New("workflow is not active")
	ErrStepLimit         = errors.New("step visit limit exceeded")
	ErrEngineClosed      = errors.New("engine is closed")
)

// ValidationError describes one malformed field of a workflow definition.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StepNotFoundError fails an execution whose current step is not part of its workflow.
type StepNotFoundError struct {
	WorkflowID string
	StepID     string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("step %s not found in workflow %s", e.StepID, e.WorkflowID)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
