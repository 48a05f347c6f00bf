package actions

import (
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	// ErrActionFailed is wrapped by every ActionExecutionError.
	ErrActionFailed = errors.New("action execution failed")
	// ErrUnknownAction is returned for an action kind with no registered handler.
	ErrUnknownAction = errors.New("unknown action type")
	// ErrInvalidConfig is returned when an action config misses required fields. It is never retried.
	ErrInvalidConfig = errors.New("invalid action config")
	// ErrUnexpectedStatus is returned when an endpoint answers outside 2xx.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// ActionExecutionError reports a failed action invocation.
type ActionExecutionError struct {
	Kind       models.ActionType
	StatusCode int
	Err        error
}

func (e *ActionExecutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s action failed with status %d: %v", e.Kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s action failed: %v", e.Kind, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

func (e *ActionExecutionError) Is(target error) bool {
	return target == ErrActionFailed
}

func newActionError(kind models.ActionType, statusCode int, err error) *ActionExecutionError {
	return &ActionExecutionError{Kind: kind, StatusCode: statusCode, Err: err}
}
