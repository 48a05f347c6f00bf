package persistence

import (
	"errors"
	"fmt"
)

// ErrPersistence is matched by every error returned from a persistence back-end.
var ErrPersistence = errors.New("persistence failure")

const (
	KindWorkflow  = "workflow"
	KindExecution = "execution"
)

// Error wraps a back-end failure with the operation and record it concerns.
type Error struct {
	Op   string // Operation being performed (e.g., "save", "list", "delete")
	Kind string // KindWorkflow or KindExecution
	ID   string // Record ID if applicable
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence for every persistence error.
func (e *Error) Is(target error) bool {
	return target == ErrPersistence
}

func NewError(op, kind, id string, err error) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}

// IsPersistenceError checks if an error came from the persistence layer.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence)
}
