package models

import (
	"fmt"
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransition reports whether moving from s to next keeps the status forward-moving.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next.IsTerminal()
	case ExecutionStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// LogLevel of an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is an append-only entry of an execution's log.
type ExecutionLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	StepID    string         `json:"stepId,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	TriggerID     string          `json:"triggerId"`
	Status        ExecutionStatus `json:"status"`
	CurrentStepID string          `json:"currentStepId,omitempty"`
	Context       map[string]any  `json:"context"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	Duration      *int64          `json:"duration,omitempty"` // milliseconds
	Error         string          `json:"error,omitempty"`
	Logs          []ExecutionLog  `json:"logs"`
	RetryCount    int             `json:"retryCount"`
	Platform      string          `json:"platform,omitempty"`
}

// StepResultKey is the context key under which a step's result is stored.
func StepResultKey(stepID string) string {
	return fmt.Sprintf("step_%s_result", stepID)
}

// Transition moves the execution to next, refusing any regression. A completed
// execution has no current step; failed and cancelled ones keep the step they stopped at.
func (e *WorkflowExecution) Transition(next ExecutionStatus, now time.Time) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next

	if next.IsTerminal() {
		end := now
		duration := end.Sub(e.StartTime).Milliseconds()
		e.EndTime = &end
		e.Duration = &duration
	}

	if next == ExecutionStatusCompleted {
		e.CurrentStepID = ""
	}

	return nil
}

// AppendLog adds an entry to the execution log.
func (e *WorkflowExecution) AppendLog(level LogLevel, stepID, message string, data map[string]any) {
	e.Logs = append(e.Logs, ExecutionLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		StepID:    stepID,
		Message:   message,
		Data:      data,
	})
}

// Clone returns a snapshot safe to hand out while the execution keeps running.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	clone := *e
	clone.Context = maps.Clone(e.Context)
	clone.Logs = append([]ExecutionLog(nil), e.Logs...)

	if e.EndTime != nil {
		end := *e.EndTime
		clone.EndTime = &end
	}

	if e.Duration != nil {
		duration := *e.Duration
		clone.Duration = &duration
	}

	return &clone
}
