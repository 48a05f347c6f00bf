// Package events defines event types and structures carried by the event bus.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events, published once per terminal execution.
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionCancelledEvent EventType = "workflow.execution.cancelled"

	// Action events, consumed by the back-ends that actually deliver the work.
	ActionEmailEvent        EventType = "action.email"
	ActionNotificationEvent EventType = "action.notification"
	ActionDataUpdateEvent   EventType = "action.data_update"
	ActionCustomEvent       EventType = "action.custom"
)

// Event is the envelope of every message on the bus. Platform events coming
// from outside use arbitrary types; the payload carries their data.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflowId,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e Event) GetType() EventType {
	return e.Type
}

func NewEvent(eventType EventType, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// ExecutionEventType maps a terminal status to its lifecycle event.
func ExecutionEventType(status models.ExecutionStatus) (EventType, bool) {
	switch status {
	case models.ExecutionStatusCompleted:
		return WorkflowExecutionCompletedEvent, true
	case models.ExecutionStatusFailed:
		return WorkflowExecutionFailedEvent, true
	case models.ExecutionStatusCancelled:
		return WorkflowExecutionCancelledEvent, true
	default:
		return "", false
	}
}

// NewExecutionFinished builds the lifecycle event for a terminal execution.
func NewExecutionFinished(execution *models.WorkflowExecution, workflowName string) (*Event, bool) {
	eventType, ok := ExecutionEventType(execution.Status)
	if !ok {
		return nil, false
	}

	payload := map[string]any{
		"workflowName": workflowName,
		"status":       string(execution.Status),
		"triggerId":    execution.TriggerID,
	}

	if execution.Duration != nil {
		payload["duration"] = *execution.Duration
	}

	if execution.Error != "" {
		payload["error"] = execution.Error
	}

	event := NewEvent(eventType, payload)
	event.WorkflowID = execution.WorkflowID
	event.ExecutionID = execution.ID
	event.Platform = execution.Platform

	return event, true
}

// ActionEventType returns the bus event a back-end-delegated action publishes.
func ActionEventType(actionType models.ActionType) (EventType, bool) {
	switch actionType {
	case models.ActionTypeEmail:
		return ActionEmailEvent, true
	case models.ActionTypeNotification:
		return ActionNotificationEvent, true
	case models.ActionTypeDataUpdate:
		return ActionDataUpdateEvent, true
	case models.ActionTypeCustom:
		return ActionCustomEvent, true
	default:
		return "", false
	}
}
