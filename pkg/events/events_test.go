package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent("lead.created", nil)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventType("lead.created"), event.GetType())
	assert.NotNil(t, event.Payload)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)
}

func TestNewExecutionFinished(t *testing.T) {
	duration := int64(1200)

	testCases := []struct {
		status   models.ExecutionStatus
		expected EventType
	}{
		{models.ExecutionStatusCompleted, WorkflowExecutionCompletedEvent},
		{models.ExecutionStatusFailed, WorkflowExecutionFailedEvent},
		{models.ExecutionStatusCancelled, WorkflowExecutionCancelledEvent},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			execution := &models.WorkflowExecution{
				ID:         "exec-1",
				WorkflowID: "wf-1",
				TriggerID:  "manual",
				Status:     tc.status,
				Duration:   &duration,
				Error:      "boom",
				Platform:   "hubspot",
			}

			event, ok := NewExecutionFinished(execution, "Lead follow-up")
			require.True(t, ok)
			assert.Equal(t, tc.expected, event.Type)
			assert.Equal(t, "exec-1", event.ExecutionID)
			assert.Equal(t, "wf-1", event.WorkflowID)
			assert.Equal(t, "hubspot", event.Platform)
			assert.Equal(t, int64(1200), event.Payload["duration"])
			assert.Equal(t, "boom", event.Payload["error"])
		})
	}
}

func TestNewExecutionFinished_NonTerminal(t *testing.T) {
	_, ok := NewExecutionFinished(&models.WorkflowExecution{Status: models.ExecutionStatusRunning}, "x")
	assert.False(t, ok)
}

func TestActionEventType(t *testing.T) {
	eventType, ok := ActionEventType(models.ActionTypeEmail)
	require.True(t, ok)
	assert.Equal(t, ActionEmailEvent, eventType)

	_, ok = ActionEventType(models.ActionTypeAPICall)
	assert.False(t, ok)
}

func TestEvent_JSON(t *testing.T) {
	event := NewEvent(ActionCustomEvent, map[string]any{"k": "v"})
	event.WorkflowID = "wf-1"

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, ActionCustomEvent, decoded.Type)
	assert.Equal(t, "v", decoded.Payload["k"])
	assert.Contains(t, string(data), `"workflowId":"wf-1"`)
}
