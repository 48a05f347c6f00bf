package actions

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// PublishHandler hands email, notification, data_update and custom actions
// to their back-ends by publishing an action.* event, and acknowledges with
// the event id.
type PublishHandler struct {
	publisher eventbus.EventPublisher
}

func NewPublishHandler(publisher eventbus.EventPublisher) *PublishHandler {
	return &PublishHandler{publisher: publisher}
}

func (h *PublishHandler) Execute(ctx context.Context, action models.WorkflowAction, invocation Invocation) (any, error) {
	eventType, ok := events.ActionEventType(action.Type)
	if !ok {
		return nil, newActionError(action.Type, 0, fmt.Errorf("%w: %q", ErrUnknownAction, action.Type))
	}

	payload, ack, err := buildPayload(action, invocation.Context)
	if err != nil {
		return nil, newActionError(action.Type, 0, err)
	}

	event := events.NewEvent(eventType, payload)
	event.WorkflowID = invocation.WorkflowID
	event.ExecutionID = invocation.ExecutionID
	event.Platform = invocation.Platform
	event.Payload["stepId"] = invocation.StepID

	if err := h.publisher.Publish(ctx, event); err != nil {
		return nil, newActionError(action.Type, 0, err)
	}

	ack["status"] = "queued"
	ack["channel"] = string(action.Type)
	ack["eventId"] = event.ID

	return ack, nil
}

func buildPayload(action models.WorkflowAction, execCtx template.Context) (map[string]any, map[string]any, error) {
	config := action.Config

	switch action.Type {
	case models.ActionTypeEmail:
		recipients := recipientList(template.SubstituteValue(config["recipients"], execCtx))
		if len(recipients) == 0 {
			return nil, nil, fmt.Errorf("%w: recipients are required", ErrInvalidConfig)
		}

		body, ok := config["template"].(string)
		if !ok || body == "" {
			return nil, nil, fmt.Errorf("%w: template is required", ErrInvalidConfig)
		}

		subject, _ := config["subject"].(string)

		payload := map[string]any{
			"recipients": recipients,
			"subject":    template.Substitute(subject, execCtx),
			"body":       template.Substitute(body, execCtx),
		}

		return payload, map[string]any{"recipients": recipients}, nil
	case models.ActionTypeNotification:
		body, ok := config["template"].(string)
		if !ok || body == "" {
			return nil, nil, fmt.Errorf("%w: template is required", ErrInvalidConfig)
		}

		message := template.Substitute(body, execCtx)
		payload := map[string]any{"message": message}

		if target, ok := config["channel"].(string); ok {
			payload["target"] = template.Substitute(target, execCtx)
		}

		return payload, map[string]any{"message": message}, nil
	default:
		rendered, _ := template.SubstituteValue(config, execCtx).(map[string]any)

		payload := map[string]any{
			"config":  rendered,
			"context": maps.Clone(map[string]any(execCtx)),
		}

		return payload, map[string]any{}, nil
	}
}

func recipientList(raw any) []string {
	switch value := raw.(type) {
	case string:
		if value == "" {
			return nil
		}

		return []string{value}
	case []string:
		return value
	case []any:
		recipients := make([]string, 0, len(value))

		for _, item := range value {
			if s := template.Stringify(item); s != "" {
				recipients = append(recipients, s)
			}
		}

		return recipients
	default:
		return nil
	}
}
