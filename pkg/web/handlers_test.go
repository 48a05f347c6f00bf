package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/gochannel"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir(), persistence.DefaultOptions(), logger)

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, 100)
	bus := eventbus.NewWatermillEventBus(pub, sub, logger)

	eng := engine.New(store, bus, logger, engine.DefaultConfig())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = eng.Close(ctx)
		_ = bus.Close()
	})

	handlers := web.NewAPIHandlers(eng, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func validRequest() web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		Name:        "Welcome sequence",
		Description: "Greets new leads",
		Platform:    "hubspot",
		IsActive:    true,
		StartStepID: "tag",
		Steps: []models.WorkflowStep{
			{
				ID:     "tag",
				Name:   "Tag lead",
				Action: models.WorkflowAction{Type: models.ActionTypeDataUpdate, Config: map[string]any{"field": "stage"}},
			},
		},
		Metadata: &web.WorkflowMetadataRequest{Category: "sales", Tags: []string{"leads"}},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, req web.CreateWorkflowRequest) *models.Workflow {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/workflows", req)
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return &workflow
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    validRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing name",
			requestBody: func() web.CreateWorkflowRequest {
				req := validRequest()
				req.Name = ""

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - no steps",
			requestBody: func() web.CreateWorkflowRequest {
				req := validRequest()
				req.Steps = nil

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - unknown start step",
			requestBody: func() web.CreateWorkflowRequest {
				req := validRequest()
				req.StartStepID = "missing"

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if status != http.StatusCreated {
				assert.Equal(t, "validation_error", problemType(t, body))

				return
			}

			var workflow models.Workflow
			require.NoError(t, json.Unmarshal(body, &workflow))
			assert.NotEmpty(t, workflow.ID)
			assert.Equal(t, "Welcome sequence", workflow.Name)
			assert.Equal(t, models.DefaultVersion, workflow.Version)
			assert.Equal(t, "sales", workflow.Metadata.Category)
			assert.Equal(t, []string{"leads"}, workflow.Metadata.Tags)
		})
	}
}

func TestAPIHandlers_GetAndListWorkflows(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	created := createWorkflow(t, app, validRequest())

	other := validRequest()
	other.Name = "Ticket escalation"
	other.Platform = "zendesk"
	createWorkflow(t, app, other)

	status, body := doRequest(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched models.Workflow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", problemType(t, body))

	var list struct {
		Workflows  []models.Workflow `json:"workflows"`
		TotalCount int               `json:"total_count"`
	}

	status, body = doRequest(t, app, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.TotalCount)

	status, body = doRequest(t, app, http.MethodGet, "/workflows?platform=zendesk", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "Ticket escalation", list.Workflows[0].Name)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app, validRequest())

	status, body := doRequest(t, app, http.MethodPatch, "/workflows/"+created.ID, map[string]any{
		"name":     "Renamed sequence",
		"isActive": false,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var updated models.Workflow
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Renamed sequence", updated.Name)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Greets new leads", updated.Description)

	status, _ = doRequest(t, app, http.MethodPatch, "/workflows/"+created.ID, map[string]any{"name": "ab"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPatch, "/workflows/missing", map[string]any{"name": "Renamed"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app, validRequest())

	status, _ := doRequest(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_TriggerWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app, validRequest())

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.ID+"/trigger", web.TriggerWorkflowRequest{
		Context: map[string]any{"email": "ada@example.com"},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, created.ID, execution.WorkflowID)
	assert.Equal(t, "ada@example.com", execution.Context["email"])

	require.Eventually(t, func() bool {
		status, body := doRequest(t, app, http.MethodGet, "/executions/"+execution.ID, nil)
		if status != http.StatusOK {
			return false
		}

		var current models.WorkflowExecution
		if err := json.Unmarshal(body, &current); err != nil {
			return false
		}

		return current.Status == models.ExecutionStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	status, body = doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Executions []models.WorkflowExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Executions, 1)
	assert.Equal(t, execution.ID, list.Executions[0].ID)

	status, body = doRequest(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)

	var cancelled models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.ExecutionStatusCompleted, cancelled.Status)

	status, body = doRequest(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)

	var metrics engine.Metrics
	require.NoError(t, json.Unmarshal(body, &metrics))
	assert.Equal(t, 1, metrics.TotalWorkflows)
	assert.Equal(t, 1, metrics.TotalExecutions)
	assert.InDelta(t, 100.0, metrics.SuccessRate, 0.001)
}

func TestAPIHandlers_TriggerErrors(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	inactive := validRequest()
	inactive.IsActive = false
	created := createWorkflow(t, app, inactive)

	status, body := doRequest(t, app, http.MethodPost, "/workflows/"+created.ID+"/trigger", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))

	status, _ = doRequest(t, app, http.MethodPost, "/workflows/missing/trigger", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doRequest(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", problemType(t, body))

	status, _ = doRequest(t, app, http.MethodPost, "/executions/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Webhook(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	req := validRequest()
	req.Triggers = []models.WorkflowTrigger{
		{
			ID:       "form",
			Type:     models.TriggerTypeWebhook,
			IsActive: true,
			Config: models.TriggerConfig{
				WebhookPath: "leads/new",
				Schema: map[string]any{
					"type":     "object",
					"required": []any{"email"},
				},
			},
		},
	}
	created := createWorkflow(t, app, req)

	status, body := doRequest(t, app, http.MethodPost, "/hooks/leads/new", map[string]any{"email": "ada@example.com"})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, created.ID, execution.WorkflowID)
	assert.Equal(t, "form", execution.TriggerID)

	status, _ = doRequest(t, app, http.MethodPost, "/hooks/leads/new", map[string]any{"name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodPost, "/hooks/unknown", map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "webhook_not_found", problemType(t, body))

	status, _ = doRequest(t, app, http.MethodPost, "/workflows", req)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_PublishEvent(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	req := validRequest()
	req.Triggers = []models.WorkflowTrigger{
		{
			ID:       "signup",
			Type:     models.TriggerTypeEvent,
			IsActive: true,
			Config:   models.TriggerConfig{Event: "contact.created"},
		},
	}
	created := createWorkflow(t, app, req)

	status, body := doRequest(t, app, http.MethodPost, "/events/contact.created", web.PublishEventRequest{
		Platform: "hubspot",
		Payload:  map[string]any{"email": "ada@example.com"},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var published web.PublishEventResponse
	require.NoError(t, json.Unmarshal(body, &published))
	assert.NotEmpty(t, published.ID)
	assert.Equal(t, "contact.created", published.Type)

	require.Eventually(t, func() bool {
		status, body := doRequest(t, app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
		if status != http.StatusOK {
			return false
		}

		var list struct {
			Executions []models.WorkflowExecution `json:"executions"`
		}

		return json.Unmarshal(body, &list) == nil && len(list.Executions) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}
