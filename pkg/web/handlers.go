package web

import (
	"net/http"
	"time"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine    *engine.Engine
	validator *validator.Validate
}

func NewAPIHandlers(engine *engine.Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
	}
}

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/trigger", h.TriggerWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Get("/metrics", h.GetMetrics)
	router.Post("/events/:type", h.PublishEvent)
	router.Post("/hooks/*", h.Webhook)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	var workflows []*models.Workflow

	if platform := c.Query("platform"); platform != "" {
		workflows = h.engine.ListWorkflowsByPlatform(platform)
	} else {
		workflows = h.engine.ListWorkflows()
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.GetWorkflow(c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Autoflow API is healthy"
	httpStatus := http.StatusOK
	persistenceCheck := "ok"

	if err := h.engine.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Autoflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
		persistenceCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.engine.CreateWorkflow(c.Context(), req.Workflow())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req models.WorkflowUpdate
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow, err := h.engine.UpdateWorkflow(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	deleted, err := h.engine.DeleteWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	if !deleted {
		return notFound(c, "Workflow not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.engine.TriggerWorkflow(c.Context(), c.Params("id"), req.Context)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.engine.GetWorkflow(id); err != nil {
		return handleEngineError(c, err)
	}

	executions := h.engine.ListExecutionsByWorkflow(id)

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.GetExecution(c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.engine.CancelExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	return c.JSON(h.engine.Metrics())
}

func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req PublishEventRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	event := events.NewEvent(events.EventType(c.Params("type")), req.Payload)
	event.Platform = req.Platform

	if err := h.engine.PublishEvent(c.Context(), event); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(PublishEventResponse{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
	})
}

// Webhook starts the workflow bound to the request path below /hooks.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Webhook body must be a JSON object")
		}
	}

	execution, err := h.engine.TriggerWebhook(c.Context(), c.Params("*"), payload)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}
