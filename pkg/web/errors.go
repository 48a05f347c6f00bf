package web

import (
	"errors"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/triggers/webhook"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and trigger errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrPathConflict), errors.Is(err, engine.ErrWorkflowInactive):
		return conflict(c, err.Error())

	case errors.Is(err, engine.ErrValidation), errors.Is(err, webhook.ErrInvalidPayload):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrWorkflowNotFound):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, engine.ErrExecutionNotFound):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, webhook.ErrWebhookNotFound):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("webhook_not_found").
			WithDetail("no webhook registered for this path")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, engine.ErrEngineClosed):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("unavailable").
			WithDetail("engine is shutting down")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}
