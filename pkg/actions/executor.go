// Package actions invokes the external work of workflow steps.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// DefaultTimeout applies to actions that declare no timeout.
const DefaultTimeout = 30 * time.Second

// Invocation identifies the execution a step action runs for.
type Invocation struct {
	WorkflowID  string
	ExecutionID string
	StepID      string
	Platform    string
	Context     template.Context
}

// Handler performs a single attempt of one action kind.
type Handler interface {
	Execute(ctx context.Context, action models.WorkflowAction, invocation Invocation) (any, error)
}

type HandlerFunc func(ctx context.Context, action models.WorkflowAction, invocation Invocation) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, action models.WorkflowAction, invocation Invocation) (any, error) {
	return f(ctx, action, invocation)
}

// Result is the outcome of an action including the retries it took.
type Result struct {
	Output  any
	Retries int
}

type Executor struct {
	handlers map[models.ActionType]Handler
	logger   *slog.Logger
}

// NewExecutor registers the built-in handlers: HTTP for api_call and webhook,
// bus publication for the back-end delegated kinds.
func NewExecutor(publisher eventbus.EventPublisher, client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}

	executor := &Executor{
		handlers: make(map[models.ActionType]Handler),
		logger:   logger.With("module", "actions"),
	}

	executor.Register(models.ActionTypeAPICall, NewHTTPHandler(client, http.MethodGet))
	executor.Register(models.ActionTypeWebhook, NewHTTPHandler(client, http.MethodPost))

	publish := NewPublishHandler(publisher)
	executor.Register(models.ActionTypeEmail, publish)
	executor.Register(models.ActionTypeNotification, publish)
	executor.Register(models.ActionTypeDataUpdate, publish)
	executor.Register(models.ActionTypeCustom, publish)

	return executor
}

// Register replaces the handler of an action kind. Call it before executions start.
func (e *Executor) Register(actionType models.ActionType, handler Handler) {
	e.handlers[actionType] = handler
}

// Execute runs the action, retrying failed attempts per its retry config.
// The returned Result is never nil and always reports the retries made.
func (e *Executor) Execute(ctx context.Context, action models.WorkflowAction, invocation Invocation) (*Result, error) {
	result := &Result{}

	handler, ok := e.handlers[action.Type]
	if !ok {
		return result, newActionError(action.Type, 0, fmt.Errorf("%w: %q", ErrUnknownAction, action.Type))
	}

	logger := e.logger.With(
		"action_type", action.Type,
		"execution_id", invocation.ExecutionID,
		"step_id", invocation.StepID,
	)

	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := Backoff(action.RetryConfig, attempt)

			logger.InfoContext(ctx, "Retrying action", "attempt", attempt, "max_retries", action.RetryConfig.MaxRetries, "delay", delay)

			if err := Wait(ctx, delay); err != nil {
				return result, lastErr
			}

			result.Retries = attempt
		}

		output, err := e.attempt(ctx, handler, action, invocation)
		if err == nil {
			result.Output = output

			return result, nil
		}

		lastErr = err

		logger.WarnContext(ctx, "Action attempt failed", "attempt", attempt+1, "error", err)

		if errors.Is(err, ErrInvalidConfig) || ctx.Err() != nil || attempt >= action.RetryConfig.MaxRetries {
			return result, lastErr
		}
	}
}

func (e *Executor) attempt(ctx context.Context, handler Handler, action models.WorkflowAction, invocation Invocation) (any, error) {
	timeout := DefaultTimeout
	if action.Timeout > 0 {
		timeout = time.Duration(action.Timeout) * time.Millisecond
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := handler.Execute(attemptCtx, action, invocation)
	if err == nil {
		return output, nil
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	}

	var actionErr *ActionExecutionError
	if errors.As(err, &actionErr) {
		return nil, err
	}

	return nil, newActionError(action.Type, 0, err)
}
