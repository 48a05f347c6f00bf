package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errInterrupted stops a step visit whose execution was cancelled or whose engine is closing.
var errInterrupted = errors.New("execution interrupted")

// run owns one execution. Every write to the execution goes through its mutex.
type run struct {
	mu        sync.Mutex
	execution *models.WorkflowExecution
	cancel    context.CancelFunc
	done      chan struct{}
}

func finishedRun(execution *models.WorkflowExecution) *run {
	done := make(chan struct{})
	close(done)

	return &run{execution: execution, cancel: func() {}, done: done}
}

func (r *run) snapshot() *models.WorkflowExecution {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execution.Clone()
}

// update applies fn unless the execution already reached a terminal status.
func (r *run) update(fn func(execution *models.WorkflowExecution)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.execution.Status.IsTerminal() {
		return false
	}

	fn(r.execution)

	return true
}

func (r *run) position() (string, models.ExecutionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execution.CurrentStepID, r.execution.Status
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (e *Engine) execute(ctx context.Context, workflow *models.Workflow, r *run) {
	defer e.release(r)

	execution := r.snapshot()
	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execution",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggerIDKey, execution.TriggerID),
	)
	defer span.End()

	started := r.update(func(execution *models.WorkflowExecution) {
		_ = execution.Transition(models.ExecutionStatusRunning, time.Now().UTC())
		execution.AppendLog(models.LogLevelInfo, "", "Execution started", map[string]any{"triggerId": execution.TriggerID})
	})

	if started {
		logger.InfoContext(ctx, "Execution started", "trigger_id", execution.TriggerID)

		if err := e.save(ctx, r); err != nil {
			e.fail(r, "", fmt.Errorf("persisting execution: %w", err))
		}
	}

	for visits := 0; ; visits++ {
		stepID, status := r.position()
		if status.IsTerminal() {
			break
		}

		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Execution interrupted by shutdown", "step_id", stepID)

			return
		}

		if stepID == "" {
			e.complete(r)

			break
		}

		if visits >= e.config.MaxStepVisits {
			e.fail(r, stepID, fmt.Errorf("%w: %d", ErrStepLimit, e.config.MaxStepVisits))

			break
		}

		step, ok := workflow.Step(stepID)
		if !ok {
			e.fail(r, stepID, &StepNotFoundError{WorkflowID: workflow.ID, StepID: stepID})

			break
		}

		next, err := e.visit(ctx, workflow, step, r, logger)
		if errors.Is(err, errInterrupted) {
			continue
		}

		if err != nil {
			e.fail(r, step.ID, err)

			break
		}

		if !r.update(func(execution *models.WorkflowExecution) {
			execution.CurrentStepID = next
		}) {
			continue
		}

		if err := e.save(ctx, r); err != nil {
			e.fail(r, next, fmt.Errorf("persisting execution: %w", err))

			break
		}
	}

	e.finalize(ctx, workflow, r, logger, span)
}

// release marks the run finished and applies the retention cap, which may evict the run itself.
func (e *Engine) release(r *run) {
	r.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	close(r.done)
	e.evictLocked()
}

// visit runs one step and returns the id of the step to continue with.
// An error ends the execution as failed. The caller persists the outcome
// together with the advanced step.
func (e *Engine) visit(ctx context.Context, workflow *models.Workflow, step *models.WorkflowStep, r *run, logger *slog.Logger) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.ActionTypeKey, string(step.Action.Type)),
	)
	defer span.End()

	logger = logger.With("step_id", step.ID)
	execution := r.snapshot()

	if len(step.Conditions) > 0 {
		matched, err := conditions.Evaluate(step.Conditions, execution.Context)
		if err != nil {
			logger.WarnContext(ctx, "Malformed step condition", "error", err)
			r.update(func(execution *models.WorkflowExecution) {
				execution.AppendLog(models.LogLevelWarn, step.ID, "Condition evaluation error", map[string]any{"error": err.Error()})
			})
		}

		if !matched {
			logger.InfoContext(ctx, "Step skipped")

			if !r.update(func(execution *models.WorkflowExecution) {
				execution.AppendLog(models.LogLevelInfo, step.ID, "Step skipped", nil)
			}) {
				return "", errInterrupted
			}

			return successEdge(step), nil
		}
	}

	if step.Delay > 0 {
		if err := actions.Wait(ctx, time.Duration(step.Delay)*time.Millisecond); err != nil {
			return "", errInterrupted
		}
	}

	if !r.update(func(execution *models.WorkflowExecution) {
		execution.AppendLog(models.LogLevelDebug, step.ID, "Step started", map[string]any{"action": string(step.Action.Type)})
	}) {
		return "", errInterrupted
	}

	result, err := e.actions.Execute(ctx, step.Action, actions.Invocation{
		WorkflowID:  workflow.ID,
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Platform:    execution.Platform,
		Context:     template.Context(execution.Context),
	})
	if ctx.Err() != nil {
		return "", errInterrupted
	}

	span.SetAttributes(attribute.Int(otelhelper.RetryCountKey, result.Retries))

	if err == nil {
		logger.InfoContext(ctx, "Step completed", "retries", result.Retries)

		r.update(func(execution *models.WorkflowExecution) {
			execution.RetryCount += result.Retries
			execution.Context[models.StepResultKey(step.ID)] = result.Output
			execution.AppendLog(models.LogLevelInfo, step.ID, "Step completed", map[string]any{"retries": result.Retries})
		})

		return successEdge(step), nil
	}

	otelhelper.SetError(span, err, attribute.String(otelhelper.StepIDKey, step.ID))
	logger.ErrorContext(ctx, "Step failed", "error", err, "retries", result.Retries)

	r.update(func(execution *models.WorkflowExecution) {
		execution.RetryCount += result.Retries
		execution.AppendLog(models.LogLevelError, step.ID, "Step failed", map[string]any{
			"error":   err.Error(),
			"retries": result.Retries,
		})
	})

	if step.OnFailure == "" || step.OnFailure == models.EndStep {
		return "", err
	}

	return step.OnFailure, nil
}

// successEdge treats an "end" success edge like an absent one.
func successEdge(step *models.WorkflowStep) string {
	if step.OnSuccess == models.EndStep {
		return ""
	}

	return step.OnSuccess
}

func (e *Engine) complete(r *run) {
	r.update(func(execution *models.WorkflowExecution) {
		_ = execution.Transition(models.ExecutionStatusCompleted, time.Now().UTC())
		execution.AppendLog(models.LogLevelInfo, "", "Execution completed", nil)
	})
}

func (e *Engine) fail(r *run, stepID string, err error) {
	r.update(func(execution *models.WorkflowExecution) {
		_ = execution.Transition(models.ExecutionStatusFailed, time.Now().UTC())
		execution.Error = err.Error()
		execution.AppendLog(models.LogLevelError, stepID, "Execution failed", map[string]any{"error": err.Error()})
	})
}

func (e *Engine) save(ctx context.Context, r *run) error {
	return e.persistence.SaveExecution(context.WithoutCancel(ctx), r.snapshot())
}

// finalize persists a terminal execution, updates analytics and announces the outcome.
// Failures here are logged and never change the execution.
func (e *Engine) finalize(ctx context.Context, workflow *models.Workflow, r *run, logger *slog.Logger, span trace.Span) {
	ctx = context.WithoutCancel(ctx)
	execution := r.snapshot()

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		logger.ErrorContext(ctx, "Failed to persist finished execution", "error", err)
	}

	e.recordAnalytics(ctx, execution)

	if event, ok := events.NewExecutionFinished(execution, workflow.Name); ok {
		if err := e.bus.Publish(ctx, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish execution event", "event_type", event.Type, "error", err)
		}
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(execution.Status)))

	if execution.Status == models.ExecutionStatusFailed {
		otelhelper.SetError(span, errors.New(execution.Error))
	} else {
		otelhelper.SetOK(span)
	}

	var duration int64
	if execution.Duration != nil {
		duration = *execution.Duration
	}

	logger.InfoContext(ctx, "Execution finished", "status", execution.Status, "duration_ms", duration, "retries", execution.RetryCount)
}
