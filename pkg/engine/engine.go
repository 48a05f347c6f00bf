// Package engine stores workflow definitions and drives their executions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxExecutions = 1000
	DefaultMaxStepVisits = 1000
)

type Config struct {
	// MaxExecutions caps the executions kept in memory. Finished ones are evicted oldest first.
	MaxExecutions int
	// MaxStepVisits fails executions that loop through more steps than this.
	MaxStepVisits int
	HTTPClient    *http.Client
}

func DefaultConfig() Config {
	return Config{
		MaxExecutions: DefaultMaxExecutions,
		MaxStepVisits: DefaultMaxStepVisits,
	}
}

type Engine struct {
	config      Config
	persistence persistence.Persistence
	bus         eventbus.EventBus
	dispatcher  *triggers.Dispatcher
	actions     *actions.Executor
	validate    *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	runs      map[string]*run
	order     []string
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(store persistence.Persistence, bus eventbus.EventBus, logger *slog.Logger, config Config) *Engine {
	if config.MaxExecutions <= 0 {
		config.MaxExecutions = DefaultMaxExecutions
	}

	if config.MaxStepVisits <= 0 {
		config.MaxStepVisits = DefaultMaxStepVisits
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:      config,
		persistence: store,
		bus:         bus,
		actions:     actions.NewExecutor(bus, config.HTTPClient, logger),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otelhelper.Tracer("github.com/dukex/autoflow/pkg/engine"),
		logger:      logger.With("module", "engine"),
		workflows:   make(map[string]*models.Workflow),
		runs:        make(map[string]*run),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.dispatcher = triggers.NewDispatcher(bus, e.startExecution, logger)
	e.dispatcher.Start()

	return e
}

// Actions exposes the action executor so callers can register custom handlers.
func (e *Engine) Actions() *actions.Executor {
	return e.actions
}

// Load brings persisted workflows and executions back into memory and re-arms triggers.
// Executions left pending or running by a previous process are marked failed.
func (e *Engine) Load(ctx context.Context) error {
	workflows, err := e.persistence.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("loading workflows: %w", err)
	}

	executions, err := e.persistence.Executions(ctx)
	if err != nil {
		return fmt.Errorf("loading executions: %w", err)
	}

	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		return a.StartTime.Compare(b.StartTime)
	})

	now := time.Now().UTC()

	for _, execution := range executions {
		if execution.Status.IsTerminal() {
			continue
		}

		if err := execution.Transition(models.ExecutionStatusFailed, now); err != nil {
			continue
		}

		execution.Error = "interrupted by restart"
		execution.AppendLog(models.LogLevelError, execution.CurrentStepID, "Execution interrupted by restart", nil)

		if err := e.persistence.SaveExecution(ctx, execution); err != nil {
			e.logger.ErrorContext(ctx, "Failed to persist interrupted execution", "execution_id", execution.ID, "error", err)
		}
	}

	e.mu.Lock()

	for _, workflow := range workflows {
		e.workflows[workflow.ID] = workflow
	}

	for _, execution := range executions {
		if _, ok := e.runs[execution.ID]; ok {
			continue
		}

		e.runs[execution.ID] = finishedRun(execution)
		e.order = append(e.order, execution.ID)
	}

	e.evictLocked()
	e.mu.Unlock()

	for _, workflow := range workflows {
		if err := e.dispatcher.Install(ctx, workflow.Clone()); err != nil {
			e.logger.ErrorContext(ctx, "Failed to install triggers", "workflow_id", workflow.ID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Engine state loaded", "workflows", len(workflows), "executions", len(executions))

	return nil
}

// TriggerWorkflow starts a manual execution of an active workflow with input as its context.
func (e *Engine) TriggerWorkflow(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := e.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	execCtx := maps.Clone(input)
	if execCtx == nil {
		execCtx = map[string]any{}
	}

	if _, ok := execCtx["trigger"]; !ok {
		execCtx["trigger"] = string(models.TriggerTypeManual)
	}

	return e.startExecution(ctx, triggers.Request{
		WorkflowID: workflow.ID,
		TriggerID:  triggers.ManualTrigger(workflow).ID,
		Platform:   workflow.Platform,
		Context:    execCtx,
	})
}

// TriggerWebhook starts the execution bound to an inbound webhook path.
func (e *Engine) TriggerWebhook(ctx context.Context, path string, payload map[string]any) (*models.WorkflowExecution, error) {
	return e.dispatcher.HandleWebhook(ctx, path, payload)
}

// PublishEvent emits a platform event, firing every event trigger subscribed to its type.
func (e *Engine) PublishEvent(ctx context.Context, event *events.Event) error {
	if event.ID == "" {
		event.ID = e.bus.GenerateID()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := e.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing event %s: %w", event.Type, err)
	}

	return nil
}

func (e *Engine) startExecution(_ context.Context, request triggers.Request) (*models.WorkflowExecution, error) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil, ErrEngineClosed
	}

	workflow, ok := e.workflows[request.WorkflowID]
	if !ok {
		e.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, request.WorkflowID)
	}

	if !workflow.IsActive {
		e.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrWorkflowInactive, request.WorkflowID)
	}

	execCtx := maps.Clone(request.Context)
	if execCtx == nil {
		execCtx = map[string]any{}
	}

	platform := request.Platform
	if platform == "" {
		platform = workflow.Platform
	}

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		TriggerID:     request.TriggerID,
		Status:        models.ExecutionStatusPending,
		CurrentStepID: workflow.StartStepID,
		Context:       execCtx,
		StartTime:     time.Now().UTC(),
		Logs:          []models.ExecutionLog{},
		Platform:      platform,
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	r := &run{execution: execution, cancel: cancel, done: make(chan struct{})}

	e.runs[execution.ID] = r
	e.order = append(e.order, execution.ID)
	e.evictLocked()

	snapshot := workflow.Clone()
	result := execution.Clone()
	e.mu.Unlock()

	go e.execute(runCtx, snapshot, r)

	return result, nil
}

// CancelExecution moves a pending or running execution to cancelled.
// Cancelling a finished execution is a no-op returning its current state.
func (e *Engine) CancelExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	r, ok := e.runs[executionID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	cancelled := r.update(func(execution *models.WorkflowExecution) {
		stepID := execution.CurrentStepID
		if err := execution.Transition(models.ExecutionStatusCancelled, time.Now().UTC()); err != nil {
			return
		}

		execution.AppendLog(models.LogLevelWarn, stepID, "Execution cancelled", nil)
	})

	if cancelled {
		e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)
		r.cancel()
	}

	return r.snapshot(), nil
}

func (e *Engine) GetExecution(executionID string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	r, ok := e.runs[executionID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	return r.snapshot(), nil
}

// ListExecutionsByWorkflow returns the in-memory executions of a workflow, oldest first.
func (e *Engine) ListExecutionsByWorkflow(workflowID string) []*models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range e.order {
		r, ok := e.runs[id]
		if !ok {
			continue
		}

		snapshot := r.snapshot()
		if snapshot.WorkflowID == workflowID {
			executions = append(executions, snapshot)
		}
	}

	return executions
}

// Wait blocks until every execution currently known to the engine has finished.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.RLock()
	done := make([]chan struct{}, 0, len(e.runs))

	for _, r := range e.runs {
		done = append(done, r.done)
	}
	e.mu.RUnlock()

	for _, ch := range done {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Close disarms all triggers and interrupts running executions. Their last
// persisted state is kept and reported as interrupted on the next Load.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	e.mu.Unlock()

	stopErr := e.dispatcher.Stop(ctx)

	e.cancel()

	return errors.Join(stopErr, e.Wait(ctx))
}

// evictLocked drops the oldest finished executions while the cap is exceeded.
func (e *Engine) evictLocked() {
	excess := len(e.runs) - e.config.MaxExecutions
	if excess <= 0 {
		return
	}

	kept := e.order[:0]

	for _, id := range e.order {
		r, ok := e.runs[id]
		if !ok {
			continue
		}

		if excess > 0 && r.finished() {
			delete(e.runs, id)

			excess--

			continue
		}

		kept = append(kept, id)
	}

	e.order = kept
}

// HealthCheck reports whether the backing store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.persistence.HealthCheck(ctx)
}
