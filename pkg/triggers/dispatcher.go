// Package triggers arms workflow triggers and turns their firings into executions.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/triggers/schedule"
	"github.com/dukex/autoflow/pkg/triggers/webhook"
	"github.com/robfig/cron/v3"
)

// ManualTriggerID is reported for manual starts of workflows that declare no manual trigger.
const ManualTriggerID = "manual"

var ErrInvalidTrigger = errors.New("invalid trigger")

// Request asks for a new execution of a workflow.
type Request struct {
	WorkflowID string
	TriggerID  string
	Platform   string
	Context    map[string]any
}

// Callback starts an execution for a fired trigger.
type Callback func(ctx context.Context, request Request) (*models.WorkflowExecution, error)

type installation struct {
	entries []cron.EntryID
	cancel  context.CancelFunc
}

type Dispatcher struct {
	bus      eventbus.EventSubscriber
	callback Callback
	cron     *cron.Cron
	webhooks *webhook.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	installed map[string]*installation

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(bus eventbus.EventSubscriber, callback Callback, logger *slog.Logger) *Dispatcher {
	logger = logger.With("module", "trigger_dispatcher")
	cronLogger := schedule.NewLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		bus:      bus,
		callback: callback,
		cron:     cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger))),
		webhooks: webhook.NewRegistry(),
		logger:   logger,

		installed: make(map[string]*installation),

		ctx:    ctx,
		cancel: cancel,
	}
}

// Validate checks every trigger of the workflow without arming anything.
func (d *Dispatcher) Validate(workflow *models.Workflow) error {
	var errs []error

	for _, trigger := range workflow.Triggers {
		if err := d.validateTrigger(workflow.ID, trigger); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", trigger.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) validateTrigger(workflowID string, trigger models.WorkflowTrigger) error {
	switch trigger.Type {
	case models.TriggerTypeSchedule:
		if trigger.Config.Schedule == "" {
			return fmt.Errorf("%w: schedule is required", ErrInvalidTrigger)
		}

		if _, err := schedule.Parse(trigger.Config.Schedule); err != nil {
			return err
		}
	case models.TriggerTypeEvent:
		if trigger.Config.Event == "" {
			return fmt.Errorf("%w: event is required", ErrInvalidTrigger)
		}
	case models.TriggerTypeWebhook:
		if err := d.webhooks.Available(trigger.Config.WebhookPath, workflowID); err != nil {
			return err
		}

		if err := webhook.ValidateSchema(trigger.Config.Schema); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	case models.TriggerTypeManual:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, trigger.Type)
	}

	return nil
}

// Install replaces the armed triggers of the workflow with its current active ones.
// Nothing is armed for an inactive workflow.
func (d *Dispatcher) Install(ctx context.Context, workflow *models.Workflow) error {
	d.Uninstall(workflow.ID)

	if !workflow.IsActive {
		return nil
	}

	logger := d.logger.With("workflow_id", workflow.ID)

	subCtx, cancel := context.WithCancel(d.ctx)
	inst := &installation{cancel: cancel}

	var errs []error

	for _, trigger := range workflow.Triggers {
		if !trigger.IsActive {
			continue
		}

		switch trigger.Type {
		case models.TriggerTypeSchedule:
			sched, err := schedule.Parse(trigger.Config.Schedule)
			if err != nil {
				logger.WarnContext(ctx, "Schedule trigger not armed", "trigger_id", trigger.ID, "error", err)

				continue
			}

			entry := d.cron.Schedule(sched, d.scheduleJob(workflow, trigger))
			inst.entries = append(inst.entries, entry)

			logger.InfoContext(ctx, "Armed schedule trigger", "trigger_id", trigger.ID, "schedule", trigger.Config.Schedule)
		case models.TriggerTypeEvent:
			err := d.bus.Subscribe(subCtx, events.EventType(trigger.Config.Event), d.eventHandler(workflow, trigger))
			if err != nil {
				errs = append(errs, fmt.Errorf("subscribing trigger %s: %w", trigger.ID, err))

				continue
			}

			logger.InfoContext(ctx, "Armed event trigger", "trigger_id", trigger.ID, "event", trigger.Config.Event)
		case models.TriggerTypeWebhook:
			err := d.webhooks.Register(webhook.Registration{
				Path:       trigger.Config.WebhookPath,
				WorkflowID: workflow.ID,
				TriggerID:  trigger.ID,
				Platform:   workflow.Platform,
				Schema:     trigger.Config.Schema,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("registering trigger %s: %w", trigger.ID, err))

				continue
			}

			logger.InfoContext(ctx, "Armed webhook trigger", "trigger_id", trigger.ID, "path", trigger.Config.WebhookPath)
		}
	}

	d.mu.Lock()
	d.installed[workflow.ID] = inst
	d.mu.Unlock()

	return errors.Join(errs...)
}

// Uninstall disarms every trigger of the workflow. Unknown workflows are ignored.
func (d *Dispatcher) Uninstall(workflowID string) {
	d.mu.Lock()
	inst, ok := d.installed[workflowID]
	delete(d.installed, workflowID)
	d.mu.Unlock()

	d.webhooks.UnregisterWorkflow(workflowID)

	if !ok {
		return
	}

	for _, entry := range inst.entries {
		d.cron.Remove(entry)
	}

	inst.cancel()
}

func (d *Dispatcher) scheduleJob(workflow *models.Workflow, trigger models.WorkflowTrigger) cron.FuncJob {
	workflowID, platform := workflow.ID, workflow.Platform
	expr := trigger.Config.Schedule

	return func() {
		request := Request{
			WorkflowID: workflowID,
			TriggerID:  trigger.ID,
			Platform:   platform,
			Context: map[string]any{
				"trigger":  string(models.TriggerTypeSchedule),
				"schedule": expr,
			},
		}

		if _, err := d.callback(d.ctx, request); err != nil {
			d.logger.ErrorContext(d.ctx, "Scheduled execution not started",
				"workflow_id", request.WorkflowID, "trigger_id", request.TriggerID, "error", err)
		}
	}
}

func (d *Dispatcher) eventHandler(workflow *models.Workflow, trigger models.WorkflowTrigger) eventbus.EventHandler {
	workflowID := workflow.ID
	platform := trigger.Config.Platform

	return func(ctx context.Context, event *events.Event) error {
		if platform != "" && event.Platform != platform {
			return nil
		}

		execCtx := maps.Clone(event.Payload)
		if execCtx == nil {
			execCtx = map[string]any{}
		}

		execCtx["trigger"] = string(models.TriggerTypeEvent)
		execCtx["eventType"] = string(event.Type)
		execCtx["platform"] = event.Platform
		execCtx["eventId"] = event.ID

		_, err := d.callback(ctx, Request{
			WorkflowID: workflowID,
			TriggerID:  trigger.ID,
			Platform:   event.Platform,
			Context:    execCtx,
		})
		if err != nil {
			return fmt.Errorf("starting execution of workflow %s: %w", workflowID, err)
		}

		return nil
	}
}

// ResolveWebhook returns the registration owning path.
func (d *Dispatcher) ResolveWebhook(path string) (webhook.Registration, error) {
	return d.webhooks.Resolve(path)
}

// HandleWebhook starts the execution bound to path with payload as its context.
func (d *Dispatcher) HandleWebhook(ctx context.Context, path string, payload map[string]any) (*models.WorkflowExecution, error) {
	registration, err := d.webhooks.Resolve(path)
	if err != nil {
		return nil, err
	}

	if err := webhook.ValidatePayload(registration.Schema, payload); err != nil {
		return nil, err
	}

	execCtx := maps.Clone(payload)
	if execCtx == nil {
		execCtx = map[string]any{}
	}

	execCtx["trigger"] = string(models.TriggerTypeWebhook)
	execCtx["webhookPath"] = registration.Path

	return d.callback(ctx, Request{
		WorkflowID: registration.WorkflowID,
		TriggerID:  registration.TriggerID,
		Platform:   registration.Platform,
		Context:    execCtx,
	})
}

// ManualTrigger returns the workflow's active manual trigger or a synthetic one.
func ManualTrigger(workflow *models.Workflow) models.WorkflowTrigger {
	if trigger, ok := workflow.TriggerByType(models.TriggerTypeManual); ok {
		return *trigger
	}

	return models.WorkflowTrigger{ID: ManualTriggerID, Type: models.TriggerTypeManual, IsActive: true}
}

func (d *Dispatcher) Start() {
	d.cron.Start()
	d.logger.Info("Trigger dispatcher started")
}

// Stop halts the scheduler and cancels every event subscription, waiting for
// running schedule jobs until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	d.mu.Lock()
	d.installed = make(map[string]*installation)
	d.mu.Unlock()

	select {
	case <-d.cron.Stop().Done():
		d.logger.Info("Trigger dispatcher stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
