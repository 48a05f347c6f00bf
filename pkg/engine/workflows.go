package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateWorkflow assigns identity to a new workflow, persists it and arms its triggers.
func (e *Engine) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, newValidationError("workflow", "is required")
	}

	created := workflow.Clone()
	now := time.Now().UTC()

	created.ID = uuid.New().String()
	if created.Version == "" {
		created.Version = models.DefaultVersion
	}

	created.Metadata.CreatedAt = now
	created.Metadata.UpdatedAt = now
	created.Analytics = models.WorkflowAnalytics{}

	if err := e.validateWorkflow(created); err != nil {
		return nil, err
	}

	if err := e.persistence.SaveWorkflow(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	e.mu.Lock()
	e.workflows[created.ID] = created
	e.mu.Unlock()

	e.install(ctx, created)

	e.logger.InfoContext(ctx, "Workflow created", "workflow_id", created.ID, "name", created.Name)

	return created.Clone(), nil
}

// UpdateWorkflow merges a partial update, persists the result and re-arms its triggers.
func (e *Engine) UpdateWorkflow(ctx context.Context, workflowID string, update models.WorkflowUpdate) (*models.Workflow, error) {
	existing, err := e.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	if err := e.validate.Struct(update); err != nil {
		return nil, validationErrors(err)
	}

	update.Apply(existing)
	existing.Metadata.UpdatedAt = time.Now().UTC()

	if err := e.validateWorkflow(existing); err != nil {
		return nil, err
	}

	if err := e.persistence.SaveWorkflow(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	e.mu.Lock()

	current, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	existing.Analytics = current.Clone().Analytics
	e.workflows[workflowID] = existing
	updated := existing.Clone()
	e.mu.Unlock()

	e.install(ctx, updated)

	e.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflowID)

	return updated, nil
}

// DeleteWorkflow disarms and removes a workflow. It reports false when the workflow was already gone.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) (bool, error) {
	e.dispatcher.Uninstall(workflowID)

	e.mu.Lock()
	_, ok := e.workflows[workflowID]
	delete(e.workflows, workflowID)
	e.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := e.persistence.DeleteWorkflow(ctx, workflowID); err != nil {
		return true, fmt.Errorf("failed to delete workflow: %w", err)
	}

	purged := e.purgeExecutions(ctx, workflowID)

	e.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID, "executions_removed", purged)

	return true, nil
}

// purgeExecutions drops the finished executions of a deleted workflow from memory and
// from the store, including stored ones already evicted from memory. Executions still
// running keep their records.
func (e *Engine) purgeExecutions(ctx context.Context, workflowID string) int {
	e.mu.Lock()

	var ids []string

	kept := e.order[:0]

	for _, id := range e.order {
		r, ok := e.runs[id]
		if !ok {
			continue
		}

		if r.finished() && r.snapshot().WorkflowID == workflowID {
			delete(e.runs, id)

			ids = append(ids, id)

			continue
		}

		kept = append(kept, id)
	}

	e.order = kept
	e.mu.Unlock()

	stored, err := e.persistence.Executions(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list stored executions", "workflow_id", workflowID, "error", err)
	}

	for _, execution := range stored {
		if execution.WorkflowID == workflowID && execution.Status.IsTerminal() && !slices.Contains(ids, execution.ID) {
			ids = append(ids, execution.ID)
		}
	}

	for _, id := range ids {
		if err := e.persistence.DeleteExecution(ctx, id); err != nil {
			e.logger.ErrorContext(ctx, "Failed to delete execution", "workflow_id", workflowID, "execution_id", id, "error", err)
		}
	}

	return len(ids)
}

func (e *Engine) GetWorkflow(workflowID string) (*models.Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	workflow, ok := e.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	return workflow.Clone(), nil
}

// ListWorkflows returns every workflow ordered by creation time.
func (e *Engine) ListWorkflows() []*models.Workflow {
	return e.listWorkflows(func(*models.Workflow) bool { return true })
}

func (e *Engine) ListWorkflowsByPlatform(platform string) []*models.Workflow {
	return e.listWorkflows(func(workflow *models.Workflow) bool { return workflow.Platform == platform })
}

func (e *Engine) listWorkflows(keep func(*models.Workflow) bool) []*models.Workflow {
	e.mu.RLock()

	workflows := make([]*models.Workflow, 0, len(e.workflows))

	for _, workflow := range e.workflows {
		if keep(workflow) {
			workflows = append(workflows, workflow.Clone())
		}
	}
	e.mu.RUnlock()

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := a.Metadata.CreatedAt.Compare(b.Metadata.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return workflows
}

func (e *Engine) install(ctx context.Context, workflow *models.Workflow) {
	if err := e.dispatcher.Install(ctx, workflow); err != nil {
		e.logger.ErrorContext(ctx, "Failed to install triggers", "workflow_id", workflow.ID, "error", err)
	}
}

// validateWorkflow checks field rules, then that every step edge and trigger resolves.
func (e *Engine) validateWorkflow(workflow *models.Workflow) error {
	if err := e.validate.Struct(workflow); err != nil {
		return validationErrors(err)
	}

	var errs []error

	steps := make(map[string]bool, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if steps[step.ID] {
			errs = append(errs, newValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID)))
		}

		steps[step.ID] = true
	}

	if !steps[workflow.StartStepID] {
		errs = append(errs, newValidationError("startStepId", fmt.Sprintf("references unknown step %q", workflow.StartStepID)))
	}

	for _, step := range workflow.Steps {
		if step.OnSuccess != "" && step.OnSuccess != models.EndStep && !steps[step.OnSuccess] {
			errs = append(errs, newValidationError("steps."+step.ID+".onSuccess", fmt.Sprintf("references unknown step %q", step.OnSuccess)))
		}

		if step.OnFailure != "" && step.OnFailure != models.EndStep && !steps[step.OnFailure] {
			errs = append(errs, newValidationError("steps."+step.ID+".onFailure", fmt.Sprintf("references unknown step %q", step.OnFailure)))
		}
	}

	triggerIDs := make(map[string]bool, len(workflow.Triggers))

	for _, trigger := range workflow.Triggers {
		if triggerIDs[trigger.ID] {
			errs = append(errs, newValidationError("triggers", fmt.Sprintf("duplicate trigger id %q", trigger.ID)))
		}

		triggerIDs[trigger.ID] = true
	}

	if err := e.dispatcher.Validate(workflow); err != nil {
		errs = append(errs, &ValidationError{Field: "triggers", Reason: err.Error(), Err: err})
	}

	return errors.Join(errs...)
}

func validationErrors(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ValidationError{Field: "workflow", Reason: err.Error(), Err: err}
	}

	errs := make([]error, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		errs = append(errs, newValidationError(fieldError.Namespace(), "failed on the '"+fieldError.Tag()+"' rule"))
	}

	return errors.Join(errs...)
}
