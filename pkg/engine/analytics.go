package engine

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
)

// Metrics summarizes the engine's in-memory state.
type Metrics struct {
	TotalWorkflows       int                            `json:"totalWorkflows"`
	ActiveWorkflows      int                            `json:"activeWorkflows"`
	TotalExecutions      int                            `json:"totalExecutions"`
	ExecutionsByStatus   map[models.ExecutionStatus]int `json:"executionsByStatus"`
	SuccessRate          float64                        `json:"successRate"`          // percent of finished executions
	AverageExecutionTime float64                        `json:"averageExecutionTime"` // milliseconds
}

// recordAnalytics folds a terminal execution into its workflow's running
// statistics and persists the workflow. Persistence errors are only logged.
func (e *Engine) recordAnalytics(ctx context.Context, execution *models.WorkflowExecution) {
	e.mu.Lock()

	workflow, ok := e.workflows[execution.WorkflowID]
	if !ok {
		e.mu.Unlock()

		return
	}

	var duration float64
	if execution.Duration != nil {
		duration = float64(*execution.Duration)
	}

	var success float64
	if execution.Status == models.ExecutionStatusCompleted {
		success = 100
	}

	analytics := &workflow.Analytics
	count := float64(analytics.ExecutionCount)

	analytics.SuccessRate = (analytics.SuccessRate*count + success) / (count + 1)
	analytics.AverageTimeMs = (analytics.AverageTimeMs*count + duration) / (count + 1)
	analytics.ExecutionCount++

	if execution.EndTime != nil {
		lastExecuted := *execution.EndTime
		analytics.LastExecuted = &lastExecuted
	}

	snapshot := workflow.Clone()
	e.mu.Unlock()

	if err := e.persistence.SaveWorkflow(ctx, snapshot); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist workflow analytics", "workflow_id", snapshot.ID, "error", err)
	}
}

// Metrics aggregates workflow and execution counts over what is held in memory.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	metrics := Metrics{
		TotalWorkflows:     len(e.workflows),
		TotalExecutions:    len(e.runs),
		ExecutionsByStatus: make(map[models.ExecutionStatus]int),
	}

	for _, workflow := range e.workflows {
		if workflow.IsActive {
			metrics.ActiveWorkflows++
		}
	}

	var finished, completed int

	var totalDuration int64

	for _, r := range e.runs {
		execution := r.snapshot()
		metrics.ExecutionsByStatus[execution.Status]++

		if !execution.Status.IsTerminal() {
			continue
		}

		finished++

		if execution.Status == models.ExecutionStatusCompleted {
			completed++
		}

		if execution.Duration != nil {
			totalDuration += *execution.Duration
		}
	}

	if finished > 0 {
		metrics.SuccessRate = float64(completed) / float64(finished) * 100
		metrics.AverageExecutionTime = float64(totalDuration) / float64(finished)
	}

	return metrics
}
