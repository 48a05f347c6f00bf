// Package persistence provides the durable store of workflows and executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

const (
	DefaultWorkflowTTL  = 30 * 24 * time.Hour
	DefaultExecutionTTL = 7 * 24 * time.Hour
)

// Options configures record expiry. A zero TTL disables expiry.
type Options struct {
	WorkflowTTL  time.Duration
	ExecutionTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		WorkflowTTL:  DefaultWorkflowTTL,
		ExecutionTTL: DefaultExecutionTTL,
	}
}

// Persistence stores workflow and execution records. Every save refreshes
// the record's expiry; expired records are never returned. Deleting an
// absent record is not an error.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	Executions(ctx context.Context) ([]*models.WorkflowExecution, error)
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	DeleteExecution(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
