// Package postgresql provides PostgreSQL persistence of workflows and executions.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db      *sql.DB
	logger  *slog.Logger
	options persistence.Options
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, options persistence.Options) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql_persistence")

	// Run migrations on initialization
	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:      database,
		logger:  logger,
		options: options,
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return persistence.NewError("health", "postgresql", "", err)
	}

	return nil
}

func expiresAt(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: time.Now().UTC().Add(ttl), Valid: true}
}

// SaveWorkflow upserts the workflow and refreshes its expiry.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	body, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewError("save", persistence.KindWorkflow, workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (id, platform, body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (id) DO UPDATE SET
			platform = EXCLUDED.platform
		  , body = EXCLUDED.body
		  , updated_at = NOW()
		  , expires_at = EXCLUDED.expires_at
	`

	createdAt := workflow.Metadata.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = p.db.ExecContext(ctx, query,
		workflow.ID, workflow.Platform, string(body), createdAt, expiresAt(p.options.WorkflowTTL))
	if err != nil {
		return persistence.NewError("save", persistence.KindWorkflow, workflow.ID, err)
	}

	return nil
}

// Workflows purges expired rows and returns the live ones by creation time.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return loadAll[models.Workflow](ctx, p, persistence.KindWorkflow, "workflows", "created_at")
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewError("delete", persistence.KindWorkflow, id, err)
	}

	return nil
}

// SaveExecution upserts the execution and refreshes its expiry.
func (p *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	body, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewError("save", persistence.KindExecution, execution.ID, err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, body, started_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , body = EXCLUDED.body
		  , updated_at = NOW()
		  , expires_at = EXCLUDED.expires_at
	`

	startedAt := execution.StartTime
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err = p.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, string(execution.Status), string(body), startedAt, expiresAt(p.options.ExecutionTTL))
	if err != nil {
		return persistence.NewError("save", persistence.KindExecution, execution.ID, err)
	}

	return nil
}

// Executions purges expired rows and returns the live ones by start time.
func (p *Persistence) Executions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return loadAll[models.WorkflowExecution](ctx, p, persistence.KindExecution, "executions", "started_at")
}

func (p *Persistence) DeleteExecution(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM executions WHERE id = $1", id)
	if err != nil {
		return persistence.NewError("delete", persistence.KindExecution, id, err)
	}

	return nil
}

// loadAll reads every live row of table. table and orderBy are package
// constants, never user input.
func loadAll[T any](ctx context.Context, p *Persistence, kind, table, orderBy string) ([]*T, error) {
	purged, err := p.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE expires_at IS NOT NULL AND expires_at <= NOW()")
	if err != nil {
		return nil, persistence.NewError("purge", kind, "", err)
	}

	if count, err := purged.RowsAffected(); err == nil && count > 0 {
		p.logger.InfoContext(ctx, "Purged expired records", "kind", kind, "count", count)
	}

	rows, err := p.db.QueryContext(ctx,
		"SELECT id, body FROM "+table+" WHERE expires_at IS NULL OR expires_at > NOW() ORDER BY "+orderBy)
	if err != nil {
		return nil, persistence.NewError("list", kind, "", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*T, 0)

	for rows.Next() {
		var (
			id   string
			body []byte
		)

		err := rows.Scan(&id, &body)
		if err != nil {
			return nil, persistence.NewError("list", kind, "", err)
		}

		record := new(T)
		if err := json.Unmarshal(body, record); err != nil {
			p.logger.WarnContext(ctx, "Skipping unreadable record", "kind", kind, "id", id, "error", err)

			continue
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewError("list", kind, "", err)
	}

	return records, nil
}
