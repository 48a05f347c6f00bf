package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T, options persistence.Options) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("autoflow_test"),
			postgres.WithUsername("autoflow"),
			postgres.WithPassword("autoflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t, persistence.DefaultOptions())

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "executions", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t, persistence.DefaultOptions())

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestNewPersistence_WorkflowRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t, persistence.DefaultOptions())

	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		Name:        "Lead follow-up",
		StartStepID: "notify",
		Platform:    "hubspot",
		IsActive:    true,
		Steps: []models.WorkflowStep{
			{ID: "notify", Action: models.WorkflowAction{Type: models.ActionTypeNotification, Config: map[string]any{"template": "hi"}}},
		},
		Metadata: models.WorkflowMetadata{CreatedAt: time.Now().UTC()},
	}

	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	workflow.Name = "Lead follow-up v2"
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	workflows, err := p.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "Lead follow-up v2", workflows[0].Name)
	assert.Equal(t, "hi", workflows[0].Steps[0].Action.Config["template"])

	require.NoError(t, p.DeleteWorkflow(ctx, workflow.ID))
	require.NoError(t, p.DeleteWorkflow(ctx, workflow.ID))

	workflows, err = p.Workflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestNewPersistence_ExecutionRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t, persistence.DefaultOptions())

	execution := &models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		Context:    map[string]any{"name": "Acme"},
		StartTime:  time.Now().UTC(),
	}

	require.NoError(t, p.SaveExecution(ctx, execution))

	execution.Status = models.ExecutionStatusCompleted
	require.NoError(t, p.SaveExecution(ctx, execution))

	executions, err := p.Executions(ctx)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
	assert.Equal(t, "Acme", executions[0].Context["name"])

	require.NoError(t, p.DeleteExecution(ctx, execution.ID))

	executions, err = p.Executions(ctx)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestNewPersistence_ExpiredRowsArePurged(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t, persistence.DefaultOptions())

	require.NoError(t, p.SaveExecution(ctx, &models.WorkflowExecution{ID: "old", WorkflowID: "wf"}))
	require.NoError(t, p.SaveExecution(ctx, &models.WorkflowExecution{ID: "fresh", WorkflowID: "wf"}))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx, "UPDATE executions SET expires_at = NOW() - INTERVAL '1 hour' WHERE id = 'old'")
	require.NoError(t, err)

	executions, err := p.Executions(ctx)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "fresh", executions[0].ID)

	var count int

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions WHERE id = 'old'").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewPersistence_ZeroTTLStoresNoExpiry(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t, persistence.Options{})

	require.NoError(t, p.SaveWorkflow(ctx, &models.Workflow{ID: "wf"}))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var expires sql.NullTime

	err = db.QueryRowContext(ctx, "SELECT expires_at FROM workflows WHERE id = 'wf'").Scan(&expires)
	require.NoError(t, err)
	assert.False(t, expires.Valid)
}
