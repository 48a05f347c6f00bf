// Package redis provides Redis persistence of workflows and executions with native key expiry.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const (
	namespace = "autoflow"
	scanBatch = 100
)

// Persistence stores each record as a JSON string under autoflow:<kind>:<id>.
type Persistence struct {
	client  redis.UniversalClient
	options persistence.Options
	logger  *slog.Logger
}

// NewPersistence connects to the redis:// or rediss:// URL and checks the connection.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, options persistence.Options) (*Persistence, error) {
	redisOptions, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", redisOptions.Addr, "db", redisOptions.DB)

	return New(client, options, logger), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, options persistence.Options, logger *slog.Logger) *Persistence {
	return &Persistence{
		client:  client,
		options: options,
		logger:  logger.With("module", "redis_persistence"),
	}
}

func key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, kind, id)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return persistence.NewError("health", "redis", "", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return loadAll[models.Workflow](ctx, p, persistence.KindWorkflow)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.save(ctx, persistence.KindWorkflow, workflow.ID, workflow, p.options.WorkflowTTL)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.delete(ctx, persistence.KindWorkflow, id)
}

func (p *Persistence) Executions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return loadAll[models.WorkflowExecution](ctx, p, persistence.KindExecution)
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.save(ctx, persistence.KindExecution, execution.ID, execution, p.options.ExecutionTTL)
}

func (p *Persistence) DeleteExecution(ctx context.Context, id string) error {
	return p.delete(ctx, persistence.KindExecution, id)
}

// save sets the record with its TTL; a zero TTL keeps the key forever.
func (p *Persistence) save(ctx context.Context, kind, id string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	err = p.client.Set(ctx, key(kind, id), data, ttl).Err()
	if err != nil {
		return persistence.NewError("save", kind, id, err)
	}

	return nil
}

func (p *Persistence) delete(ctx context.Context, kind, id string) error {
	err := p.client.Del(ctx, key(kind, id)).Err()
	if err != nil {
		return persistence.NewError("delete", kind, id, err)
	}

	return nil
}

func loadAll[T any](ctx context.Context, p *Persistence, kind string) ([]*T, error) {
	var keys []string

	iter := p.client.Scan(ctx, 0, key(kind, "*"), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, persistence.NewError("list", kind, "", err)
	}

	records := make([]*T, 0, len(keys))

	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))

		values, err := p.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, persistence.NewError("list", kind, "", err)
		}

		for i, value := range values {
			// expired between SCAN and MGET
			raw, ok := value.(string)
			if !ok {
				continue
			}

			record := new(T)
			if err := json.Unmarshal([]byte(raw), record); err != nil {
				p.logger.WarnContext(ctx, "Skipping unreadable record", "key", keys[start+i], "error", err)

				continue
			}

			records = append(records, record)
		}
	}

	return records, nil
}
