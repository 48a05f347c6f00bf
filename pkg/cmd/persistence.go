package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/dukex/autoflow/pkg/persistence/redis"
)

const (
	providerFile       = "file"
	providerPostgreSQL = "postgresql"
	providerRedis      = "redis"
)

// NewPersistence opens the store named by databaseURL's scheme. URLs without
// a known scheme are treated as a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, options persistence.Options) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case providerPostgreSQL:
		return postgresql.NewPersistence(ctx, logger, databaseURL, options)
	case providerRedis:
		return redis.NewPersistence(ctx, logger, databaseURL, options)
	default:
		root := strings.TrimPrefix(databaseURL, "file://")
		if root == "" {
			return nil, fmt.Errorf("database url is required")
		}

		return file.NewPersistence(root, options, logger), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return providerFile
	}

	switch scheme {
	case "postgres", "postgresql":
		return providerPostgreSQL
	case "redis", "rediss":
		return providerRedis
	default:
		return providerFile
	}
}
