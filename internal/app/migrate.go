package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/floodwatch/internal/cache"
	"github.com/MrWong99/floodwatch/internal/config"
	"github.com/MrWong99/floodwatch/internal/resilience"
	"github.com/MrWong99/floodwatch/internal/storage"
)

// Migrate creates every PostgreSQL table floodwatch uses, regardless of which
// backends cfg selects.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("app: migrate: storage.postgres_dsn is not set")
	}
	pool, err := storage.Open(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	defer pool.Close()

	if err := storage.MigrateAll(ctx,
		resilience.NewPostgresStore(pool),
		cache.NewPostgresCache(pool),
	); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	return nil
}
