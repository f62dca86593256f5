package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/db"
	"github.com/baharkarakas/payflow/internal/docstore"
	repo "github.com/baharkarakas/payflow/internal/repository"
	dsrepo "github.com/baharkarakas/payflow/internal/repository/docstore"
	pgrepo "github.com/baharkarakas/payflow/internal/repository/postgres"
)

// openRepositories is the only place that knows which backend is in use.
func openRepositories(ctx context.Context, cfg config.Config, log *slog.Logger) (repo.Repositories, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return repo.Repositories{}, fmt.Errorf("db connect: %w", err)
		}
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return repo.Repositories{}, fmt.Errorf("migrations: %w", err)
			}
		}
		log.Info("storage ready", "backend", cfg.StorageBackend)
		return pgrepo.NewRepositories(pool), nil

	case config.BackendDocstore:
		if dir := filepath.Dir(cfg.DocstorePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return repo.Repositories{}, fmt.Errorf("docstore dir: %w", err)
			}
		}
		store, err := docstore.Open(cfg.DocstorePath)
		if err != nil {
			return repo.Repositories{}, err
		}
		repos, err := dsrepo.NewRepositories(ctx, store)
		if err != nil {
			_ = store.Close()
			return repo.Repositories{}, err
		}
		log.Info("storage ready", "backend", cfg.StorageBackend, "path", cfg.DocstorePath)
		return repos, nil
	}
	return repo.Repositories{}, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
