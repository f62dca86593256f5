package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/db"
	"github.com/baharkarakas/payflow/internal/logger"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := logger.New(cfg.Env)
			if cfg.StorageBackend != config.BackendPostgres {
				return fmt.Errorf("migrate only applies to the %s backend (STORAGE_BACKEND=%s)", config.BackendPostgres, cfg.StorageBackend)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			if err := db.RunMigrations(ctx, pool); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
