package postgres

import (
	"context"

	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Transactions:  &transactionsRepo{pool},
		Notifications: &notificationsRepo{pool},
		AuditLogs:     &auditLogsRepo{pool},
		Ping:          func(ctx context.Context) error { return pool.Ping(ctx) },
		Close:         pool.Close,
	}
}
