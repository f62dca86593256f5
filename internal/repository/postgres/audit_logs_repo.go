package postgres

import (
	"context"
	"encoding/json"

	"github.com/baharkarakas/payflow/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogsRepo struct{ pool *pgxpool.Pool }

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	details, err := json.Marshal(l.Details.Normalize())
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs(entity_type, entity_id, action, details) VALUES($1,$2,$3,$4::jsonb)`,
		l.EntityType, l.EntityID, l.Action, details,
	)
	return err
}
