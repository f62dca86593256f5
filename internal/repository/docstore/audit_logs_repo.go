package docstore

import (
	"context"
	"time"

	"github.com/baharkarakas/payflow/internal/docstore"
	"github.com/baharkarakas/payflow/internal/models"
)

type auditLogsRepo struct{ c *docstore.Collection }

type auditLogDoc struct {
	EntityType string         `json:"entityType"`
	EntityID   *string        `json:"entityId"`
	Action     string         `json:"action"`
	Details    models.Details `json:"details"`
	CreatedAt  int64          `json:"createdAt"`
}

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	_, err := r.c.Add(ctx, auditLogDoc{
		EntityType: l.EntityType,
		EntityID:   l.EntityID,
		Action:     l.Action,
		Details:    l.Details.Normalize(),
		CreatedAt:  time.Now().UTC().UnixNano(),
	})
	return err
}
