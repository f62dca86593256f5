package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type notificationsRepo struct{ pool *pgxpool.Pool }

const notificationColumns = `id, user_id, title, body, data, type, is_read, sent_to_device, device_tokens, created_at, updated_at`

func scanNotification(row rowScanner) (models.Notification, error) {
	var (
		n            models.Notification
		data, tokens []byte
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &data, &n.Type, &n.IsRead, &n.SentToDevice, &tokens, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal(data, &n.Data); err != nil {
		return n, fmt.Errorf("decode data: %w", err)
	}
	if err := json.Unmarshal(tokens, &n.DeviceTokens); err != nil {
		return n, fmt.Errorf("decode device tokens: %w", err)
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

func (r *notificationsRepo) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Data == nil {
		n.Data = map[string]string{}
	}
	if n.DeviceTokens == nil {
		n.DeviceTokens = []string{}
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return n, err
	}
	tokens, err := json.Marshal(n.DeviceTokens)
	if err != nil {
		return n, err
	}
	return scanNotification(r.pool.QueryRow(ctx, `
INSERT INTO notifications (id, user_id, title, body, data, type, is_read, sent_to_device, device_tokens)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9::jsonb)
RETURNING `+notificationColumns,
		n.ID, n.UserID, n.Title, n.Body, data, n.Type, n.IsRead, n.SentToDevice, tokens,
	))
}

func (r *notificationsRepo) ListByUser(ctx context.Context, userID string, opts repo.FindOptions) ([]models.Notification, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.SortBy != "" && opts.SortBy != "createdAt" && opts.SortBy != "updatedAt" {
		return nil, fmt.Errorf("%w: cannot sort notifications by %q", repo.ErrInvalidQuery, opts.SortBy)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id=$1 `+orderBy(opts)+page(opts),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationsRepo) FindByID(ctx context.Context, id string) (models.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return n, fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
	}
	return n, err
}

func (r *notificationsRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id=$1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}

func (r *notificationsRepo) MarkRead(ctx context.Context, id string) (models.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
UPDATE notifications
SET is_read=true, updated_at=CASE WHEN is_read THEN updated_at ELSE now() END
WHERE id=$1
RETURNING `+notificationColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return n, fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
	}
	return n, err
}

// MarkAllRead is a single statement, so the batch is atomic here.
func (r *notificationsRepo) MarkAllRead(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read=true, updated_at=now() WHERE user_id=$1 AND NOT is_read`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
