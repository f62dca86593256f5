package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/payflow/internal/docstore"
	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
)

type notificationsRepo struct{ c *docstore.Collection }

type notificationDoc struct {
	UserID       string            `json:"userId"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	Type         string            `json:"type"`
	IsRead       bool              `json:"isRead"`
	SentToDevice bool              `json:"sentToDevice"`
	DeviceTokens []string          `json:"deviceTokens"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
}

func notificationFromDoc(d docstore.Document) (models.Notification, notificationDoc, error) {
	var nd notificationDoc
	if err := d.Decode(&nd); err != nil {
		return models.Notification{}, nd, fmt.Errorf("decode notification %s: %w", d.ID, err)
	}
	if nd.Data == nil {
		nd.Data = map[string]string{}
	}
	if nd.DeviceTokens == nil {
		nd.DeviceTokens = []string{}
	}
	return models.Notification{
		ID:           d.ID,
		UserID:       nd.UserID,
		Title:        nd.Title,
		Body:         nd.Body,
		Data:         nd.Data,
		Type:         models.NotificationType(nd.Type),
		IsRead:       nd.IsRead,
		SentToDevice: nd.SentToDevice,
		DeviceTokens: nd.DeviceTokens,
		CreatedAt:    time.Unix(0, nd.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, nd.UpdatedAt).UTC(),
	}, nd, nil
}

func (r *notificationsRepo) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	now := time.Now().UTC()
	nd := notificationDoc{
		UserID:       n.UserID,
		Title:        n.Title,
		Body:         n.Body,
		Data:         n.Data,
		Type:         string(n.Type),
		IsRead:       n.IsRead,
		SentToDevice: n.SentToDevice,
		DeviceTokens: n.DeviceTokens,
		CreatedAt:    now.UnixNano(),
		UpdatedAt:    now.UnixNano(),
	}
	if nd.Data == nil {
		nd.Data = map[string]string{}
	}
	if nd.DeviceTokens == nil {
		nd.DeviceTokens = []string{}
	}
	doc, err := r.c.Add(ctx, nd)
	if err != nil {
		return n, err
	}
	out, _, err := notificationFromDoc(doc)
	return out, err
}

func (r *notificationsRepo) ListByUser(ctx context.Context, userID string, opts repo.FindOptions) ([]models.Notification, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.SortBy != "" && opts.SortBy != "createdAt" && opts.SortBy != "updatedAt" {
		return nil, fmt.Errorf("%w: cannot sort notifications by %q", repo.ErrInvalidQuery, opts.SortBy)
	}
	docs, err := r.c.Query(ctx, query([]repo.Predicate{{Field: "userId", Value: userID}}, opts))
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(docs))
	for _, d := range docs {
		n, _, err := notificationFromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *notificationsRepo) FindByID(ctx context.Context, id string) (models.Notification, error) {
	doc, err := r.c.Get(ctx, id)
	if errors.Is(err, docstore.ErrNoDocument) {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return models.Notification{}, err
	}
	n, _, err := notificationFromDoc(doc)
	return n, err
}

func (r *notificationsRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	return r.c.Count(ctx, []docstore.Cond{
		{Field: "userId", Value: userID},
		{Field: "isRead", Value: false},
	})
}

// MarkRead retries when another writer bumps the version in between.
func (r *notificationsRepo) MarkRead(ctx context.Context, id string) (models.Notification, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := r.c.Get(ctx, id)
		if errors.Is(err, docstore.ErrNoDocument) {
			return models.Notification{}, fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
		}
		if err != nil {
			return models.Notification{}, err
		}
		n, nd, err := notificationFromDoc(doc)
		if err != nil || nd.IsRead {
			return n, err
		}
		nd.IsRead = true
		nd.UpdatedAt = time.Now().UTC().UnixNano()
		updated, err := r.c.Update(ctx, id, nd, doc.Version)
		switch {
		case err == nil:
			out, _, err := notificationFromDoc(updated)
			return out, err
		case errors.Is(err, docstore.ErrVersionMismatch):
			continue
		case errors.Is(err, docstore.ErrNoDocument):
			return models.Notification{}, fmt.Errorf("notification %s: %w", id, repo.ErrNotFound)
		default:
			return models.Notification{}, err
		}
	}
	return models.Notification{}, fmt.Errorf("notification %s: concurrent writers: %w", id, repo.ErrPreconditionFailed)
}

// MarkAllRead updates unread notifications one document at a time. A
// failure part way leaves the earlier documents marked; the count returned
// with the error says how many.
func (r *notificationsRepo) MarkAllRead(ctx context.Context, userID string) (int, error) {
	docs, err := r.c.Query(ctx, docstore.Query{Where: []docstore.Cond{
		{Field: "userId", Value: userID},
		{Field: "isRead", Value: false},
	}})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, d := range docs {
		_, nd, err := notificationFromDoc(d)
		if err != nil {
			return changed, err
		}
		nd.IsRead = true
		nd.UpdatedAt = time.Now().UTC().UnixNano()
		_, err = r.c.Update(ctx, d.ID, nd, d.Version)
		switch {
		case err == nil:
			changed++
		case errors.Is(err, docstore.ErrVersionMismatch), errors.Is(err, docstore.ErrNoDocument):
			// someone else touched it first
		default:
			return changed, err
		}
	}
	return changed, nil
}
