package services

import (
	"context"
	"log/slog"

	"github.com/baharkarakas/payflow/internal/apperror"
	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
)

type NotificationService struct {
	notes repo.Notifications
	log   *slog.Logger
}

func NewNotificationService(n repo.Notifications, log *slog.Logger) *NotificationService {
	return &NotificationService{notes: n, log: log}
}

// List returns the caller's inbox, newest first.
func (s *NotificationService) List(ctx context.Context, p Principal, limit, skip int) ([]models.Notification, error) {
	out, err := s.notes.ListByUser(ctx, p.UserID, repo.FindOptions{Order: repo.Desc, Limit: limit, Skip: skip})
	if err != nil {
		return nil, storeErr(err, "notifications")
	}
	return out, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, p Principal) (int, error) {
	n, err := s.notes.MarkAllRead(ctx, p.UserID)
	if err != nil {
		s.log.Error("mark all read", "user_id", p.UserID, "marked", n, "err", err)
		return n, storeErr(err, "notifications")
	}
	return n, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, p Principal) (int, error) {
	n, err := s.notes.CountUnread(ctx, p.UserID)
	if err != nil {
		return 0, storeErr(err, "notifications")
	}
	return n, nil
}

// MarkRead flags one notification of p's as read.
func (s *NotificationService) MarkRead(ctx context.Context, p Principal, id string) (models.Notification, error) {
	n, err := s.notes.FindByID(ctx, id)
	if err != nil {
		return models.Notification{}, storeErr(err, "notification")
	}
	if n.UserID != p.UserID {
		return models.Notification{}, apperror.New(apperror.Forbidden, "not your notification")
	}
	n, err = s.notes.MarkRead(ctx, id)
	if err != nil {
		return models.Notification{}, storeErr(err, "notification")
	}
	return n, nil
}
