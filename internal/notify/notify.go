// Package notify delivers user notifications for payment outcomes. Every
// notification is stored in the user's inbox; device delivery is best effort.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baharkarakas/payflow/internal/logger"
	"github.com/baharkarakas/payflow/internal/metrics"
	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
)

type Message struct {
	UserID       string                  `json:"userId"`
	Title        string                  `json:"title"`
	Body         string                  `json:"body"`
	Type         models.NotificationType `json:"type"`
	Data         map[string]string       `json:"data,omitempty"`
	DeviceTokens []string                `json:"deviceTokens,omitempty"`
}

// Summary reports what happened to one message.
type Summary struct {
	NotificationID string `json:"notificationId"`
	SuccessCount   int    `json:"successCount"`
	FailureCount   int    `json:"failureCount"`
}

// Transport pushes a message to the user's devices.
type Transport interface {
	Deliver(ctx context.Context, notificationID string, m Message) (success, failure int, err error)
}

// DeviceResolver is implemented by transports that look devices up
// downstream. They receive every message, including ones stored without
// device tokens.
type DeviceResolver interface {
	ResolvesDevices() bool
}

func resolvesDevices(t Transport) bool {
	r, ok := t.(DeviceResolver)
	return ok && r.ResolvesDevices()
}

// TokenSource resolves the device tokens registered for a user.
type TokenSource interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
}

// StaticTokens is an in-process token table.
type StaticTokens map[string][]string

func (s StaticTokens) Tokens(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

type Dispatcher struct {
	notes     repo.Notifications
	transport Transport
	tokens    TokenSource
	log       *slog.Logger
}

func NewDispatcher(notes repo.Notifications, t Transport, tokens TokenSource, log *slog.Logger) *Dispatcher {
	if tokens == nil {
		tokens = StaticTokens{}
	}
	return &Dispatcher{notes: notes, transport: t, tokens: tokens, log: log}
}

// Dispatch stores m in the inbox and pushes it to the user's devices when
// any are known, or to a transport that resolves devices itself. A storage error is returned; a delivery error is only
// counted in the summary.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) (Summary, error) {
	if m.UserID == "" {
		return Summary{}, fmt.Errorf("notify: missing user id")
	}
	if m.Type == "" {
		m.Type = models.NotificationSystem
	}
	tokens := m.DeviceTokens
	if len(tokens) == 0 {
		t, err := d.tokens.Tokens(ctx, m.UserID)
		if err != nil {
			d.log.Warn("device token lookup failed", "user_id", m.UserID, "err", err)
		}
		tokens = t
	}
	m.DeviceTokens = tokens

	n, err := d.notes.Create(ctx, models.Notification{
		UserID:       m.UserID,
		Title:        m.Title,
		Body:         m.Body,
		Data:         m.Data,
		Type:         m.Type,
		SentToDevice: len(tokens) > 0,
		DeviceTokens: tokens,
	})
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		return Summary{}, fmt.Errorf("store notification: %w", err)
	}
	sum := Summary{NotificationID: n.ID}

	if d.transport == nil || (len(tokens) == 0 && !resolvesDevices(d.transport)) {
		metrics.NotificationsSent.WithLabelValues("stored").Inc()
		d.log.Debug("notification stored without device delivery", "user_id", m.UserID, "notification_id", n.ID)
		return sum, nil
	}

	ok, failed, err := d.transport.Deliver(ctx, n.ID, m)
	sum.SuccessCount, sum.FailureCount = ok, failed
	if err != nil {
		sum.SuccessCount, sum.FailureCount = 0, len(tokens)
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		d.log.Warn("notification delivery failed",
			"user_id", m.UserID, "notification_id", n.ID, "tokens", maskAll(tokens), "err", err)
		return sum, nil
	}
	metrics.NotificationsSent.WithLabelValues("delivered").Inc()
	d.log.Info("notification delivered",
		"user_id", m.UserID, "notification_id", n.ID, "success", ok, "failure", failed)
	return sum, nil
}

func maskAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = logger.Mask(t)
	}
	return out
}

// LogTransport is used when no broker is configured.
type LogTransport struct{ Log *slog.Logger }

func (t LogTransport) Deliver(_ context.Context, id string, m Message) (int, int, error) {
	t.Log.Info("push notification", "notification_id", id, "user_id", m.UserID, "title", m.Title, "devices", len(m.DeviceTokens))
	return len(m.DeviceTokens), 0, nil
}
