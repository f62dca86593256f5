package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/payflow/internal/api/handlers"
	"github.com/baharkarakas/payflow/internal/api/httpx"
	"github.com/baharkarakas/payflow/internal/auth"
	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/metrics"
	"github.com/baharkarakas/payflow/internal/middleware"
	"github.com/baharkarakas/payflow/internal/services"
)

type RouterDeps struct {
	Cfg      config.Config
	Tokens   *auth.TokenManager
	Payments *services.PaymentService
	Notes    *services.NotificationService
	Ping     func(ctx context.Context) error
	Log      *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				d.Log.Warn("health check failed", "err", err)
				httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "storage unreachable", nil)
				return
			}
		}
		httpx.WriteData(w, http.StatusOK, map[string]string{"status": "ok", "backend": d.Cfg.StorageBackend})
	})
	r.Handle("/metrics", metrics.Handler())

	ph := handlers.NewPaymentHandler(d.Payments, d.Cfg.PaymentResultURL, d.Log)
	nh := handlers.NewNotificationHandler(d.Notes)
	am := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.Env)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- provider callbacks (signed, no bearer token, not rate limited) ----------
		r.Get("/payments/momo/callback", ph.Redirect)
		r.Post("/payments/momo/ipn", ph.Notification)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.Cfg.RateRPS), am.Auth)

			// ---------- payments ----------
			r.Post("/payments", ph.Initiate)
			r.Get("/payments", ph.List)
			r.Get("/payments/{id}", ph.Get)
			r.Post("/payments/{id}/refund", ph.Refund)

			// ---------- notifications ----------
			r.Get("/notifications", nh.List)
			r.Get("/notifications/unread-count", nh.UnreadCount)
			r.Post("/notifications/read-all", nh.ReadAll)
			r.Post("/notifications/{id}/read", nh.MarkRead)

			// ---------- admin ----------
			r.With(middleware.RequireRole(services.RoleAdmin)).Get("/admin/payments", ph.ListAll)
		})
	})

	return r
}
