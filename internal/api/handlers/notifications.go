package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/payflow/internal/api/httpx"
	"github.com/baharkarakas/payflow/internal/services"
)

type NotificationHandler struct {
	Svc *services.NotificationService
}

func NewNotificationHandler(svc *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{Svc: svc}
}

// GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, skip := paging(r)
	out, err := h.Svc.List(r.Context(), principal(r), limit, skip)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, out)
}

// POST /api/v1/notifications/read-all
func (h *NotificationHandler) ReadAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.MarkAllRead(r.Context(), principal(r))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]int{"updated": n})
}

// GET /api/v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.UnreadCount(r.Context(), principal(r))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]int{"count": n})
}

// POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Svc.MarkRead(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, n)
}
