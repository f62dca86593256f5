package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/payflow/internal/api/httpx"
	"github.com/baharkarakas/payflow/internal/apperror"
	"github.com/baharkarakas/payflow/internal/models"
	"github.com/baharkarakas/payflow/internal/services"
	"github.com/baharkarakas/payflow/internal/signature"
)

type PaymentHandler struct {
	Svc       *services.PaymentService
	ResultURL string
	Log       *slog.Logger
}

func NewPaymentHandler(svc *services.PaymentService, resultURL string, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{Svc: svc, ResultURL: resultURL, Log: log}
}

type initiateReq struct {
	UserID         string         `json:"userId,omitempty"`
	Amount         int64          `json:"amount"`
	Method         string         `json:"method"`
	OrderReference string         `json:"orderReference,omitempty"`
	OrderInfo      string         `json:"orderInfo,omitempty"`
	Details        models.Details `json:"details,omitempty"`
}

type paymentResp struct {
	PaymentID     string                   `json:"paymentId"`
	Provider      string                   `json:"provider"`
	Status        models.TransactionStatus `json:"status"`
	Amount        int64                    `json:"amount"`
	RedirectURL   string                   `json:"redirectUrl,omitempty"`
	DeepLink      string                   `json:"deepLink,omitempty"`
	QRPayload     string                   `json:"qrPayload,omitempty"`
	CorrelationID string                   `json:"correlationId"`
}

func toPaymentResp(tx models.Transaction) paymentResp {
	return paymentResp{
		PaymentID:     tx.ID,
		Provider:      tx.Provider,
		Status:        tx.Status,
		Amount:        tx.Amount,
		RedirectURL:   tx.Details.String("redirectUrl"),
		DeepLink:      tx.Details.String("deepLink"),
		QRPayload:     tx.Details.String("qrPayload"),
		CorrelationID: tx.GatewayRequestID,
	}
}

// POST /api/v1/payments
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	p := principal(r)
	userID := p.UserID
	// admins may pay on behalf of another user
	if req.UserID != "" && req.UserID != p.UserID {
		if !p.IsAdmin() {
			httpx.WriteAppError(w, apperror.New(apperror.Forbidden, "cannot pay for another user"))
			return
		}
		userID = req.UserID
	}

	tx, err := h.Svc.Initiate(r.Context(), services.InitiateRequest{
		UserID:         userID,
		Amount:         req.Amount,
		Method:         models.PaymentMethod(req.Method),
		OrderReference: req.OrderReference,
		OrderInfo:      req.OrderInfo,
		Details:        req.Details,
	})
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, toPaymentResp(tx))
}

// GET /api/v1/payments
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, skip := paging(r)
	status := models.TransactionStatus(r.URL.Query().Get("status"))
	txs, err := h.Svc.ListByUser(r.Context(), principal(r), status, limit, skip)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, txs)
}

// GET /api/v1/admin/payments
func (h *PaymentHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit, skip := paging(r)
	status := models.TransactionStatus(r.URL.Query().Get("status"))
	txs, err := h.Svc.ListAll(r.Context(), principal(r), status, limit, skip)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, txs)
}

// GET /api/v1/payments/{id}
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Svc.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, tx)
}

// POST /api/v1/payments/{id}/refund
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	out, err := h.Svc.Refund(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"paymentId": out.Transaction.ID,
		"status":    out.Transaction.Status,
		"refundId":  out.RefundID,
	})
}

// POST /api/v1/payments/momo/ipn
//
// The provider retries anything but a 2xx, so every failure is reported
// explicitly. An unknown order id is the provider's mistake, not ours, and
// answers 400 rather than 404.
func (h *PaymentHandler) Notification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	fields, err := signature.FieldsFromJSON(body)
	if err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := h.Svc.ApplyNotification(r.Context(), fields)
	if err != nil {
		e := apperror.As(err)
		if e.Kind == apperror.NotFound {
			httpx.WriteError(w, http.StatusBadRequest, string(e.Kind), e.Message, nil)
			return
		}
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"paymentId": out.Transaction.ID,
		"status":    out.Transaction.Status,
		"result":    out.Result,
	})
}

// GET /api/v1/payments/momo/callback
//
// The user's browser lands here. When a result page is configured the
// browser is forwarded to it; otherwise a plain acknowledgement is written.
func (h *PaymentHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	fields := signature.FieldsFromQuery(r.URL.Query())
	out, err := h.Svc.ApplyRedirect(r.Context(), fields)

	var status, paymentID string
	if err == nil {
		status = string(out.Transaction.Status)
		paymentID = out.Transaction.ID
	} else {
		status = "error"
		h.Log.Info("redirect callback not applied", "gateway_request_id", fields["orderId"], "err", err)
	}

	if h.ResultURL != "" {
		if target, ok := h.resultTarget(paymentID, status, fields["orderId"]); ok {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		w.WriteHeader(apperror.As(err).HTTPStatus())
		_, _ = io.WriteString(w, "payment could not be confirmed: "+apperror.As(err).Message+"\n")
		return
	}
	_, _ = io.WriteString(w, "payment "+paymentID+": "+status+"\n")
}

func (h *PaymentHandler) resultTarget(paymentID, status, orderID string) (string, bool) {
	u, err := url.Parse(h.ResultURL)
	if err != nil {
		h.Log.Error("bad PAYMENT_RESULT_URL", "err", err)
		return "", false
	}
	q := u.Query()
	if paymentID != "" {
		q.Set("paymentId", paymentID)
	} else if orderID != "" {
		q.Set("orderId", orderID)
	}
	q.Set("status", status)
	u.RawQuery = q.Encode()
	return u.String(), true
}
