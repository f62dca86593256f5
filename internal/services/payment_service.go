package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/baharkarakas/payflow/internal/apperror"
	"github.com/baharkarakas/payflow/internal/gateway"
	"github.com/baharkarakas/payflow/internal/logger"
	"github.com/baharkarakas/payflow/internal/metrics"
	"github.com/baharkarakas/payflow/internal/models"
	"github.com/baharkarakas/payflow/internal/notify"
	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/baharkarakas/payflow/internal/validate"
)

// Provider limits for a single payment, in whole currency units.
const (
	MinAmount int64 = 1_000
	MaxAmount int64 = 50_000_000
)

// Callback sources, recorded as details.resolvedBy.
const (
	SourceNotification = "notification"
	SourceRedirect     = "redirect"
	SourceRefund       = "refund"
)

// resolve re-reads and re-evaluates after losing a write race at most this
// many times.
const maxResolveAttempts = 3

type Gateway interface {
	Provider() string
	Initiate(ctx context.Context, in gateway.Intent) (gateway.InitiateResult, error)
	Refund(ctx context.Context, in gateway.RefundIntent) (gateway.RefundResult, error)
	VerifyCallback(fields map[string]string) bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, m notify.Message) (notify.Summary, error)
}

// Submitter runs a task off the request path; false means it was dropped.
type Submitter interface {
	Submit(f func()) bool
}

type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type InitiateRequest struct {
	UserID         string
	Amount         int64
	Method         models.PaymentMethod
	OrderReference string
	OrderInfo      string
	Details        models.Details
}

// CallbackResult says what a callback did to the stored record.
type CallbackResult string

const (
	ResultApplied   CallbackResult = "applied"
	ResultDuplicate CallbackResult = "duplicate"
	// ResultDisplay: the payload was not trusted and only the stored
	// record was read.
	ResultDisplay CallbackResult = "display"
)

type CallbackOutcome struct {
	Transaction models.Transaction
	Result      CallbackResult
}

type RefundOutcome struct {
	Transaction models.Transaction
	RefundID    string
}

type PaymentService struct {
	trx    repo.Transactions
	audits repo.AuditLogs
	gw     Gateway
	notes  Dispatcher
	wp     Submitter
	log    *slog.Logger
	now    func() time.Time
}

func NewPaymentService(t repo.Transactions, a repo.AuditLogs, gw Gateway, d Dispatcher, wp Submitter, log *slog.Logger) *PaymentService {
	return &PaymentService{trx: t, audits: a, gw: gw, notes: d, wp: wp, log: log, now: time.Now}
}

// ----------------- Helpers -----------------

func (s *PaymentService) audit(ctx context.Context, entityType string, entityID *string, action string, details models.Details) {
	err := s.audits.Create(ctx, models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
	})
	if err != nil {
		s.log.Error("audit write failed", "action", action, "err", err)
	}
}

func (s *PaymentService) auditTxn(ctx context.Context, tx models.Transaction, action string, details models.Details) {
	id := tx.ID
	s.audit(ctx, models.AuditEntityTransaction, &id, action, details)
}

// storeErr maps repository sentinels onto service errors.
func storeErr(err error, what string) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return apperror.Wrap(apperror.NotFound, what+" not found", err)
	case errors.Is(err, repo.ErrInvalidQuery):
		return apperror.Wrap(apperror.Validation, err.Error(), err)
	}
	return apperror.Wrap(apperror.Internal, "storage error", err)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ----------------- Initiate -----------------

func validateInitiate(req InitiateRequest) error {
	errs := validate.Collect(
		validate.Required("userId", req.UserID),
		validate.Required("method", string(req.Method)),
		validate.MinInt("amount", req.Amount, MinAmount),
		validate.MaxInt("amount", req.Amount, MaxAmount),
		validate.MaxLen("orderReference", req.OrderReference, 128),
	)
	if req.Method != "" && !req.Method.Valid() {
		errs = append(errs, *validate.OneOf("method", false,
			string(models.MethodWallet), string(models.MethodInApp), string(models.MethodQR),
			string(models.MethodATM), string(models.MethodCreditCard)))
	}
	if len(errs) > 0 {
		return apperror.New(apperror.Validation, "invalid payment request").WithDetails(errs)
	}
	return nil
}

// Initiate validates the request, asks the gateway for a payment and
// records the outcome. A gateway rejection or transport failure is still
// recorded, as a failed transaction, before the error is returned.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (models.Transaction, error) {
	if err := validateInitiate(req); err != nil {
		return models.Transaction{}, err
	}

	res, gwErr := s.gw.Initiate(ctx, gateway.Intent{
		Amount:         req.Amount,
		OrderReference: req.OrderReference,
		OrderInfo:      req.OrderInfo,
	})

	tx := models.Transaction{
		UserID:           req.UserID,
		OrderReference:   req.OrderReference,
		Amount:           req.Amount,
		Method:           req.Method,
		Provider:         s.gw.Provider(),
		Status:           models.TxnPending,
		GatewayRequestID: res.CorrelationID,
		Details:          req.Details.Normalize(),
	}

	if gwErr != nil {
		e := apperror.As(gwErr)
		if e.Kind != apperror.Gateway && e.Kind != apperror.Transport {
			return models.Transaction{}, gwErr
		}
		tx.Status = models.TxnFailed
		patch := models.Details{"errorMessage": e.Message}
		outcome := "rejected"
		if e.Kind == apperror.Gateway {
			patch["errorCode"] = e.ProviderCode
			patch["gatewayResponse"] = e.Details
		} else {
			patch["errorKind"] = "transport"
			outcome = "transport"
		}
		tx.Details = tx.Details.Merge(patch)
		metrics.PaymentsInitiated.WithLabelValues(string(req.Method), outcome).Inc()

		saved, err := s.trx.Create(ctx, tx)
		if err != nil {
			s.log.Error("could not record failed initiation",
				"gateway_request_id", res.CorrelationID, "err", err)
			return models.Transaction{}, gwErr
		}
		s.auditTxn(ctx, saved, models.AuditCreated, models.Details{"status": saved.Status, "errorKind": e.Kind})
		s.log.Warn("payment initiation failed",
			"transaction_id", saved.ID, "gateway_request_id", saved.GatewayRequestID,
			"kind", e.Kind, "provider_code", e.ProviderCode)
		return saved, &apperror.Error{
			Kind:         e.Kind,
			Message:      e.Message,
			ProviderCode: e.ProviderCode,
			Details:      map[string]any{"paymentId": saved.ID, "provider": e.Details},
			Err:          gwErr,
		}
	}

	tx.Details = tx.Details.Merge(models.Details{
		"redirectUrl": nilIfEmpty(res.RedirectURL),
		"deepLink":    nilIfEmpty(res.DeepLink),
		"qrPayload":   nilIfEmpty(res.QRPayload),
	})
	saved, err := s.trx.Create(ctx, tx)
	if err != nil {
		s.log.Error("payment initiated but not recorded", "gateway_request_id", res.CorrelationID, "err", err)
		return models.Transaction{}, storeErr(err, "transaction")
	}
	metrics.PaymentsInitiated.WithLabelValues(string(req.Method), "pending").Inc()
	s.auditTxn(ctx, saved, models.AuditCreated, models.Details{"status": saved.Status, "amount": saved.Amount})
	s.log.Info("payment initiated",
		"transaction_id", saved.ID, "gateway_request_id", saved.GatewayRequestID,
		"order_reference", logger.Mask(saved.OrderReference), "amount", saved.Amount)
	return saved, nil
}

// ----------------- Callbacks -----------------

// ApplyNotification handles the server-to-server push. Nothing is read or
// written before the signature checks out.
func (s *PaymentService) ApplyNotification(ctx context.Context, fields map[string]string) (CallbackOutcome, error) {
	if !s.gw.VerifyCallback(fields) {
		s.rejectSignature(ctx, fields, SourceNotification)
		return CallbackOutcome{}, apperror.New(apperror.Signature, "invalid signature")
	}
	return s.resolve(ctx, fields, SourceNotification)
}

// ApplyRedirect handles the user's browser coming back from the provider.
// A correctly signed redirect is applied like a notification; anything else
// only reads the stored record for display.
func (s *PaymentService) ApplyRedirect(ctx context.Context, fields map[string]string) (CallbackOutcome, error) {
	if fields["signature"] != "" {
		if s.gw.VerifyCallback(fields) {
			return s.resolve(ctx, fields, SourceRedirect)
		}
		s.rejectSignature(ctx, fields, SourceRedirect)
	}

	correlationID := fields["orderId"]
	if correlationID == "" {
		return CallbackOutcome{}, apperror.New(apperror.Validation, "orderId is required")
	}
	tx, err := s.trx.FindOne(ctx, repo.TransactionFilter{GatewayRequestID: correlationID})
	if err != nil {
		return CallbackOutcome{}, storeErr(err, "transaction")
	}
	return CallbackOutcome{Transaction: tx, Result: ResultDisplay}, nil
}

func (s *PaymentService) rejectSignature(ctx context.Context, fields map[string]string, source string) {
	metrics.CallbackOutcomes.WithLabelValues(source, "bad_signature").Inc()
	s.log.Warn("callback signature rejected", "source", source, "gateway_request_id", fields["orderId"])
	s.audit(ctx, models.AuditEntityPaymentEvent, nil, models.AuditSignatureFail, models.Details{
		"source":     source,
		"orderId":    fields["orderId"],
		"resultCode": fields["resultCode"],
	})
}

func providerTxnID(fields map[string]string) string {
	if v := fields["transId"]; v != "" {
		return v
	}
	return fields["transactionId"]
}

// resolve moves a pending transaction to the status the payload reports.
// The write is conditioned on the record still being pending, so when the
// redirect and the notification race only one of them applies; the loser
// re-reads and ends up as a duplicate or a conflict.
func (s *PaymentService) resolve(ctx context.Context, fields map[string]string, source string) (CallbackOutcome, error) {
	correlationID := fields["orderId"]
	resultCode := fields["resultCode"]
	if correlationID == "" || resultCode == "" {
		return CallbackOutcome{}, apperror.New(apperror.Validation, "orderId and resultCode are required")
	}

	target := models.TxnFailed
	if resultCode == "0" {
		target = models.TxnCompleted
	}

	event := models.Details{
		"source":     source,
		"orderId":    correlationID,
		"resultCode": resultCode,
		"message":    fields["message"],
		"transId":    nilIfEmpty(providerTxnID(fields)),
	}

	tx, err := s.trx.FindOne(ctx, repo.TransactionFilter{GatewayRequestID: correlationID})
	if errors.Is(err, repo.ErrNotFound) {
		metrics.CallbackOutcomes.WithLabelValues(source, "orphan").Inc()
		s.log.Warn("orphan payment event", "source", source, "gateway_request_id", correlationID)
		s.audit(ctx, models.AuditEntityPaymentEvent, nil, models.AuditOrphan, event)
		return CallbackOutcome{}, apperror.Newf(apperror.NotFound, "no transaction for order %s", correlationID)
	}
	if err != nil {
		return CallbackOutcome{}, storeErr(err, "transaction")
	}

	if amt := fields["amount"]; amt != "" && amt != strconv.FormatInt(tx.Amount, 10) {
		return CallbackOutcome{}, s.conflict(ctx, tx, source, target, event, "amount mismatch")
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		// refunded implies it was completed first
		if tx.Status == target || (tx.Status == models.TxnRefunded && target == models.TxnCompleted) {
			metrics.CallbackOutcomes.WithLabelValues(source, "duplicate").Inc()
			s.log.Debug("duplicate payment event", "source", source, "transaction_id", tx.ID, "status", tx.Status)
			s.auditTxn(ctx, tx, models.AuditDuplicate, event)
			return CallbackOutcome{Transaction: tx, Result: ResultDuplicate}, nil
		}
		if tx.Status.Terminal() {
			return CallbackOutcome{}, s.conflict(ctx, tx, source, target, event, "already resolved")
		}

		updated, err := s.trx.UpdateByID(ctx, tx.ID, s.resolutionPatch(fields, target, source), repo.TransactionFilter{Status: models.TxnPending})
		if errors.Is(err, repo.ErrPreconditionFailed) {
			if tx, err = s.trx.FindByID(ctx, tx.ID); err != nil {
				return CallbackOutcome{}, storeErr(err, "transaction")
			}
			continue
		}
		if err != nil {
			return CallbackOutcome{}, storeErr(err, "transaction")
		}

		metrics.PaymentTransitions.WithLabelValues(string(tx.Status), string(updated.Status), source).Inc()
		metrics.CallbackOutcomes.WithLabelValues(source, "applied").Inc()
		s.auditTxn(ctx, updated, models.AuditStatusChange, event.Merge(models.Details{"from": tx.Status, "to": updated.Status}))
		s.log.Info("payment resolved",
			"source", source, "transaction_id", updated.ID, "gateway_request_id", correlationID, "status", updated.Status)
		s.notifyAsync(updated)
		return CallbackOutcome{Transaction: updated, Result: ResultApplied}, nil
	}
	return CallbackOutcome{}, apperror.Newf(apperror.Conflict, "transaction %s is being updated concurrently", tx.ID)
}

func (s *PaymentService) resolutionPatch(fields map[string]string, target models.TransactionStatus, source string) repo.TransactionPatch {
	patch := repo.TransactionPatch{Status: &target}
	if target == models.TxnCompleted {
		if id := providerTxnID(fields); id != "" {
			patch.ProviderTransactionID = &id
		}
		patch.Details = models.Details{
			"paidAt":     s.now().UTC().Format(time.RFC3339),
			"resolvedBy": source,
		}
		return patch
	}
	patch.Details = models.Details{
		"errorCode":    fields["resultCode"],
		"errorMessage": nilIfEmpty(fields["message"]),
		"resolvedBy":   source,
	}
	return patch
}

func (s *PaymentService) conflict(ctx context.Context, tx models.Transaction, source string, target models.TransactionStatus, event models.Details, reason string) error {
	metrics.CallbackOutcomes.WithLabelValues(source, "conflict").Inc()
	s.log.Warn("conflicting payment event flagged for review",
		"source", source, "transaction_id", tx.ID, "status", tx.Status, "attempted", target, "reason", reason)
	s.auditTxn(ctx, tx, models.AuditManualReview, event.Merge(models.Details{
		"currentStatus":   tx.Status,
		"attemptedStatus": target,
		"reason":          reason,
	}))
	return apperror.Newf(apperror.Conflict, "transaction %s: %s", tx.ID, reason).
		WithDetails(map[string]any{"paymentId": tx.ID, "status": tx.Status})
}

func (s *PaymentService) notifyAsync(tx models.Transaction) {
	if s.notes == nil || s.wp == nil {
		return
	}
	msg := notify.Message{
		UserID: tx.UserID,
		Type:   models.NotificationPayment,
		Data: map[string]string{
			"paymentId": tx.ID,
			"status":    string(tx.Status),
			"amount":    strconv.FormatInt(tx.Amount, 10),
		},
	}
	switch tx.Status {
	case models.TxnCompleted:
		msg.Title = "Payment successful"
		msg.Body = fmt.Sprintf("Your payment of %d was completed.", tx.Amount)
	case models.TxnFailed:
		msg.Title = "Payment failed"
		msg.Body = fmt.Sprintf("Your payment of %d could not be completed.", tx.Amount)
		if m := tx.Details.String("errorMessage"); m != "" {
			msg.Body += " " + m
		}
	default:
		return
	}

	ok := s.wp.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.notes.Dispatch(ctx, msg); err != nil {
			s.log.Warn("notification dispatch failed", "transaction_id", tx.ID, "err", err)
		}
	})
	if !ok {
		s.log.Warn("notification dropped, worker queue full", "transaction_id", tx.ID)
	}
}

// ----------------- Refund -----------------

// Refund returns a completed payment through the gateway and marks it
// refunded. When the gateway says no, the record stays completed.
func (s *PaymentService) Refund(ctx context.Context, p Principal, id, reason string) (RefundOutcome, error) {
	tx, err := s.trx.FindByID(ctx, id)
	if err != nil {
		return RefundOutcome{}, storeErr(err, "transaction")
	}
	if !p.IsAdmin() && tx.UserID != p.UserID {
		return RefundOutcome{}, apperror.New(apperror.Forbidden, "not your payment")
	}
	switch {
	case tx.Status == models.TxnRefunded:
		return RefundOutcome{}, apperror.Newf(apperror.Conflict, "transaction %s is already refunded", id)
	case tx.Status != models.TxnCompleted:
		return RefundOutcome{}, apperror.Newf(apperror.Conflict, "transaction %s is %s; only completed payments can be refunded", id, tx.Status)
	case tx.ProviderTransactionID == "":
		return RefundOutcome{}, apperror.Newf(apperror.Conflict, "transaction %s has no provider transaction id", id)
	}

	desc := reason
	if desc == "" {
		desc = "Refund for payment " + tx.ID
	}
	res, err := s.gw.Refund(ctx, gateway.RefundIntent{
		ProviderTransactionID: tx.ProviderTransactionID,
		Amount:                tx.Amount,
		Description:           desc,
	})
	if err != nil {
		e := apperror.As(err)
		s.auditTxn(ctx, tx, models.AuditRefundFailed, models.Details{
			"refundId":     res.RefundID,
			"errorKind":    e.Kind,
			"errorCode":    nilIfEmpty(e.ProviderCode),
			"errorMessage": e.Message,
		})
		s.log.Warn("refund failed", "transaction_id", tx.ID, "kind", e.Kind, "provider_code", e.ProviderCode)
		return RefundOutcome{}, err
	}

	refunded := models.TxnRefunded
	updated, err := s.trx.UpdateByID(ctx, tx.ID, repo.TransactionPatch{
		Status: &refunded,
		Details: models.Details{
			"refundId":      res.RefundID,
			"refundTransId": nilIfEmpty(res.ProviderTransactionID),
			"refundReason":  nilIfEmpty(reason),
			"refundedAt":    s.now().UTC().Format(time.RFC3339),
		},
	}, repo.TransactionFilter{Status: models.TxnCompleted})
	if errors.Is(err, repo.ErrPreconditionFailed) {
		s.log.Error("refund accepted by gateway but record moved concurrently",
			"transaction_id", tx.ID, "refund_id", res.RefundID)
		s.auditTxn(ctx, tx, models.AuditManualReview, models.Details{"refundId": res.RefundID, "reason": "concurrent refund"})
		return RefundOutcome{}, apperror.Newf(apperror.Conflict, "transaction %s is already refunded", id)
	}
	if err != nil {
		return RefundOutcome{}, storeErr(err, "transaction")
	}

	metrics.PaymentTransitions.WithLabelValues(string(tx.Status), string(updated.Status), SourceRefund).Inc()
	s.auditTxn(ctx, updated, models.AuditStatusChange, models.Details{
		"from": tx.Status, "to": updated.Status, "source": SourceRefund, "refundId": res.RefundID,
	})
	s.log.Info("payment refunded", "transaction_id", updated.ID, "refund_id", res.RefundID)
	return RefundOutcome{Transaction: updated, RefundID: res.RefundID}, nil
}

// ----------------- Queries -----------------

// Get hides other users' payments behind NotFound unless p is an admin.
func (s *PaymentService) Get(ctx context.Context, p Principal, id string) (models.Transaction, error) {
	tx, err := s.trx.FindByID(ctx, id)
	if err != nil {
		return models.Transaction{}, storeErr(err, "transaction")
	}
	if !p.IsAdmin() && tx.UserID != p.UserID {
		return models.Transaction{}, apperror.New(apperror.NotFound, "transaction not found")
	}
	return tx, nil
}

// ListByUser returns p's own payments, newest first.
func (s *PaymentService) ListByUser(ctx context.Context, p Principal, status models.TransactionStatus, limit, skip int) ([]models.Transaction, error) {
	out, err := s.trx.Find(ctx, repo.TransactionFilter{UserID: p.UserID, Status: status},
		repo.FindOptions{Order: repo.Desc, Limit: limit, Skip: skip})
	if err != nil {
		return nil, storeErr(err, "transactions")
	}
	return out, nil
}

func (s *PaymentService) ListAll(ctx context.Context, p Principal, status models.TransactionStatus, limit, skip int) ([]models.Transaction, error) {
	if !p.IsAdmin() {
		return nil, apperror.New(apperror.Forbidden, "admin only")
	}
	out, err := s.trx.Find(ctx, repo.TransactionFilter{Status: status},
		repo.FindOptions{Order: repo.Desc, Limit: limit, Skip: skip})
	if err != nil {
		return nil, storeErr(err, "transactions")
	}
	return out, nil
}
