package models

import "time"

// AuditLog is an append-only record of what the reconciler saw and did.
type AuditLog struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   *string   `json:"entityId"`
	Action     string    `json:"action"`
	Details    Details   `json:"details"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	AuditEntityTransaction  = "transaction"
	AuditEntityPaymentEvent = "payment_event"
)

const (
	AuditCreated       = "created"
	AuditStatusChange  = "status_change"
	AuditDuplicate     = "duplicate"
	AuditOrphan        = "orphan"
	AuditManualReview  = "manual_review"
	AuditRefundFailed  = "refund_failed"
	AuditSignatureFail = "signature_rejected"
)
