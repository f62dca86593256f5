package models

import "time"

type PaymentMethod string

const (
	MethodWallet     PaymentMethod = "wallet"
	MethodInApp      PaymentMethod = "in_app"
	MethodQR         PaymentMethod = "qr"
	MethodATM        PaymentMethod = "atm"
	MethodCreditCard PaymentMethod = "credit_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodInApp, MethodQR, MethodATM, MethodCreditCard:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnRefunded  TransactionStatus = "refunded"
)

// Terminal reports whether no resolution may be applied on top of s.
// completed is terminal for callbacks even though a refund may still follow.
func (s TransactionStatus) Terminal() bool {
	return s == TxnCompleted || s == TxnFailed || s == TxnRefunded
}

// CanTransition encodes pending -> {completed|failed} -> [refunded].
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	switch s {
	case TxnPending:
		return to == TxnCompleted || to == TxnFailed
	case TxnCompleted:
		return to == TxnRefunded
	}
	return false
}

type Transaction struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	OrderReference        string            `json:"orderReference,omitempty"`
	Amount                int64             `json:"amount"`
	Method                PaymentMethod     `json:"method"`
	Provider              string            `json:"provider"`
	Status                TransactionStatus `json:"status"`
	GatewayRequestID      string            `json:"gatewayRequestId"`
	ProviderTransactionID string            `json:"providerTransactionId,omitempty"`
	Details               Details           `json:"details"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}
