package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/payflow/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed: the record exists but no longer matches the
	// expected field values given to UpdateByID.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDuplicate          = errors.New("duplicate record")
	ErrInvalidQuery       = errors.New("invalid query")
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// FindOptions applies to every Find call. Zero values mean: sort by
// creation order, ascending, no limit, no skip.
type FindOptions struct {
	SortBy string
	Order  Order
	Limit  int
	Skip   int
}

// Sortable fields, by logical (JSON) name.
var SortFields = map[string]bool{
	"createdAt": true,
	"updatedAt": true,
	"amount":    true,
	"status":    true,
}

func (o FindOptions) Validate() error {
	if o.SortBy != "" && !SortFields[o.SortBy] {
		return fmt.Errorf("%w: cannot sort by %q", ErrInvalidQuery, o.SortBy)
	}
	if o.Order != "" && o.Order != Asc && o.Order != Desc {
		return fmt.Errorf("%w: order %q", ErrInvalidQuery, o.Order)
	}
	if o.Limit < 0 || o.Skip < 0 {
		return fmt.Errorf("%w: negative limit or skip", ErrInvalidQuery)
	}
	return nil
}

// Predicate is one equality condition on a logical field.
type Predicate struct {
	Field string
	Value any
}

// TransactionFilter is a conjunction of equality predicates. Empty fields
// are ignored.
type TransactionFilter struct {
	UserID                string
	OrderReference        string
	GatewayRequestID      string
	ProviderTransactionID string
	Method                models.PaymentMethod
	Status                models.TransactionStatus
}

func (f TransactionFilter) Predicates() []Predicate {
	var p []Predicate
	add := func(field, v string) {
		if v != "" {
			p = append(p, Predicate{Field: field, Value: v})
		}
	}
	add("userId", f.UserID)
	add("orderReference", f.OrderReference)
	add("gatewayRequestId", f.GatewayRequestID)
	add("providerTransactionId", f.ProviderTransactionID)
	add("method", string(f.Method))
	add("status", string(f.Status))
	return p
}

func (f TransactionFilter) Empty() bool { return len(f.Predicates()) == 0 }

// Matches evaluates the filter against an in-memory record.
func (f TransactionFilter) Matches(tx models.Transaction) bool {
	return (f.UserID == "" || f.UserID == tx.UserID) &&
		(f.OrderReference == "" || f.OrderReference == tx.OrderReference) &&
		(f.GatewayRequestID == "" || f.GatewayRequestID == tx.GatewayRequestID) &&
		(f.ProviderTransactionID == "" || f.ProviderTransactionID == tx.ProviderTransactionID) &&
		(f.Method == "" || f.Method == tx.Method) &&
		(f.Status == "" || f.Status == tx.Status)
}

// TransactionPatch lists the only fields a transaction may change after
// creation. Details are merged key by key.
type TransactionPatch struct {
	Status                *models.TransactionStatus
	ProviderTransactionID *string
	Details               models.Details
}

// Apply mutates tx in place. It refuses transitions outside the lifecycle
// graph and never overwrites a provider transaction id that is already set.
func (p TransactionPatch) Apply(tx *models.Transaction, now time.Time) error {
	if p.Status != nil && *p.Status != tx.Status {
		if !tx.Status.CanTransition(*p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrPreconditionFailed, tx.Status, *p.Status)
		}
		tx.Status = *p.Status
	}
	if p.ProviderTransactionID != nil && *p.ProviderTransactionID != tx.ProviderTransactionID {
		if tx.ProviderTransactionID != "" {
			return fmt.Errorf("%w: provider transaction id already set", ErrPreconditionFailed)
		}
		tx.ProviderTransactionID = *p.ProviderTransactionID
	}
	if len(p.Details) > 0 {
		tx.Details = tx.Details.Merge(p.Details)
	} else {
		tx.Details = tx.Details.Normalize()
	}
	tx.UpdatedAt = now.UTC()
	return nil
}

// Transactions is the persistence contract both backends satisfy with
// identical observable behaviour.
type Transactions interface {
	// Create assigns the id and timestamps. Details are normalized.
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	FindByID(ctx context.Context, id string) (models.Transaction, error)
	// FindOne returns the first match in creation order, or ErrNotFound.
	FindOne(ctx context.Context, f TransactionFilter) (models.Transaction, error)
	Find(ctx context.Context, f TransactionFilter, opts FindOptions) ([]models.Transaction, error)
	// UpdateByID applies patch only if the stored record still matches
	// expect; the read, check and write are a single atomic step.
	UpdateByID(ctx context.Context, id string, patch TransactionPatch, expect TransactionFilter) (models.Transaction, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

type Notifications interface {
	Create(ctx context.Context, n models.Notification) (models.Notification, error)
	ListByUser(ctx context.Context, userID string, opts FindOptions) ([]models.Notification, error)
	FindByID(ctx context.Context, id string) (models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead is idempotent; updatedAt only moves when the flag changes.
	MarkRead(ctx context.Context, id string) (models.Notification, error)
	// MarkAllRead returns how many notifications changed.
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

// Repositories is what a storage backend hands to the services.
type Repositories struct {
	Transactions  Transactions
	Notifications Notifications
	AuditLogs     AuditLogs

	Ping  func(ctx context.Context) error
	Close func()
}
