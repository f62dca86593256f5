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

// Conditional writes lose to a concurrent writer at most this many times
// before UpdateByID gives up.
const maxUpdateAttempts = 3

type transactionsRepo struct{ c *docstore.Collection }

// transactionDoc is the stored shape. Timestamps are unix nanoseconds so
// that they sort numerically; the id lives outside the body.
type transactionDoc struct {
	UserID                string         `json:"userId"`
	OrderReference        string         `json:"orderReference"`
	Amount                int64          `json:"amount"`
	Method                string         `json:"method"`
	Provider              string         `json:"provider"`
	Status                string         `json:"status"`
	GatewayRequestID      string         `json:"gatewayRequestId"`
	ProviderTransactionID string         `json:"providerTransactionId"`
	Details               models.Details `json:"details"`
	CreatedAt             int64          `json:"createdAt"`
	UpdatedAt             int64          `json:"updatedAt"`
}

func toDoc(tx models.Transaction) transactionDoc {
	return transactionDoc{
		UserID:                tx.UserID,
		OrderReference:        tx.OrderReference,
		Amount:                tx.Amount,
		Method:                string(tx.Method),
		Provider:              tx.Provider,
		Status:                string(tx.Status),
		GatewayRequestID:      tx.GatewayRequestID,
		ProviderTransactionID: tx.ProviderTransactionID,
		Details:               tx.Details.Normalize(),
		CreatedAt:             tx.CreatedAt.UnixNano(),
		UpdatedAt:             tx.UpdatedAt.UnixNano(),
	}
}

func fromDoc(d docstore.Document) (models.Transaction, error) {
	var td transactionDoc
	if err := d.Decode(&td); err != nil {
		return models.Transaction{}, fmt.Errorf("decode transaction %s: %w", d.ID, err)
	}
	if td.Details == nil {
		td.Details = models.Details{}
	}
	return models.Transaction{
		ID:                    d.ID,
		UserID:                td.UserID,
		OrderReference:        td.OrderReference,
		Amount:                td.Amount,
		Method:                models.PaymentMethod(td.Method),
		Provider:              td.Provider,
		Status:                models.TransactionStatus(td.Status),
		GatewayRequestID:      td.GatewayRequestID,
		ProviderTransactionID: td.ProviderTransactionID,
		Details:               td.Details,
		CreatedAt:             time.Unix(0, td.CreatedAt).UTC(),
		UpdatedAt:             time.Unix(0, td.UpdatedAt).UTC(),
	}, nil
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	now := time.Now().UTC()
	tx.CreatedAt, tx.UpdatedAt = now, now
	tx.Details = tx.Details.Normalize()

	doc, err := r.c.Add(ctx, toDoc(tx))
	if errors.Is(err, docstore.ErrDuplicate) {
		return tx, fmt.Errorf("create transaction %s: %w", tx.GatewayRequestID, repo.ErrDuplicate)
	}
	if err != nil {
		return tx, err
	}
	return fromDoc(doc)
}

func (r *transactionsRepo) get(ctx context.Context, id string) (docstore.Document, error) {
	doc, err := r.c.Get(ctx, id)
	if errors.Is(err, docstore.ErrNoDocument) {
		return doc, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	return doc, err
}

func (r *transactionsRepo) FindByID(ctx context.Context, id string) (models.Transaction, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	return fromDoc(doc)
}

func (r *transactionsRepo) FindOne(ctx context.Context, f repo.TransactionFilter) (models.Transaction, error) {
	list, err := r.Find(ctx, f, repo.FindOptions{Limit: 1})
	if err != nil {
		return models.Transaction{}, err
	}
	if len(list) == 0 {
		return models.Transaction{}, fmt.Errorf("transaction: %w", repo.ErrNotFound)
	}
	return list[0], nil
}

func (r *transactionsRepo) Find(ctx context.Context, f repo.TransactionFilter, opts repo.FindOptions) ([]models.Transaction, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	docs, err := r.c.Query(ctx, query(f.Predicates(), opts))
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(docs))
	for _, d := range docs {
		tx, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// UpdateByID is read, check, then a write conditioned on the version that
// was read. Losing the race re-reads and re-checks expect, so a writer that
// moved the status elsewhere turns into ErrPreconditionFailed.
func (r *transactionsRepo) UpdateByID(ctx context.Context, id string, patch repo.TransactionPatch, expect repo.TransactionFilter) (models.Transaction, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := r.get(ctx, id)
		if err != nil {
			return models.Transaction{}, err
		}
		cur, err := fromDoc(doc)
		if err != nil {
			return models.Transaction{}, err
		}
		if !expect.Matches(cur) {
			return models.Transaction{}, fmt.Errorf("transaction %s is %s: %w", id, cur.Status, repo.ErrPreconditionFailed)
		}
		if err := patch.Apply(&cur, time.Now()); err != nil {
			return models.Transaction{}, err
		}

		_, err = r.c.Update(ctx, id, toDoc(cur), doc.Version)
		switch {
		case err == nil:
			return cur, nil
		case errors.Is(err, docstore.ErrVersionMismatch):
			continue
		case errors.Is(err, docstore.ErrNoDocument):
			return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
		default:
			return models.Transaction{}, err
		}
	}
	return models.Transaction{}, fmt.Errorf("transaction %s: concurrent writers: %w", id, repo.ErrPreconditionFailed)
}

func (r *transactionsRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	err := r.c.Delete(ctx, id)
	if errors.Is(err, docstore.ErrNoDocument) {
		return false, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
