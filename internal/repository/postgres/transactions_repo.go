package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnColumns = `id, user_id, order_reference, amount, method, provider, status,
  gateway_request_id, provider_transaction_id, details, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx  models.Transaction
		raw []byte
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.OrderReference, &tx.Amount, &tx.Method, &tx.Provider, &tx.Status,
		&tx.GatewayRequestID, &tx.ProviderTransactionID, &raw, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return tx, err
	}
	tx.Details = models.Details{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &tx.Details); err != nil {
			return tx, fmt.Errorf("decode details: %w", err)
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}

func encodeDetails(d models.Details) ([]byte, error) {
	return json.Marshal(d.Normalize())
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	details, err := encodeDetails(tx.Details)
	if err != nil {
		return tx, fmt.Errorf("encode details: %w", err)
	}
	q := `
INSERT INTO transactions (
  id, user_id, order_reference, amount, method, provider, status,
  gateway_request_id, provider_transaction_id, details
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb)
RETURNING ` + txnColumns
	out, err := scanTransaction(r.pool.QueryRow(ctx, q,
		tx.ID, tx.UserID, tx.OrderReference, tx.Amount, tx.Method, tx.Provider, tx.Status,
		tx.GatewayRequestID, tx.ProviderTransactionID, details,
	))
	if isUniqueViolation(err) {
		return tx, fmt.Errorf("create transaction %s: %w", tx.GatewayRequestID, repo.ErrDuplicate)
	}
	return out, err
}

func (r *transactionsRepo) FindByID(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return tx, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	return tx, err
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
	cond, args, err := where(f.Predicates(), 1)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE `+cond+` `+orderBy(opts)+page(opts),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UpdateByID locks the row, checks expect against the locked state and
// writes the patched record in the same transaction.
func (r *transactionsRepo) UpdateByID(ctx context.Context, id string, patch repo.TransactionPatch, expect repo.TransactionFilter) (models.Transaction, error) {
	var out models.Transaction
	err := r.WithTx(ctx, func(dbtx pgx.Tx) error {
		cur, err := scanTransaction(dbtx.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !expect.Matches(cur) {
			return fmt.Errorf("transaction %s is %s: %w", id, cur.Status, repo.ErrPreconditionFailed)
		}
		if err := patch.Apply(&cur, time.Now()); err != nil {
			return err
		}
		details, err := encodeDetails(cur.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		out, err = scanTransaction(dbtx.QueryRow(ctx, `
UPDATE transactions
   SET status=$2, provider_transaction_id=$3, details=$4::jsonb, updated_at=$5
 WHERE id=$1
RETURNING `+txnColumns,
			id, cur.Status, cur.ProviderTransactionID, details, cur.UpdatedAt,
		))
		return err
	})
	return out, err
}

func (r *transactionsRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	return true, nil
}

// WithTx runs fn inside a single read-committed transaction; the row lock
// taken by FOR UPDATE is what serializes concurrent writers.
func (r *transactionsRepo) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
