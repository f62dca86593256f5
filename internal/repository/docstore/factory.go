// Package docstore implements the repository contracts on the schemaless
// document store. Multi-document operations are applied one document at a
// time and are not atomic.
package docstore

import (
	"context"

	"github.com/baharkarakas/payflow/internal/docstore"
	repo "github.com/baharkarakas/payflow/internal/repository"
)

const (
	transactionsCollection  = "transactions"
	notificationsCollection = "notifications"
	auditLogsCollection     = "audit_logs"
)

func NewRepositories(ctx context.Context, store *docstore.Store) (repo.Repositories, error) {
	txns, err := store.Collection(transactionsCollection)
	if err != nil {
		return repo.Repositories{}, err
	}
	if err := txns.EnsureUnique(ctx, "gatewayRequestId"); err != nil {
		return repo.Repositories{}, err
	}
	notes, err := store.Collection(notificationsCollection)
	if err != nil {
		return repo.Repositories{}, err
	}
	audits, err := store.Collection(auditLogsCollection)
	if err != nil {
		return repo.Repositories{}, err
	}
	return repo.Repositories{
		Transactions:  &transactionsRepo{c: txns},
		Notifications: &notificationsRepo{c: notes},
		AuditLogs:     &auditLogsRepo{c: audits},
		Ping:          store.Ping,
		Close:         func() { _ = store.Close() },
	}, nil
}

func conds(preds []repo.Predicate) []docstore.Cond {
	out := make([]docstore.Cond, 0, len(preds))
	for _, p := range preds {
		out = append(out, docstore.Cond{Field: p.Field, Value: p.Value})
	}
	return out
}

func query(preds []repo.Predicate, opts repo.FindOptions) docstore.Query {
	return docstore.Query{
		Where:   conds(preds),
		OrderBy: opts.SortBy,
		Desc:    opts.Order == repo.Desc,
		Limit:   opts.Limit,
		Offset:  opts.Skip,
	}
}
