package postgres

import (
	"errors"
	"fmt"
	"strings"

	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
)

// Logical field -> column. Anything not listed here never reaches SQL.
var columns = map[string]string{
	"userId":                "user_id",
	"orderReference":        "order_reference",
	"gatewayRequestId":      "gateway_request_id",
	"providerTransactionId": "provider_transaction_id",
	"method":                "method",
	"status":                "status",
	"amount":                "amount",
	"createdAt":             "created_at",
	"updatedAt":             "updated_at",
}

// where renders predicates as "col=$n AND ..." starting at placeholder n.
func where(preds []repo.Predicate, n int) (string, []any, error) {
	if len(preds) == 0 {
		return "TRUE", nil, nil
	}
	parts := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		col, ok := columns[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown field %q", repo.ErrInvalidQuery, p.Field)
		}
		parts = append(parts, fmt.Sprintf("%s=$%d", col, n))
		args = append(args, p.Value)
		n++
	}
	return strings.Join(parts, " AND "), args, nil
}

// orderBy always ends on seq so ties keep insertion order.
func orderBy(opts repo.FindOptions) string {
	dir := "ASC"
	if opts.Order == repo.Desc {
		dir = "DESC"
	}
	if col, ok := columns[opts.SortBy]; ok && opts.SortBy != "" {
		return fmt.Sprintf("ORDER BY %s %s, seq %s", col, dir, dir)
	}
	return "ORDER BY seq " + dir
}

func page(opts repo.FindOptions) string {
	var b strings.Builder
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", opts.Skip)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
