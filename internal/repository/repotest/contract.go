// Package repotest holds the behaviour every storage backend must share.
// Backend packages call Run from their own tests.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/baharkarakas/payflow/internal/models"
	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns empty repositories for one sub-test.
type Factory func(t *testing.T) repo.Repositories

func Run(t *testing.T, newRepos Factory) {
	t.Run("transactions", func(t *testing.T) { runTransactions(t, newRepos) })
	t.Run("notifications", func(t *testing.T) { runNotifications(t, newRepos) })
	t.Run("audit_logs", func(t *testing.T) {
		r := newRepos(t)
		id := "tx-1"
		err := r.AuditLogs.Create(context.Background(), models.AuditLog{
			EntityType: models.AuditEntityTransaction,
			EntityID:   &id,
			Action:     models.AuditStatusChange,
			Details:    models.Details{"from": "pending", "to": "completed", "missing": (*string)(nil)},
		})
		require.NoError(t, err)
		require.NoError(t, r.AuditLogs.Create(context.Background(), models.AuditLog{
			EntityType: models.AuditEntityPaymentEvent,
			Action:     models.AuditOrphan,
		}))
	})
	t.Run("ping", func(t *testing.T) {
		r := newRepos(t)
		require.NoError(t, r.Ping(context.Background()))
	})
}

func pending(userID string, amount int64) models.Transaction {
	return models.Transaction{
		UserID:           userID,
		OrderReference:   "ORD-" + uuid.NewString()[:8],
		Amount:           amount,
		Method:           models.MethodWallet,
		Provider:         "momo",
		Status:           models.TxnPending,
		GatewayRequestID: uuid.NewString(),
		Details:          models.Details{"redirectUrl": "https://pay.example/r"},
	}
}

func status(s models.TransactionStatus) *models.TransactionStatus { return &s }

func str(s string) *string { return &s }

func runTransactions(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("create assigns id and timestamps and normalizes details", func(t *testing.T) {
		txns := newRepos(t).Transactions
		in := pending("u1", 50000)
		var nilMap map[string]any
		var nilList []any
		in.Details["deepLink"] = (*string)(nil)
		in.Details["extra"] = nilMap
		in.Details["items"] = nilList
		in.Details["meta"] = models.Details(nil)

		got, err := txns.Create(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Equal(t, got.CreatedAt, got.UpdatedAt)
		assert.Equal(t, models.TxnPending, got.Status)

		back, err := txns.FindByID(ctx, got.ID)
		require.NoError(t, err)
		assert.Equal(t, got.GatewayRequestID, back.GatewayRequestID)
		assert.EqualValues(t, 50000, back.Amount)
		assert.Equal(t, "https://pay.example/r", back.Details["redirectUrl"])
		v, ok := back.Details["deepLink"]
		assert.True(t, ok)
		assert.Nil(t, v)
		for _, k := range []string{"extra", "items", "meta"} {
			v, ok := back.Details[k]
			assert.True(t, ok, k)
			assert.Nil(t, v, k)
		}
	})

	t.Run("find by id on missing id is not found", func(t *testing.T) {
		txns := newRepos(t).Transactions
		_, err := txns.FindByID(ctx, "does-not-exist")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("gateway request id is unique", func(t *testing.T) {
		txns := newRepos(t).Transactions
		first := pending("u1", 1000)
		_, err := txns.Create(ctx, first)
		require.NoError(t, err)

		dup := pending("u2", 2000)
		dup.GatewayRequestID = first.GatewayRequestID
		_, err = txns.Create(ctx, dup)
		assert.ErrorIs(t, err, repo.ErrDuplicate)
	})

	t.Run("find one and find with filters", func(t *testing.T) {
		txns := newRepos(t).Transactions
		a, err := txns.Create(ctx, pending("alice", 3000))
		require.NoError(t, err)
		_, err = txns.Create(ctx, pending("bob", 1000))
		require.NoError(t, err)
		c, err := txns.Create(ctx, pending("alice", 2000))
		require.NoError(t, err)

		one, err := txns.FindOne(ctx, repo.TransactionFilter{GatewayRequestID: c.GatewayRequestID})
		require.NoError(t, err)
		assert.Equal(t, c.ID, one.ID)

		first, err := txns.FindOne(ctx, repo.TransactionFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, a.ID, first.ID)

		_, err = txns.FindOne(ctx, repo.TransactionFilter{UserID: "nobody"})
		assert.ErrorIs(t, err, repo.ErrNotFound)

		list, err := txns.Find(ctx, repo.TransactionFilter{UserID: "alice"}, repo.FindOptions{SortBy: "amount"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, []string{c.ID, a.ID}, []string{list[0].ID, list[1].ID})

		all, err := txns.Find(ctx, repo.TransactionFilter{}, repo.FindOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := txns.Find(ctx, repo.TransactionFilter{Status: models.TxnRefunded}, repo.FindOptions{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("find breaks sort ties by insertion order and pages", func(t *testing.T) {
		txns := newRepos(t).Transactions
		var ids []string
		for i := 0; i < 5; i++ {
			tx, err := txns.Create(ctx, pending("u1", 5000))
			require.NoError(t, err)
			ids = append(ids, tx.ID)
		}

		asc, err := txns.Find(ctx, repo.TransactionFilter{}, repo.FindOptions{SortBy: "amount", Order: repo.Asc})
		require.NoError(t, err)
		assert.Equal(t, ids, idsOf(asc))

		desc, err := txns.Find(ctx, repo.TransactionFilter{}, repo.FindOptions{Order: repo.Desc})
		require.NoError(t, err)
		assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, idsOf(desc))

		page, err := txns.Find(ctx, repo.TransactionFilter{}, repo.FindOptions{Limit: 2, Skip: 1})
		require.NoError(t, err)
		assert.Equal(t, ids[1:3], idsOf(page))

		_, err = txns.Find(ctx, repo.TransactionFilter{}, repo.FindOptions{SortBy: "details"})
		assert.ErrorIs(t, err, repo.ErrInvalidQuery)
	})

	t.Run("update applies patch under expected status", func(t *testing.T) {
		txns := newRepos(t).Transactions
		tx, err := txns.Create(ctx, pending("u1", 50000))
		require.NoError(t, err)

		updated, err := txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{
			Status:                status(models.TxnCompleted),
			ProviderTransactionID: str("4088878653"),
			Details:               models.Details{"paidAt": "2024-01-01T00:00:00Z"},
		}, repo.TransactionFilter{Status: models.TxnPending})
		require.NoError(t, err)
		assert.Equal(t, models.TxnCompleted, updated.Status)
		assert.Equal(t, "4088878653", updated.ProviderTransactionID)
		assert.Equal(t, "https://pay.example/r", updated.Details["redirectUrl"])
		assert.Equal(t, "2024-01-01T00:00:00Z", updated.Details["paidAt"])
		assert.False(t, updated.UpdatedAt.Before(tx.UpdatedAt))

		_, err = txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{Status: status(models.TxnFailed)},
			repo.TransactionFilter{Status: models.TxnPending})
		assert.ErrorIs(t, err, repo.ErrPreconditionFailed)

		back, err := txns.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxnCompleted, back.Status)
	})

	t.Run("update refuses illegal transitions and provider id rewrites", func(t *testing.T) {
		txns := newRepos(t).Transactions
		tx, err := txns.Create(ctx, pending("u1", 50000))
		require.NoError(t, err)

		_, err = txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{Status: status(models.TxnRefunded)}, repo.TransactionFilter{})
		assert.ErrorIs(t, err, repo.ErrPreconditionFailed)

		_, err = txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{
			Status: status(models.TxnCompleted), ProviderTransactionID: str("p-1"),
		}, repo.TransactionFilter{})
		require.NoError(t, err)

		_, err = txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{ProviderTransactionID: str("p-2")}, repo.TransactionFilter{})
		assert.ErrorIs(t, err, repo.ErrPreconditionFailed)

		_, err = txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{Status: status(models.TxnPending)}, repo.TransactionFilter{})
		assert.ErrorIs(t, err, repo.ErrPreconditionFailed)

		back, err := txns.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "p-1", back.ProviderTransactionID)
		assert.Equal(t, models.TxnCompleted, back.Status)
	})

	t.Run("update on missing id is not found", func(t *testing.T) {
		txns := newRepos(t).Transactions
		_, err := txns.UpdateByID(ctx, "does-not-exist", repo.TransactionPatch{Status: status(models.TxnFailed)}, repo.TransactionFilter{})
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("concurrent conflicting updates have one winner", func(t *testing.T) {
		txns := newRepos(t).Transactions
		tx, err := txns.Create(ctx, pending("u1", 50000))
		require.NoError(t, err)

		targets := []models.TransactionStatus{models.TxnCompleted, models.TxnFailed, models.TxnCompleted, models.TxnFailed}
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			winner []models.TransactionStatus
		)
		for _, to := range targets {
			wg.Add(1)
			go func(to models.TransactionStatus) {
				defer wg.Done()
				_, err := txns.UpdateByID(ctx, tx.ID, repo.TransactionPatch{Status: status(to)},
					repo.TransactionFilter{Status: models.TxnPending})
				if err != nil {
					assert.ErrorIs(t, err, repo.ErrPreconditionFailed)
					return
				}
				mu.Lock()
				winner = append(winner, to)
				mu.Unlock()
			}(to)
		}
		wg.Wait()

		require.Len(t, winner, 1)
		back, err := txns.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, winner[0], back.Status)
	})

	t.Run("delete", func(t *testing.T) {
		txns := newRepos(t).Transactions
		tx, err := txns.Create(ctx, pending("u1", 50000))
		require.NoError(t, err)

		ok, err := txns.DeleteByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = txns.DeleteByID(ctx, tx.ID)
		assert.ErrorIs(t, err, repo.ErrNotFound)
		assert.False(t, ok)
	})
}

func runNotifications(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("create list and mark all read", func(t *testing.T) {
		notes := newRepos(t).Notifications
		for i := 0; i < 3; i++ {
			_, err := notes.Create(ctx, models.Notification{
				UserID: "u1",
				Title:  fmt.Sprintf("Payment %d", i),
				Body:   "Your payment was completed",
				Data:   map[string]string{"paymentId": fmt.Sprint(i)},
				Type:   models.NotificationPayment,
			})
			require.NoError(t, err)
		}
		other, err := notes.Create(ctx, models.Notification{UserID: "u2", Title: "t", Body: "b", Type: models.NotificationSystem})
		require.NoError(t, err)
		assert.NotNil(t, other.Data)
		assert.NotNil(t, other.DeviceTokens)

		list, err := notes.ListByUser(ctx, "u1", repo.FindOptions{Order: repo.Desc})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "Payment 2", list[0].Title)
		assert.Equal(t, "2", list[0].Data["paymentId"])
		assert.False(t, list[0].IsRead)

		n, err := notes.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = notes.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		list, err = notes.ListByUser(ctx, "u1", repo.FindOptions{})
		require.NoError(t, err)
		for _, n := range list {
			assert.True(t, n.IsRead)
		}

		theirs, err := notes.ListByUser(ctx, "u2", repo.FindOptions{})
		require.NoError(t, err)
		require.Len(t, theirs, 1)
		assert.False(t, theirs[0].IsRead)
	})

	t.Run("unread count and mark one read", func(t *testing.T) {
		notes := newRepos(t).Notifications
		var ids []string
		for i := 0; i < 2; i++ {
			n, err := notes.Create(ctx, models.Notification{UserID: "u1", Title: "t", Body: "b", Type: models.NotificationPayment})
			require.NoError(t, err)
			ids = append(ids, n.ID)
		}

		count, err := notes.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		got, err := notes.FindByID(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)

		read, err := notes.MarkRead(ctx, ids[0])
		require.NoError(t, err)
		assert.True(t, read.IsRead)
		assert.Equal(t, ids[0], read.ID)

		again, err := notes.MarkRead(ctx, ids[0])
		require.NoError(t, err)
		assert.True(t, again.IsRead)
		assert.True(t, read.UpdatedAt.Equal(again.UpdatedAt))

		count, err = notes.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = notes.CountUnread(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, count)

		_, err = notes.MarkRead(ctx, "does-not-exist")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		_, err = notes.FindByID(ctx, "does-not-exist")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func idsOf(list []models.Transaction) []string {
	out := make([]string, 0, len(list))
	for _, tx := range list {
		out = append(out, tx.ID)
	}
	return out
}
