package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, store *LedgerStore, userID uint, balance string) *models.Account {
	t.Helper()
	account := &models.Account{UserID: userID, Balance: decimal.RequireFromString(balance)}
	require.NoError(t, store.Atomic(context.Background(), func(l repositories.Ledger) error {
		return l.Accounts().Create(context.Background(), account)
	}))
	return account
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	account := seedAccount(t, store, 1, "100")

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(l repositories.Ledger) error {
		if _, err := l.Accounts().AdjustBalance(ctx, repositories.AdjustBalance{AccountID: account.ID, Delta: decimal.NewFromInt(-40)}); err != nil {
			return err
		}
		if err := l.Transactions().Create(ctx, &models.Transaction{Reference: "TRF-1", UserID: 1, AccountID: account.ID, Type: models.TransactionTypeTransfer, Amount: decimal.NewFromInt(40)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.Read(ctx, func(l repositories.Ledger) error {
		got, err := l.Accounts().GetByUserID(ctx, 1)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

		_, err = l.Transactions().GetByReference(ctx, "TRF-1")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		return nil
	}))
}

func TestAdjustBalance_RefusesNegative(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	account := seedAccount(t, store, 1, "10")

	err := store.Atomic(ctx, func(l repositories.Ledger) error {
		_, err := l.Accounts().AdjustBalance(ctx, repositories.AdjustBalance{AccountID: account.ID, Delta: decimal.NewFromInt(-11)})
		return err
	})
	assert.ErrorIs(t, err, repositories.ErrNegativeBalance)
}

func TestTransactions_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()

	create := func() error {
		return store.Atomic(ctx, func(l repositories.Ledger) error {
			return l.Transactions().Create(ctx, &models.Transaction{Reference: "DEP-1", UserID: 1, Type: models.TransactionTypeDeposit, Amount: decimal.NewFromInt(5)})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), apperrors.ErrDuplicateReference)
}

func TestTransactions_SetStatusChecksCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	tx := &models.Transaction{Reference: "DEP-1", UserID: 1, Type: models.TransactionTypeDeposit, Amount: decimal.NewFromInt(5)}
	require.NoError(t, store.Atomic(ctx, func(l repositories.Ledger) error {
		return l.Transactions().Create(ctx, tx)
	}))

	move := func(from, to models.TransactionStatus) error {
		return store.Atomic(ctx, func(l repositories.Ledger) error {
			return l.Transactions().SetStatus(ctx, repositories.SetStatus{TransactionID: tx.ID, From: from, To: to})
		})
	}
	require.NoError(t, move(models.StatusPending, models.StatusCompleted))
	assert.ErrorIs(t, move(models.StatusPending, models.StatusFailed), repositories.ErrStaleStatus)
}

func TestTransactions_SumUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := NewLedgerStore(WithClock(func() time.Time { return now }))
	cardID := uint(9)

	rows := []models.Transaction{
		{Reference: "a", Type: models.TransactionTypeTransfer, Status: models.StatusCompleted, Amount: decimal.NewFromInt(100)},
		{Reference: "b", Type: models.TransactionTypePayment, Status: models.StatusCompleted, Amount: decimal.NewFromInt(50), CardID: &cardID},
		{Reference: "c", Type: models.TransactionTypeWithdrawal, Status: models.StatusPending, Settlement: models.SettlementGateway, Amount: decimal.NewFromInt(30)},
		{Reference: "d", Type: models.TransactionTypeDeposit, Status: models.StatusCompleted, Amount: decimal.NewFromInt(1000)},
		{Reference: "e", Type: models.TransactionTypeTransfer, Status: models.StatusFailed, Amount: decimal.NewFromInt(7)},
		{Reference: "f", Type: models.TransactionTypeTransfer, Status: models.StatusCompleted, Amount: decimal.NewFromInt(11), CreatedAt: now.AddDate(0, 0, -1)},
	}
	require.NoError(t, store.Atomic(ctx, func(l repositories.Ledger) error {
		for i := range rows {
			rows[i].UserID = 1
			if err := l.Transactions().Create(ctx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	}))

	dayStart := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Read(ctx, func(l repositories.Ledger) error {
		total, err := l.Transactions().SumUsage(ctx, repositories.UsageQuery{UserID: 1, From: dayStart, To: dayStart.AddDate(0, 0, 1)})
		require.NoError(t, err)
		assert.Equal(t, "180", total.String())

		total, err = l.Transactions().SumUsage(ctx, repositories.UsageQuery{UserID: 1, CardID: &cardID, From: dayStart, To: dayStart.AddDate(0, 0, 1)})
		require.NoError(t, err)
		assert.Equal(t, "50", total.String())
		return nil
	}))
}

func TestRead_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	err := store.Read(ctx, func(l repositories.Ledger) error {
		return l.Accounts().Create(ctx, &models.Account{UserID: 1})
	})
	assert.ErrorIs(t, err, repositories.ErrReadOnly)
}
