package transaction

import (
	"context"
	"errors"
	"fmt"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
)

// Transition reports whether from -> to is a legal lifecycle move.
//
//	pending   -> completed | failed | cancelled
//	completed -> cancelled (compensation)
func Transition(from, to models.TransactionStatus) error {
	switch from {
	case models.StatusPending:
		switch to {
		case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
			return nil
		}
	case models.StatusCompleted:
		if to == models.StatusCancelled {
			return nil
		}
	}
	return &apperrors.IllegalTransitionError{Current: string(from), Target: string(to)}
}

// Effect is the balance delta implied by moving tx to `to`.
func Effect(tx *models.Transaction, to models.TransactionStatus) decimal.Decimal {
	switch tx.Type.Direction() {
	case models.DirectionDebit:
		switch {
		case tx.Status == models.StatusCompleted && to == models.StatusCancelled:
			return tx.Total()
		case tx.Status == models.StatusPending && tx.EagerlyDebited() &&
			(to == models.StatusFailed || to == models.StatusCancelled):
			return tx.Total()
		}
	case models.DirectionCredit:
		if tx.Status == models.StatusPending && to == models.StatusCompleted {
			return tx.Amount
		}
	}
	return decimal.Zero
}

// Apply moves tx to `to` inside l and applies its balance effect. tx must
// have been read through a Lock* method of the same ledger. It returns the
// account balance afterwards.
func Apply(ctx context.Context, l repositories.Ledger, tx *models.Transaction, to models.TransactionStatus, reason string) (decimal.Decimal, error) {
	if err := Transition(tx.Status, to); err != nil {
		return decimal.Zero, err
	}

	account, err := l.Accounts().LockByUserID(ctx, tx.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := account.Balance
	if delta := Effect(tx, to); !delta.IsZero() {
		balance, err = l.Accounts().AdjustBalance(ctx, repositories.AdjustBalance{AccountID: account.ID, Delta: delta})
		if err != nil {
			if errors.Is(err, repositories.ErrNegativeBalance) {
				return decimal.Zero, apperrors.NewInsufficientBalance(account.Balance, delta.Neg())
			}
			return decimal.Zero, fmt.Errorf("failed to apply %s effect: %w", to, err)
		}
	}

	if err := l.Transactions().SetStatus(ctx, repositories.SetStatus{
		TransactionID: tx.ID,
		From:          tx.Status,
		To:            to,
		FailureReason: reason,
	}); err != nil {
		return decimal.Zero, err
	}

	tx.Status = to
	if reason != "" {
		tx.FailureReason = reason
	}
	return balance, nil
}
