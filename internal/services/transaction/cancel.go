package transaction

import (
	"context"
	"errors"
	"fmt"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"go.uber.org/zap"
)

// Cancel cancels a pending transaction or compensates a completed debit by
// crediting back amount plus fees. Pending gateway payouts and completed
// deposits are refused: their other leg belongs to the gateway.
//
// On *IllegalTransitionError the Result still describes the transaction
// as it stands, so a repeated cancel can be answered idempotently.
func (s *Service) Cancel(ctx context.Context, id, userID uint, reason string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	if reason == "" {
		reason = "cancelled by user"
	}

	result := &Result{}
	var refused error
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		tx, err := l.Transactions().LockByID(ctx, id)
		if err != nil {
			return err
		}
		if tx.UserID != userID {
			return fmt.Errorf("transaction %d: %w", id, apperrors.ErrNotFound)
		}
		result.Transaction = tx

		if err := cancellable(tx); err != nil {
			account, aerr := l.Accounts().GetByUserID(ctx, tx.UserID)
			if aerr != nil {
				return aerr
			}
			result.NewBalance = account.Balance
			refused = err
			return nil
		}

		balance, err := Apply(ctx, l, tx, models.StatusCancelled, reason)
		if err != nil {
			return err
		}
		result.NewBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		return result, refused
	}

	s.logger.Info("transaction cancelled",
		zap.String("reference", result.Transaction.Reference),
		zap.Uint("user_id", userID),
		zap.String("balance", result.NewBalance.StringFixed(2)),
	)
	s.afterCommit(ctx, result.Transaction)
	return result, nil
}

func cancellable(tx *models.Transaction) error {
	if err := Transition(tx.Status, models.StatusCancelled); err != nil {
		return err
	}
	illegal := &apperrors.IllegalTransitionError{Current: string(tx.Status), Target: string(models.StatusCancelled)}
	switch {
	case tx.Status == models.StatusPending && tx.EagerlyDebited():
		return illegal
	case tx.Status == models.StatusCompleted && tx.Type.Direction() == models.DirectionCredit:
		return illegal
	}
	return nil
}

// IsIdempotentRepeat reports whether err refused a move to target only
// because the transaction is already there.
func IsIdempotentRepeat(err error, target models.TransactionStatus) bool {
	var illegal *apperrors.IllegalTransitionError
	return errors.As(err, &illegal) && illegal.Current == string(target)
}
