package limits

import (
	"context"
	"fmt"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service exposes owner-facing limit management on top of the Evaluator.
type Service struct {
	store     repositories.LedgerStore
	evaluator *Evaluator
	logger    *zap.Logger
}

func NewService(store repositories.LedgerStore, evaluator *Evaluator, logger *zap.Logger) *Service {
	if store == nil {
		panic("store is required")
	}
	if evaluator == nil {
		panic("evaluator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, evaluator: evaluator, logger: logger}
}

func (s *Service) Evaluator() *Evaluator {
	return s.evaluator
}

// LimitsView is a user's ceilings with current usage.
type LimitsView struct {
	Limits *models.TransactionLimits `json:"limits"`
	Usage  *UsageReport              `json:"usage"`
}

// Get returns the user's limits and usage. cardID is optional.
func (s *Service) Get(ctx context.Context, userID uint, cardID *uint) (*LimitsView, error) {
	view := &LimitsView{}
	err := s.store.Read(ctx, func(l repositories.Ledger) error {
		current, err := s.evaluator.EnsureLimits(ctx, l, userID)
		if err != nil {
			return err
		}
		var card *models.Card
		if cardID != nil {
			if card, err = ownedCard(ctx, l, *cardID, userID); err != nil {
				return err
			}
		}
		usage, err := s.evaluator.Usage(ctx, l, userID, card)
		if err != nil {
			return err
		}
		view.Limits = current
		view.Usage = usage
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SetLimits replaces the user's ceilings. Values must be positive with
// single <= daily <= monthly.
func (s *Service) SetLimits(ctx context.Context, cmd repositories.SetLimits) (*models.TransactionLimits, error) {
	if err := validatePositive("daily_limit", cmd.DailyLimit); err != nil {
		return nil, err
	}
	if err := validatePositive("monthly_limit", cmd.MonthlyLimit); err != nil {
		return nil, err
	}
	if err := validatePositive("single_transaction_limit", cmd.SingleTransactionLimit); err != nil {
		return nil, err
	}
	if cmd.DailyLimit.GreaterThan(cmd.MonthlyLimit) {
		return nil, apperrors.NewValidationError("daily_limit", "must not exceed monthly_limit")
	}
	if cmd.SingleTransactionLimit.GreaterThan(cmd.DailyLimit) {
		return nil, apperrors.NewValidationError("single_transaction_limit", "must not exceed daily_limit")
	}

	var updated *models.TransactionLimits
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		// Debits create the default limits row under this same lock, so
		// taking it first keeps the two inserts from racing.
		if _, err := l.Accounts().LockByUserID(ctx, cmd.UserID); err != nil {
			return err
		}
		if _, err := s.evaluator.EnsureLimits(ctx, l, cmd.UserID); err != nil {
			return err
		}
		if err := l.Limits().SetLimits(ctx, cmd); err != nil {
			return err
		}
		var err error
		updated, err = l.Limits().Get(ctx, cmd.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user limits updated",
		zap.Uint("user_id", cmd.UserID),
		zap.String("daily", cmd.DailyLimit.String()),
		zap.String("monthly", cmd.MonthlyLimit.String()),
		zap.String("single", cmd.SingleTransactionLimit.String()),
	)
	return updated, nil
}

// SetCardLimits replaces a card's ceilings. Only the card owner may do it.
func (s *Service) SetCardLimits(ctx context.Context, userID uint, cmd repositories.SetCardLimits) (*models.Card, error) {
	if err := validatePositive("daily_limit", cmd.DailyLimit); err != nil {
		return nil, err
	}
	if err := validatePositive("monthly_limit", cmd.MonthlyLimit); err != nil {
		return nil, err
	}
	if cmd.DailyLimit.GreaterThan(cmd.MonthlyLimit) {
		return nil, apperrors.NewValidationError("daily_limit", "must not exceed monthly_limit")
	}

	var updated *models.Card
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		if _, err := ownedCard(ctx, l, cmd.CardID, userID); err != nil {
			return err
		}
		if err := l.Cards().SetLimits(ctx, cmd); err != nil {
			return err
		}
		var err error
		updated, err = l.Cards().GetByID(ctx, cmd.CardID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card limits updated", zap.Uint("user_id", userID), zap.Uint("card_id", cmd.CardID))
	return updated, nil
}

func ownedCard(ctx context.Context, l repositories.Ledger, cardID, userID uint) (*models.Card, error) {
	card, err := l.Cards().GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("card %d: %w", cardID, apperrors.ErrNotFound)
	}
	return card, nil
}

func validatePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperrors.NewValidationError(field, "must be greater than zero")
	}
	return nil
}
