package transaction

import (
	"context"
	"errors"
	"fmt"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/services/gateway"

	"go.uber.org/zap"
)

func (s *Service) executeDebit(ctx context.Context, in DebitIntent) (*Result, error) {
	currency := in.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	if err := in.validate(currency); err != nil {
		return nil, err
	}
	if in.Payout != nil && s.gateway == nil {
		return nil, fmt.Errorf("payout: %w", apperrors.ErrGatewayUnreachable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Past this point the operation is not abandoned when the caller goes away.
	ctx = context.WithoutCancel(ctx)

	fees := s.config.Fees.For(in.Type)
	if in.Fees != nil {
		fees = *in.Fees
	}
	reference := in.Reference
	if reference == "" {
		reference = NewReference(in.Type)
	}
	settlement := models.SettlementLocal
	status := models.StatusCompleted
	if in.Payout != nil {
		settlement = models.SettlementGateway
		status = models.StatusPending
	}

	result := &Result{}
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		account, err := l.Accounts().LockByUserID(ctx, in.UserID)
		if err != nil {
			return err
		}

		existing, err := replay(ctx, l, in.Reference, in.UserID, fingerprint{Type: in.Type, Amount: in.Amount, CardID: in.CardID})
		if err != nil {
			return err
		}
		if existing != nil {
			result.Transaction = existing
			result.NewBalance = account.Balance
			result.Replayed = true
			return nil
		}

		var card *models.Card
		if in.CardID != nil {
			if card, err = usableCard(ctx, l, *in.CardID, in.UserID); err != nil {
				return err
			}
		}

		if err := s.evaluator.Evaluate(ctx, l, in.UserID, card, in.Amount); err != nil {
			return err
		}

		total := in.Amount.Add(fees)
		if account.Balance.LessThan(total) {
			return apperrors.NewInsufficientBalance(account.Balance, total)
		}
		balance, err := l.Accounts().AdjustBalance(ctx, repositories.AdjustBalance{AccountID: account.ID, Delta: total.Neg()})
		if err != nil {
			if errors.Is(err, repositories.ErrNegativeBalance) {
				return apperrors.NewInsufficientBalance(account.Balance, total)
			}
			return err
		}

		tx := &models.Transaction{
			Reference:      reference,
			AccountID:      account.ID,
			UserID:         in.UserID,
			CardID:         in.CardID,
			Type:           in.Type,
			Amount:         in.Amount,
			Fees:           fees,
			Currency:       currency,
			Status:         status,
			Settlement:     settlement,
			Recipient:      in.Recipient,
			RecipientPhone: in.RecipientPhone,
			Provider:       in.Provider,
			ServiceType:    in.ServiceType,
			Description:    in.Description,
			Metadata:       in.Metadata,
		}
		if err := l.Transactions().Create(ctx, tx); err != nil {
			return err
		}

		result.Transaction = tx
		result.NewBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		s.logger.Info("debit replayed", zap.String("reference", reference), zap.Uint("user_id", in.UserID))
		return result, nil
	}

	s.logger.Info("debit committed",
		zap.String("reference", reference),
		zap.Uint("user_id", in.UserID),
		zap.String("type", string(in.Type)),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("fees", fees.StringFixed(2)),
		zap.String("status", string(result.Transaction.Status)),
	)
	s.afterCommit(ctx, result.Transaction)

	if in.Payout == nil {
		return result, nil
	}
	return s.payoutLeg(ctx, in, result)
}

// payoutLeg sends an already debited transaction through the gateway.
// No row lock is held while the gateway is called.
func (s *Service) payoutLeg(ctx context.Context, in DebitIntent, result *Result) (*Result, error) {
	tx := result.Transaction
	handle, err := s.gateway.InitiatePayout(ctx, gateway.PayoutRequest{
		Reference:   tx.Reference,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Destination: *in.Payout,
		Narration:   in.Description,
	})

	switch {
	case err == nil:
		if handle.GatewayRef != "" {
			if err := s.attachGatewayRef(ctx, tx, repositories.AttachGatewayRef{GatewayRef: handle.GatewayRef}); err != nil {
				s.logger.Error("failed to record payout gateway ref",
					zap.String("reference", tx.Reference), zap.String("gateway_ref", handle.GatewayRef), zap.Error(err))
			}
		}
		return result, nil

	case gateway.IsRejected(err):
		s.logger.Warn("payout rejected, compensating", zap.String("reference", tx.Reference), zap.Error(err))
		compensated, cerr := s.failPending(ctx, tx.ID, err.Error())
		if cerr != nil {
			s.logger.Error("payout compensation failed", zap.String("reference", tx.Reference), zap.Error(cerr))
			return result, fmt.Errorf("payout rejected and compensation failed: %w", errors.Join(err, cerr))
		}
		return compensated, err

	default:
		s.logger.Warn("payout outcome unknown, left pending", zap.String("reference", tx.Reference), zap.Error(err))
		return result, err
	}
}

func (s *Service) executeDeposit(ctx context.Context, in DepositIntent) (*Result, error) {
	currency := in.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	if err := in.validate(currency); err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("deposit: %w", apperrors.ErrGatewayUnreachable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	reference := in.Reference
	if reference == "" {
		reference = NewReference(in.Type)
	}

	result := &Result{}
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		account, err := l.Accounts().LockByUserID(ctx, in.UserID)
		if err != nil {
			return err
		}
		existing, err := replay(ctx, l, in.Reference, in.UserID, fingerprint{Type: in.Type, Amount: in.Amount})
		if err != nil {
			return err
		}
		if existing != nil {
			result.Transaction = existing
			result.NewBalance = account.Balance
			result.Replayed = true
			if existing.Status == models.StatusPending {
				result.Payment = storedHandle(existing)
			}
			return nil
		}

		tx := &models.Transaction{
			Reference:      reference,
			AccountID:      account.ID,
			UserID:         in.UserID,
			Type:           in.Type,
			Amount:         in.Amount,
			Currency:       currency,
			Status:         models.StatusPending,
			Settlement:     models.SettlementGateway,
			Provider:       in.Provider,
			RecipientPhone: in.RecipientPhone,
			Description:    in.Description,
		}
		if err := l.Transactions().Create(ctx, tx); err != nil {
			return err
		}
		result.Transaction = tx
		result.NewBalance = account.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}

	tx := result.Transaction
	redirect := in.RedirectURL
	if redirect == "" {
		redirect = s.config.RedirectURL
	}
	handle, err := s.gateway.InitializePayment(ctx, gateway.PaymentRequest{
		Reference:   tx.Reference,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		UserID:      tx.UserID,
		Email:       in.Email,
		Phone:       in.Phone,
		Name:        in.Name,
		RedirectURL: redirect,
		Description: in.Description,
	})

	switch {
	case err == nil:
		result.Payment = handle
		cmd := repositories.AttachGatewayRef{
			GatewayRef:   handle.GatewayRef,
			PaymentLink:  handle.PaymentLink,
			ClientSecret: handle.ClientSecret,
		}
		if cmd.GatewayRef != "" || cmd.PaymentLink != "" || cmd.ClientSecret != "" {
			if err := s.attachGatewayRef(ctx, tx, cmd); err != nil {
				s.logger.Error("failed to record payment handle", zap.String("reference", tx.Reference), zap.Error(err))
			}
		}
		s.logger.Info("deposit initialized", zap.String("reference", tx.Reference), zap.Uint("user_id", tx.UserID))
		return result, nil

	case gateway.IsRejected(err):
		failed, ferr := s.failPending(ctx, tx.ID, err.Error())
		if ferr != nil {
			s.logger.Error("failed to mark rejected deposit", zap.String("reference", tx.Reference), zap.Error(ferr))
			return result, errors.Join(err, ferr)
		}
		return failed, err

	default:
		s.logger.Warn("deposit initialization outcome unknown, left pending", zap.String("reference", tx.Reference), zap.Error(err))
		return result, err
	}
}

// failPending moves a pending gateway transaction to failed, compensating
// an eager debit. A webhook may have settled it meanwhile; then the
// current state is returned untouched.
func (s *Service) failPending(ctx context.Context, id uint, reason string) (*Result, error) {
	result := &Result{}
	changed := false
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		tx, err := l.Transactions().LockByID(ctx, id)
		if err != nil {
			return err
		}
		result.Transaction = tx
		if tx.Status != models.StatusPending {
			account, err := l.Accounts().GetByUserID(ctx, tx.UserID)
			if err != nil {
				return err
			}
			result.NewBalance = account.Balance
			return nil
		}
		balance, err := Apply(ctx, l, tx, models.StatusFailed, reason)
		if err != nil {
			return err
		}
		result.NewBalance = balance
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterCommit(ctx, result.Transaction)
	}
	return result, nil
}

func (s *Service) attachGatewayRef(ctx context.Context, tx *models.Transaction, cmd repositories.AttachGatewayRef) error {
	cmd.TransactionID = tx.ID
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		return l.Transactions().AttachGatewayRef(ctx, cmd)
	})
	if err != nil {
		return err
	}
	if cmd.GatewayRef != "" {
		tx.GatewayRef = cmd.GatewayRef
	}
	if cmd.PaymentLink != "" {
		tx.PaymentLink = cmd.PaymentLink
	}
	if cmd.ClientSecret != "" {
		tx.ClientSecret = cmd.ClientSecret
	}
	return nil
}

// storedHandle rebuilds the checkout handle recorded for a pending deposit,
// or nil when the gateway never answered.
func storedHandle(tx *models.Transaction) *gateway.PaymentHandle {
	if tx.GatewayRef == "" && tx.PaymentLink == "" && tx.ClientSecret == "" {
		return nil
	}
	return &gateway.PaymentHandle{
		GatewayRef:   tx.GatewayRef,
		PaymentLink:  tx.PaymentLink,
		ClientSecret: tx.ClientSecret,
	}
}

func usableCard(ctx context.Context, l repositories.Ledger, cardID, userID uint) (*models.Card, error) {
	card, err := l.Cards().GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("card %d: %w", cardID, apperrors.ErrNotFound)
	}
	if !card.Status.Chargeable() {
		return nil, apperrors.NewValidationError("card_id", "card is "+string(card.Status))
	}
	return card, nil
}
