package memory

import (
	"context"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
)

type accounts struct{ *ledger }

func (r *accounts) GetByUserID(_ context.Context, userID uint) (*models.Account, error) {
	for _, a := range r.state.accounts {
		if a.UserID == userID {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("account for user %d: %w", userID, apperrors.ErrNotFound)
}

func (r *accounts) LockByUserID(ctx context.Context, userID uint) (*models.Account, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *accounts) Create(_ context.Context, account *models.Account) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	for _, a := range r.state.accounts {
		if a.UserID == account.UserID {
			return fmt.Errorf("account for user %d already exists", account.UserID)
		}
	}
	if account.Balance.IsNegative() {
		return repositories.ErrNegativeBalance
	}
	account.ID = r.state.id()
	account.CreatedAt = r.now()
	account.UpdatedAt = account.CreatedAt
	if account.Currency == "" {
		account.Currency = "XOF"
	}
	r.state.accounts[account.ID] = *account
	return nil
}

func (r *accounts) AdjustBalance(_ context.Context, cmd repositories.AdjustBalance) (decimal.Decimal, error) {
	if r.readOnly {
		return decimal.Zero, repositories.ErrReadOnly
	}
	a, ok := r.state.accounts[cmd.AccountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("account %d: %w", cmd.AccountID, apperrors.ErrNotFound)
	}
	next := a.Balance.Add(cmd.Delta)
	if next.IsNegative() {
		return decimal.Zero, repositories.ErrNegativeBalance
	}
	a.Balance = next
	a.UpdatedAt = r.now()
	r.state.accounts[a.ID] = a
	return next, nil
}

type cards struct{ *ledger }

func (r *cards) GetByID(_ context.Context, id uint) (*models.Card, error) {
	c, ok := r.state.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, apperrors.ErrNotFound)
	}
	return &c, nil
}

func (r *cards) Create(_ context.Context, card *models.Card) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	card.ID = r.state.id()
	card.CreatedAt = r.now()
	card.UpdatedAt = card.CreatedAt
	if card.Status == "" {
		card.Status = models.CardStatusActive
	}
	r.state.cards[card.ID] = *card
	return nil
}

func (r *cards) SetLimits(_ context.Context, cmd repositories.SetCardLimits) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	c, ok := r.state.cards[cmd.CardID]
	if !ok {
		return fmt.Errorf("card %d: %w", cmd.CardID, apperrors.ErrNotFound)
	}
	c.DailyLimit = cmd.DailyLimit
	c.MonthlyLimit = cmd.MonthlyLimit
	c.UpdatedAt = r.now()
	r.state.cards[c.ID] = c
	return nil
}

type limits struct{ *ledger }

func (r *limits) Get(_ context.Context, userID uint) (*models.TransactionLimits, error) {
	l, ok := r.state.limits[userID]
	if !ok {
		return nil, fmt.Errorf("limits for user %d: %w", userID, apperrors.ErrNotFound)
	}
	return &l, nil
}

func (r *limits) Create(_ context.Context, l *models.TransactionLimits) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	if _, ok := r.state.limits[l.UserID]; ok {
		return fmt.Errorf("limits for user %d already exist", l.UserID)
	}
	l.CreatedAt = r.now()
	l.UpdatedAt = l.CreatedAt
	r.state.limits[l.UserID] = *l
	return nil
}

func (r *limits) SetLimits(_ context.Context, cmd repositories.SetLimits) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	l, ok := r.state.limits[cmd.UserID]
	if !ok {
		return fmt.Errorf("limits for user %d: %w", cmd.UserID, apperrors.ErrNotFound)
	}
	l.DailyLimit = cmd.DailyLimit
	l.MonthlyLimit = cmd.MonthlyLimit
	l.SingleTransactionLimit = cmd.SingleTransactionLimit
	l.UpdatedAt = r.now()
	r.state.limits[l.UserID] = l
	return nil
}

type transactions struct{ *ledger }

func (r *transactions) Create(_ context.Context, tx *models.Transaction) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	if _, ok := r.state.references[tx.Reference]; ok {
		return fmt.Errorf("reference %s: %w", tx.Reference, apperrors.ErrDuplicateReference)
	}
	tx.ID = r.state.id()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now()
	}
	tx.UpdatedAt = tx.CreatedAt
	if tx.Status == "" {
		tx.Status = models.StatusPending
	}
	if tx.Settlement == "" {
		tx.Settlement = models.SettlementLocal
	}
	if tx.Currency == "" {
		tx.Currency = "XOF"
	}
	stored := *tx
	stored.Metadata = tx.Metadata.Clone()
	r.state.transactions[tx.ID] = stored
	r.state.references[tx.Reference] = tx.ID
	return nil
}

func (r *transactions) GetByID(_ context.Context, id uint) (*models.Transaction, error) {
	tx, ok := r.state.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction: %w", apperrors.ErrNotFound)
	}
	tx.Metadata = tx.Metadata.Clone()
	return &tx, nil
}

func (r *transactions) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	id, ok := r.state.references[reference]
	if !ok {
		return nil, fmt.Errorf("transaction: %w", apperrors.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *transactions) LockByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactions) LockByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return r.GetByReference(ctx, reference)
}

func (r *transactions) SetStatus(_ context.Context, cmd repositories.SetStatus) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	tx, ok := r.state.transactions[cmd.TransactionID]
	if !ok || tx.Status != cmd.From {
		return repositories.ErrStaleStatus
	}
	tx.Status = cmd.To
	if cmd.FailureReason != "" {
		tx.FailureReason = cmd.FailureReason
	}
	tx.UpdatedAt = r.now()
	r.state.transactions[tx.ID] = tx
	return nil
}

func (r *transactions) AttachGatewayRef(_ context.Context, cmd repositories.AttachGatewayRef) error {
	if r.readOnly {
		return repositories.ErrReadOnly
	}
	tx, ok := r.state.transactions[cmd.TransactionID]
	if !ok {
		return fmt.Errorf("transaction %d: %w", cmd.TransactionID, apperrors.ErrNotFound)
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
	tx.UpdatedAt = r.now()
	r.state.transactions[tx.ID] = tx
	return nil
}

func (r *transactions) SumUsage(_ context.Context, q repositories.UsageQuery) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tx := range r.state.transactions {
		if tx.UserID != q.UserID || !inWindow(tx.CreatedAt, q.From, q.To) {
			continue
		}
		if q.CardID != nil && (tx.CardID == nil || *tx.CardID != *q.CardID) {
			continue
		}
		if repositories.CountsAgainstLimits(&tx) {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (r *transactions) ListPending(_ context.Context, q repositories.PendingQuery) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range r.state.transactions {
		if tx.Status != models.StatusPending || !tx.CreatedAt.Before(q.Before) {
			continue
		}
		if q.Settlement != "" && tx.Settlement != q.Settlement {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, tx.Type) {
			continue
		}
		out = append(out, tx)
	}
	sortByCreated(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *transactions) Summary(_ context.Context, userID uint, from, to time.Time) ([]repositories.TypeTotal, error) {
	byType := make(map[models.TransactionType]*repositories.TypeTotal)
	for _, tx := range r.state.transactions {
		if tx.UserID != userID || tx.Status != models.StatusCompleted || !inWindow(tx.CreatedAt, from, to) {
			continue
		}
		t, ok := byType[tx.Type]
		if !ok {
			t = &repositories.TypeTotal{Type: tx.Type, Amount: decimal.Zero, Fees: decimal.Zero}
			byType[tx.Type] = t
		}
		t.Count++
		t.Amount = t.Amount.Add(tx.Amount)
		t.Fees = t.Fees.Add(tx.Fees)
	}

	out := make([]repositories.TypeTotal, 0, len(byType))
	for _, t := range byType {
		out = append(out, *t)
	}
	sortTotals(out)
	return out, nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func containsType(types []models.TransactionType, t models.TransactionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
