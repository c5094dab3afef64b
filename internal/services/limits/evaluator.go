// Package limits enforces rolling spending ceilings per user and per card.
//
// Usage is never stored. It is summed from debit-type transactions inside
// the calendar day or month of the configured location, so it always agrees
// with the ledger. Evaluate must run inside the unit of work that performs
// the debit it gates, after the account row lock is taken.
package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
)

// Defaults are applied when a user has no limits row yet.
type Defaults struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
	Single  decimal.Decimal
}

type Evaluator struct {
	defaults Defaults
	location *time.Location
	now      func() time.Time
}

type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithLocation sets the zone whose calendar day and month bound the windows.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		if loc != nil {
			e.location = loc
		}
	}
}

func NewEvaluator(defaults Defaults, opts ...Option) *Evaluator {
	if defaults.Daily.IsZero() {
		defaults.Daily = decimal.NewFromInt(1000000)
	}
	if defaults.Monthly.IsZero() {
		defaults.Monthly = decimal.NewFromInt(5000000)
	}
	if defaults.Single.IsZero() {
		defaults.Single = decimal.NewFromInt(500000)
	}
	e := &Evaluator{
		defaults: defaults,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Windows returns the calendar day and month containing now.
func (e *Evaluator) Windows() (day, month Window) {
	now := e.now().In(e.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.location)
	return Window{From: dayStart, To: dayStart.AddDate(0, 0, 1)},
		Window{From: monthStart, To: monthStart.AddDate(0, 1, 0)}
}

// EnsureLimits returns the user's limits, creating the default row on first
// use. On a read-only ledger the defaults are returned unsaved.
func (e *Evaluator) EnsureLimits(ctx context.Context, l repositories.Ledger, userID uint) (*models.TransactionLimits, error) {
	current, err := l.Limits().Get(ctx, userID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	created := &models.TransactionLimits{
		UserID:                 userID,
		DailyLimit:             e.defaults.Daily,
		MonthlyLimit:           e.defaults.Monthly,
		SingleTransactionLimit: e.defaults.Single,
	}
	if err := l.Limits().Create(ctx, created); err != nil {
		if errors.Is(err, repositories.ErrReadOnly) {
			return created, nil
		}
		return nil, fmt.Errorf("failed to create default limits: %w", err)
	}
	return created, nil
}

// Evaluate admits or rejects a debit of amount. Reaching a limit exactly is
// allowed; only strictly exceeding it rejects. card may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, l repositories.Ledger, userID uint, card *models.Card, amount decimal.Decimal) error {
	userLimits, err := e.EnsureLimits(ctx, l, userID)
	if err != nil {
		return err
	}

	if amount.GreaterThan(userLimits.SingleTransactionLimit) {
		return &apperrors.LimitExceededError{
			Scope:     apperrors.ScopeUser,
			Window:    apperrors.WindowSingle,
			Usage:     decimal.Zero,
			Limit:     userLimits.SingleTransactionLimit,
			Requested: amount,
		}
	}

	day, month := e.Windows()
	if err := e.check(ctx, l, apperrors.ScopeUser, userID, nil, day, apperrors.WindowDaily, userLimits.DailyLimit, amount); err != nil {
		return err
	}
	if err := e.check(ctx, l, apperrors.ScopeUser, userID, nil, month, apperrors.WindowMonthly, userLimits.MonthlyLimit, amount); err != nil {
		return err
	}

	if card == nil {
		return nil
	}
	if err := e.check(ctx, l, apperrors.ScopeCard, userID, &card.ID, day, apperrors.WindowDaily, card.DailyLimit, amount); err != nil {
		return err
	}
	return e.check(ctx, l, apperrors.ScopeCard, userID, &card.ID, month, apperrors.WindowMonthly, card.MonthlyLimit, amount)
}

func (e *Evaluator) check(
	ctx context.Context,
	l repositories.Ledger,
	scope apperrors.LimitScope,
	userID uint,
	cardID *uint,
	w Window,
	window apperrors.LimitWindow,
	limit, amount decimal.Decimal,
) error {
	usage, err := l.Transactions().SumUsage(ctx, repositories.UsageQuery{
		UserID: userID,
		CardID: cardID,
		From:   w.From,
		To:     w.To,
	})
	if err != nil {
		return fmt.Errorf("failed to compute %s %s usage: %w", scope, window, err)
	}
	if usage.Add(amount).GreaterThan(limit) {
		return &apperrors.LimitExceededError{
			Scope:     scope,
			Window:    window,
			Usage:     usage,
			Limit:     limit,
			Requested: amount,
		}
	}
	return nil
}

// WindowUsage is consumption against one ceiling.
type WindowUsage struct {
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	Remaining decimal.Decimal `json:"remaining"`
}

// UsageReport answers "how much can I still spend".
type UsageReport struct {
	SingleTransactionLimit decimal.Decimal `json:"single_transaction_limit"`
	Daily                  WindowUsage     `json:"daily"`
	Monthly                WindowUsage     `json:"monthly"`
	Card                   *CardUsage      `json:"card,omitempty"`
}

type CardUsage struct {
	CardID  uint        `json:"card_id"`
	Daily   WindowUsage `json:"daily"`
	Monthly WindowUsage `json:"monthly"`
}

// Usage reports current consumption for the user and, if given, the card.
func (e *Evaluator) Usage(ctx context.Context, l repositories.Ledger, userID uint, card *models.Card) (*UsageReport, error) {
	userLimits, err := e.EnsureLimits(ctx, l, userID)
	if err != nil {
		return nil, err
	}
	day, month := e.Windows()

	report := &UsageReport{SingleTransactionLimit: userLimits.SingleTransactionLimit}
	if report.Daily, err = e.windowUsage(ctx, l, userID, nil, day, userLimits.DailyLimit); err != nil {
		return nil, err
	}
	if report.Monthly, err = e.windowUsage(ctx, l, userID, nil, month, userLimits.MonthlyLimit); err != nil {
		return nil, err
	}

	if card != nil {
		cu := &CardUsage{CardID: card.ID}
		if cu.Daily, err = e.windowUsage(ctx, l, userID, &card.ID, day, card.DailyLimit); err != nil {
			return nil, err
		}
		if cu.Monthly, err = e.windowUsage(ctx, l, userID, &card.ID, month, card.MonthlyLimit); err != nil {
			return nil, err
		}
		report.Card = cu
	}
	return report, nil
}

func (e *Evaluator) windowUsage(ctx context.Context, l repositories.Ledger, userID uint, cardID *uint, w Window, limit decimal.Decimal) (WindowUsage, error) {
	used, err := l.Transactions().SumUsage(ctx, repositories.UsageQuery{UserID: userID, CardID: cardID, From: w.From, To: w.To})
	if err != nil {
		return WindowUsage{}, fmt.Errorf("failed to compute usage: %w", err)
	}
	remaining := limit.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return WindowUsage{Limit: limit, Used: used, Remaining: remaining}, nil
}
