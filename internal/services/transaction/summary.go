package transaction

import (
	"context"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/repositories"

	"github.com/shopspring/decimal"
)

// Summary totals a user's completed transactions over a period.
type Summary struct {
	Period            string                   `json:"period"`
	From              time.Time                `json:"from"`
	To                time.Time                `json:"to"`
	TotalTransactions int64                    `json:"total_transactions"`
	TotalAmount       decimal.Decimal          `json:"total_amount"`
	TotalFees         decimal.Decimal          `json:"total_fees"`
	AverageAmount     decimal.Decimal          `json:"average_amount"`
	ByType            []repositories.TypeTotal `json:"by_type"`
}

// Summary supports period day (since midnight), week (last 7 days), month
// (since the 1st) and year (since January 1st). Empty means month.
func (s *Service) Summary(ctx context.Context, userID uint, period string) (*Summary, error) {
	now := s.config.Now()
	var from time.Time
	switch period {
	case "day":
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		from = now.AddDate(0, 0, -7)
	case "month", "":
		period = "month"
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "year":
		from = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return nil, apperrors.NewValidationError("period", "must be day, week, month or year")
	}
	// exclusive upper bound that still includes rows written this instant
	to := now.Add(time.Second)

	var totals []repositories.TypeTotal
	err := s.store.Read(ctx, func(l repositories.Ledger) error {
		var err error
		totals, err = l.Transactions().Summary(ctx, userID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Period:      period,
		From:        from,
		To:          now,
		TotalAmount: decimal.Zero,
		TotalFees:   decimal.Zero,
		ByType:      totals,
	}
	for _, t := range totals {
		sum.TotalTransactions += t.Count
		sum.TotalAmount = sum.TotalAmount.Add(t.Amount)
		sum.TotalFees = sum.TotalFees.Add(t.Fees)
	}
	sum.AverageAmount = decimal.Zero
	if sum.TotalTransactions > 0 {
		sum.AverageAmount = sum.TotalAmount.Div(decimal.NewFromInt(sum.TotalTransactions)).Round(2)
	}
	return sum, nil
}
