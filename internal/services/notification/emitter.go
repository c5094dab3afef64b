// Package notification tells the outside world about terminal transaction
// transitions. Delivery is best effort: a failed notification never rolls
// back financial state.
package notification

import (
	"context"
	"errors"
	"time"

	"caredit/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notification is one terminal transition of a transaction.
type Notification struct {
	Event      string                   `json:"event"`
	UserID     uint                     `json:"user_id"`
	Reference  string                   `json:"reference"`
	Type       models.TransactionType   `json:"type"`
	Status     models.TransactionStatus `json:"status"`
	Amount     decimal.Decimal          `json:"amount"`
	Fees       decimal.Decimal          `json:"fees"`
	Currency   string                   `json:"currency"`
	Reason     string                   `json:"reason,omitempty"`
	OccurredAt time.Time                `json:"occurred_at"`
}

// FromTransaction builds the notification for tx's current status.
func FromTransaction(tx *models.Transaction, at time.Time) Notification {
	return Notification{
		Event:      "transaction." + string(tx.Status),
		UserID:     tx.UserID,
		Reference:  tx.Reference,
		Type:       tx.Type,
		Status:     tx.Status,
		Amount:     tx.Amount,
		Fees:       tx.Fees,
		Currency:   tx.Currency,
		Reason:     tx.FailureReason,
		OccurredAt: at,
	}
}

type Emitter interface {
	Emit(ctx context.Context, n Notification) error
}

// LogEmitter writes notifications to the structured log.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.Named("notification")}
}

func (e *LogEmitter) Emit(_ context.Context, n Notification) error {
	e.logger.Info("notify user",
		zap.String("event", n.Event),
		zap.Uint("user_id", n.UserID),
		zap.String("reference", n.Reference),
		zap.String("type", string(n.Type)),
		zap.String("amount", n.Amount.StringFixed(2)),
		zap.String("reason", n.Reason),
	)
	return nil
}

// Multi fans a notification out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, n Notification) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
