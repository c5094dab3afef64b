package repositories

import (
	"errors"

	"caredit/internal/models"

	"github.com/shopspring/decimal"
)

// The mutable columns of the ledger are closed: every write goes through
// one of these commands.

// AdjustBalance moves an account balance by Delta (negative debits).
type AdjustBalance struct {
	AccountID uint
	Delta     decimal.Decimal
}

// SetStatus moves a transaction from From to To. It fails with
// ErrStaleStatus if the row no longer holds From.
type SetStatus struct {
	TransactionID uint
	From          models.TransactionStatus
	To            models.TransactionStatus
	FailureReason string
}

// AttachGatewayRef records what the gateway handed back for a transaction:
// its own id and, for hosted payments, the checkout link or client secret.
// Empty fields leave the stored value alone.
type AttachGatewayRef struct {
	TransactionID uint
	GatewayRef    string
	PaymentLink   string
	ClientSecret  string
}

// SetLimits replaces a user's spending ceilings.
type SetLimits struct {
	UserID                 uint
	DailyLimit             decimal.Decimal
	MonthlyLimit           decimal.Decimal
	SingleTransactionLimit decimal.Decimal
}

// SetCardLimits replaces a card's ceilings.
type SetCardLimits struct {
	CardID       uint
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
}

var (
	ErrNegativeBalance = errors.New("balance would go negative")
	ErrStaleStatus     = errors.New("transaction status changed underneath")
	ErrReadOnly        = errors.New("write attempted outside a unit of work")
)
