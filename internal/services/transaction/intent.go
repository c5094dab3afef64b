package transaction

import (
	"strings"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/services/gateway"

	"github.com/shopspring/decimal"
)

// Intent is a request to move money. It is either a DebitIntent or a
// DepositIntent.
type Intent interface {
	intent()
}

// DebitIntent takes money out of the wallet: transfer, payment, bill
// payment or withdrawal. With a Payout destination the money leaves through
// the gateway and the transaction stays pending until the payout webhook.
// Fees, when set, overrides the fee schedule.
type DebitIntent struct {
	UserID         uint
	CardID         *uint
	Type           models.TransactionType
	Amount         decimal.Decimal
	Fees           *decimal.Decimal
	Currency       string
	Reference      string
	Recipient      string
	RecipientPhone string
	Provider       string
	ServiceType    string
	Description    string
	Payout         *gateway.PayoutDestination
	Metadata       models.JSON
}

// DepositIntent funds the wallet through a hosted gateway payment.
type DepositIntent struct {
	UserID         uint
	Type           models.TransactionType
	Amount         decimal.Decimal
	Currency       string
	Reference      string
	Email          string
	Phone          string
	Name           string
	RedirectURL    string
	Provider       string
	RecipientPhone string
	Description    string
}

func (DebitIntent) intent()   {}
func (DepositIntent) intent() {}

func (in DebitIntent) validate(currency string) error {
	if in.UserID == 0 {
		return apperrors.NewValidationError("user_id", "is required")
	}
	if in.Type.Direction() != models.DirectionDebit {
		return apperrors.NewValidationError("type", "must be transfer, payment, bill_payment or withdrawal")
	}
	if err := validateAmount(in.Amount, currency); err != nil {
		return err
	}
	if in.Fees != nil && in.Fees.IsNegative() {
		return apperrors.NewValidationError("fees", "must not be negative")
	}
	if in.Payout != nil {
		if err := in.Payout.Validate(); err != nil {
			return err
		}
	}
	return validateReference(in.Reference)
}

func (in DepositIntent) validate(currency string) error {
	if in.UserID == 0 {
		return apperrors.NewValidationError("user_id", "is required")
	}
	if in.Type.Direction() != models.DirectionCredit {
		return apperrors.NewValidationError("type", "must be deposit or recharge")
	}
	if err := validateAmount(in.Amount, currency); err != nil {
		return err
	}
	return validateReference(in.Reference)
}

// validateAmount also refuses precision the currency cannot carry to the
// gateway, such as centimes of XOF.
func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount", "must be greater than zero")
	}
	digits := gateway.MinorUnitDigits(currency)
	if amount.Equal(amount.Round(digits)) {
		return nil
	}
	if digits == 0 {
		return apperrors.NewValidationError("amount", "must be a whole number of "+strings.ToUpper(currency))
	}
	return apperrors.NewValidationError("amount", "must have at most two decimals")
}

func validateReference(ref string) error {
	if len(ref) > 96 {
		return apperrors.NewValidationError("reference", "must be at most 96 characters")
	}
	return nil
}

// FeeSchedule maps a debit type to its flat fee.
type FeeSchedule map[models.TransactionType]decimal.Decimal

// DefaultFeeSchedule charges 50 per transfer and 100 per withdrawal.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		models.TransactionTypeTransfer:   decimal.NewFromInt(50),
		models.TransactionTypeWithdrawal: decimal.NewFromInt(100),
	}
}

func (f FeeSchedule) For(t models.TransactionType) decimal.Decimal {
	if fee, ok := f[t]; ok {
		return fee
	}
	return decimal.Zero
}
