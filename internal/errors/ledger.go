package errors

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LimitScope names whose ceiling was hit.
type LimitScope string

const (
	ScopeUser LimitScope = "user"
	ScopeCard LimitScope = "card"
)

// LimitWindow names which ceiling was hit.
type LimitWindow string

const (
	WindowSingle  LimitWindow = "single"
	WindowDaily   LimitWindow = "daily"
	WindowMonthly LimitWindow = "monthly"
)

// LimitExceededError is returned when a debit would push usage strictly
// past a ceiling.
type LimitExceededError struct {
	Scope     LimitScope
	Window    LimitWindow
	Usage     decimal.Decimal
	Limit     decimal.Decimal
	Requested decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s limit exceeded: usage %s + requested %s > limit %s",
		e.Scope, e.Window, e.Usage.StringFixed(2), e.Requested.StringFixed(2), e.Limit.StringFixed(2))
}

// Remaining is the headroom left before the request.
func (e *LimitExceededError) Remaining() decimal.Decimal {
	r := e.Limit.Sub(e.Usage)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// InsufficientBalanceError reports how far the balance is from the debit.
type InsufficientBalanceError struct {
	Balance   decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func NewInsufficientBalance(balance, required decimal.Decimal) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Balance:   balance,
		Required:  required,
		Shortfall: required.Sub(balance),
	}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Balance.StringFixed(2), e.Required.StringFixed(2))
}

// IllegalTransitionError is a refused state change. Current is the status
// the transaction actually holds.
type IllegalTransitionError struct {
	Current string
	Target  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.Current, e.Target)
}
