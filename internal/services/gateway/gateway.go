// Package gateway talks to the external payment processor: it starts
// hosted payments and payouts, and turns signed webhooks into Events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "caredit/internal/errors"

	"github.com/shopspring/decimal"
)

// Gateway is the single external payment collaborator.
type Gateway interface {
	Name() string
	// InitializePayment starts a hosted payment that funds the wallet.
	InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error)
	// InitiatePayout sends money out of the platform.
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutHandle, error)
	// VerifyPayment asks the gateway where a leg stands. It returns
	// ErrNotSettled while the gateway has no final answer.
	VerifyPayment(ctx context.Context, req VerifyRequest) (Event, error)
	// ParseWebhook verifies signature over the raw payload and decodes it.
	ParseWebhook(payload []byte, signature string) (Event, error)
	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string
}

type PaymentRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	UserID      uint
	Email       string
	Phone       string
	Name        string
	RedirectURL string
	Description string
}

type PaymentHandle struct {
	GatewayRef   string `json:"gateway_ref,omitempty"`
	PaymentLink  string `json:"payment_link,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// PayoutMethod selects the rail a payout travels on.
type PayoutMethod string

const (
	PayoutBank        PayoutMethod = "bank"
	PayoutMobileMoney PayoutMethod = "mobile_money"
)

// MobileNetwork is a supported mobile money operator.
type MobileNetwork string

const (
	NetworkMTN    MobileNetwork = "mtn"
	NetworkMoov   MobileNetwork = "moov"
	NetworkOrange MobileNetwork = "orange"
)

func (n MobileNetwork) Valid() bool {
	switch n {
	case NetworkMTN, NetworkMoov, NetworkOrange:
		return true
	default:
		return false
	}
}

// PayoutDestination is where outbound money lands: a bank account
// (BankCode, AccountNumber) or a mobile money wallet (Network, Phone).
// An empty Method means bank.
type PayoutDestination struct {
	Method        PayoutMethod  `json:"method,omitempty"`
	BankCode      string        `json:"bank_code,omitempty"`
	AccountNumber string        `json:"account_number,omitempty"`
	Network       MobileNetwork `json:"network,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Beneficiary   string        `json:"beneficiary_name,omitempty"`
}

func BankAccount(bankCode, accountNumber, beneficiary string) PayoutDestination {
	return PayoutDestination{Method: PayoutBank, BankCode: bankCode, AccountNumber: accountNumber, Beneficiary: beneficiary}
}

func MobileMoney(network MobileNetwork, phone, beneficiary string) PayoutDestination {
	return PayoutDestination{Method: PayoutMobileMoney, Network: network, Phone: phone, Beneficiary: beneficiary}
}

// Kind resolves the empty method to bank.
func (d PayoutDestination) Kind() PayoutMethod {
	if d.Method == "" {
		return PayoutBank
	}
	return d.Method
}

// Validate checks that exactly the fields of the chosen rail are set.
func (d PayoutDestination) Validate() error {
	switch d.Kind() {
	case PayoutBank:
		if strings.TrimSpace(d.AccountNumber) == "" {
			return apperrors.NewValidationError("payout.account_number", "is required")
		}
		if d.Network != "" || d.Phone != "" {
			return apperrors.NewValidationError("payout", "bank payouts take no network or phone")
		}
	case PayoutMobileMoney:
		if !d.Network.Valid() {
			return apperrors.NewValidationError("payout.network", "must be mtn, moov or orange")
		}
		if strings.TrimSpace(d.Phone) == "" {
			return apperrors.NewValidationError("payout.phone", "is required")
		}
		if d.BankCode != "" || d.AccountNumber != "" {
			return apperrors.NewValidationError("payout", "mobile money payouts take no bank account")
		}
	default:
		return apperrors.NewValidationError("payout.method", "must be bank or mobile_money")
	}
	return nil
}

type PayoutRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Destination PayoutDestination
	Narration   string
}

type PayoutHandle struct {
	GatewayRef string `json:"gateway_ref"`
	Status     string `json:"status"`
}

// VerifyRequest identifies one leg at the gateway. Payout legs are looked
// up by GatewayRef, payments by Reference or GatewayRef depending on the
// provider.
type VerifyRequest struct {
	Reference  string
	GatewayRef string
	Payout     bool
}

// EventKind is the closed set of asynchronous gateway outcomes.
type EventKind string

const (
	PaymentSucceeded EventKind = "payment_succeeded"
	PaymentFailed    EventKind = "payment_failed"
	PayoutSucceeded  EventKind = "payout_succeeded"
	PayoutFailed     EventKind = "payout_failed"
)

// Payment reports whether the kind settles an inbound payment.
func (k EventKind) Payment() bool {
	return k == PaymentSucceeded || k == PaymentFailed
}

// Success reports whether the kind confirms the leg.
func (k EventKind) Success() bool {
	return k == PaymentSucceeded || k == PayoutSucceeded
}

// Event is a gateway webhook, normalized across providers.
type Event struct {
	ID            string
	Kind          EventKind
	Reference     string
	GatewayRef    string
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

var (
	// ErrUnsupportedEvent is a well-signed webhook of a type we do not handle.
	ErrUnsupportedEvent = errors.New("unsupported gateway event")
	// ErrInvalidPayload is a well-signed webhook with the wrong shape.
	ErrInvalidPayload = errors.New("invalid gateway payload")
	// ErrNotSettled means the gateway still reports the leg as in flight.
	ErrNotSettled = errors.New("gateway has not settled the transaction")
)

// RejectedError is an explicit, final refusal from the gateway. Retrying
// the same request will not succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return apperrors.ErrGatewayRejected
}

// IsRejected reports whether err is an explicit gateway refusal.
func IsRejected(err error) bool {
	return errors.Is(err, apperrors.ErrGatewayRejected)
}
