package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of money movements the wallet supports.
type TransactionType string

const (
	TransactionTypeTransfer    TransactionType = "transfer"
	TransactionTypePayment     TransactionType = "payment"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeRecharge    TransactionType = "recharge"
	TransactionTypeBillPayment TransactionType = "bill_payment"
)

// Direction says which way a transaction type moves the balance.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionDebit
	DirectionCredit
)

// Direction returns DirectionUnknown for types outside the closed set.
func (t TransactionType) Direction() Direction {
	switch t {
	case TransactionTypeTransfer, TransactionTypePayment, TransactionTypeWithdrawal, TransactionTypeBillPayment:
		return DirectionDebit
	case TransactionTypeDeposit, TransactionTypeRecharge:
		return DirectionCredit
	default:
		return DirectionUnknown
	}
}

func (t TransactionType) Valid() bool {
	return t.Direction() != DirectionUnknown
}

// ReferencePrefix is the short code used when generating references.
func (t TransactionType) ReferencePrefix() string {
	switch t {
	case TransactionTypeTransfer:
		return "TRF"
	case TransactionTypePayment:
		return "PAY"
	case TransactionTypeWithdrawal:
		return "WTH"
	case TransactionTypeDeposit:
		return "DEP"
	case TransactionTypeRecharge:
		return "RCH"
	case TransactionTypeBillPayment:
		return "BILL"
	default:
		return "TXN"
	}
}

// DebitTypes lists the types counted against spending limits.
var DebitTypes = []TransactionType{
	TransactionTypeTransfer,
	TransactionTypePayment,
	TransactionTypeWithdrawal,
	TransactionTypeBillPayment,
}

// TransactionStatus is a state of the transaction lifecycle.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether no ordinary transition leaves this status.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Settlement says who confirms a transaction.
type Settlement string

const (
	// SettlementLocal transactions settle inside the request that created them.
	SettlementLocal Settlement = "local"
	// SettlementGateway transactions wait for a gateway webhook.
	SettlementGateway Settlement = "gateway"
)

// Transaction is the append-mostly ledger record.
type Transaction struct {
	ID             uint              `gorm:"primarykey" json:"id"`
	Reference      string            `gorm:"uniqueIndex;size:96;not null" json:"reference"`
	AccountID      uint              `gorm:"index;not null" json:"account_id"`
	UserID         uint              `gorm:"index:idx_transactions_user_created,priority:1;not null" json:"user_id"`
	CardID         *uint             `gorm:"index" json:"card_id,omitempty"`
	Type           TransactionType   `gorm:"size:32;not null" json:"type"`
	Amount         decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"amount"`
	Fees           decimal.Decimal   `gorm:"type:numeric(20,2);not null;default:0" json:"fees"`
	Currency       string            `gorm:"size:8;default:'XOF'" json:"currency"`
	Status         TransactionStatus `gorm:"size:16;index;not null;default:'pending'" json:"status"`
	Settlement     Settlement        `gorm:"size:16;not null;default:'local'" json:"settlement"`
	Recipient      string            `json:"recipient,omitempty"`
	RecipientPhone string            `json:"recipient_phone,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	ServiceType    string            `json:"service_type,omitempty"`
	Description    string            `json:"description,omitempty"`
	GatewayRef     string            `gorm:"index" json:"gateway_ref,omitempty"`
	PaymentLink    string            `gorm:"size:512" json:"payment_link,omitempty"`
	ClientSecret   string            `gorm:"size:255" json:"-"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Metadata       JSON              `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"index:idx_transactions_user_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Total is what the transaction takes from (or gives back to) the balance.
func (t *Transaction) Total() decimal.Decimal {
	return t.Amount.Add(t.Fees)
}

// EagerlyDebited reports whether the balance already moved for a pending record.
func (t *Transaction) EagerlyDebited() bool {
	return t.Type.Direction() == DirectionDebit && t.Settlement == SettlementGateway
}
