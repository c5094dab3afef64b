package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus says whether a card may be charged.
type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusBlocked CardStatus = "blocked"
	CardStatusPending CardStatus = "pending"
)

// Chargeable reports whether debits may be made with the card.
func (s CardStatus) Chargeable() bool {
	return s == CardStatusActive
}

// Card is a payment card attached to an account. Usage against its
// ceilings is derived from transactions, never stored.
type Card struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	AccountID    uint            `gorm:"index;not null" json:"account_id"`
	UserID       uint            `gorm:"index;not null" json:"user_id"`
	LastFour     string          `gorm:"size:4" json:"last_four"`
	Brand        string          `json:"brand"`
	DailyLimit   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"daily_limit"`
	MonthlyLimit decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"monthly_limit"`
	Status       CardStatus      `gorm:"size:16;default:'active'" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
