package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's cash balance. One per user.
type Account struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:balance >= 0" json:"balance"`
	Currency  string          `gorm:"size:8;default:'XOF'" json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
