package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionLimits are the per-user spending ceilings.
type TransactionLimits struct {
	UserID                 uint            `gorm:"primarykey;autoIncrement:false" json:"user_id"`
	DailyLimit             decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"daily_limit"`
	MonthlyLimit           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"monthly_limit"`
	SingleTransactionLimit decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"single_transaction_limit"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}
