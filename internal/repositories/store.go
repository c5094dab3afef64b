package repositories

import (
	"context"
	"time"

	"caredit/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerStore is the unit-of-work boundary. Everything done through the
// Ledger handed to fn commits together or not at all.
type LedgerStore interface {
	// Atomic runs fn in one unit of work. Lock* methods hold their rows
	// until fn returns.
	Atomic(ctx context.Context, fn func(Ledger) error) error
	// Read runs fn outside any unit of work. Lock* methods behave like
	// plain reads and writes are not allowed.
	Read(ctx context.Context, fn func(Ledger) error) error
	Ping(ctx context.Context) error
}

// Ledger groups the per-entity repositories bound to one unit of work.
type Ledger interface {
	Accounts() AccountRepository
	Cards() CardRepository
	Limits() LimitsRepository
	Transactions() TransactionRepository
}

type AccountRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*models.Account, error)
	// LockByUserID reads the account with SELECT ... FOR UPDATE.
	LockByUserID(ctx context.Context, userID uint) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	// AdjustBalance applies a signed delta and returns the new balance.
	// It refuses to take the balance below zero.
	AdjustBalance(ctx context.Context, cmd AdjustBalance) (decimal.Decimal, error)
}

type CardRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Card, error)
	Create(ctx context.Context, card *models.Card) error
	SetLimits(ctx context.Context, cmd SetCardLimits) error
}

type LimitsRepository interface {
	Get(ctx context.Context, userID uint) (*models.TransactionLimits, error)
	Create(ctx context.Context, limits *models.TransactionLimits) error
	SetLimits(ctx context.Context, cmd SetLimits) error
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uint) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	LockByID(ctx context.Context, id uint) (*models.Transaction, error)
	LockByReference(ctx context.Context, reference string) (*models.Transaction, error)
	SetStatus(ctx context.Context, cmd SetStatus) error
	AttachGatewayRef(ctx context.Context, cmd AttachGatewayRef) error
	// SumUsage totals debit-type amounts counted against spending limits.
	SumUsage(ctx context.Context, q UsageQuery) (decimal.Decimal, error)
	ListPending(ctx context.Context, q PendingQuery) ([]models.Transaction, error)
	Summary(ctx context.Context, userID uint, from, to time.Time) ([]TypeTotal, error)
}

// UsageQuery selects the window for SumUsage. A nil CardID sums the whole user.
type UsageQuery struct {
	UserID uint
	CardID *uint
	From   time.Time
	To     time.Time
}

// PendingQuery selects pending transactions created before Before.
type PendingQuery struct {
	Types      []models.TransactionType
	Settlement models.Settlement
	Before     time.Time
	Limit      int
}

// TypeTotal is one row of a completed-transaction summary.
type TypeTotal struct {
	Type   models.TransactionType `json:"type"`
	Count  int64                  `json:"count"`
	Amount decimal.Decimal        `json:"amount"`
	Fees   decimal.Decimal        `json:"fees"`
}

// CountsAgainstLimits reports whether tx is part of limit usage.
// Pending gateway payouts count because they were debited eagerly.
func CountsAgainstLimits(tx *models.Transaction) bool {
	if tx.Type.Direction() != models.DirectionDebit {
		return false
	}
	switch tx.Status {
	case models.StatusCompleted:
		return true
	case models.StatusPending:
		return tx.Settlement == models.SettlementGateway
	default:
		return false
	}
}
