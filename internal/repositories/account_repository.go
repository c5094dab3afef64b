package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db       *gorm.DB
	readOnly bool
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID uint) (*models.Account, error) {
	return r.findByUserID(r.db.WithContext(ctx), userID)
}

func (r *accountRepository) LockByUserID(ctx context.Context, userID uint) (*models.Account, error) {
	return r.findByUserID(forUpdate(r.db.WithContext(ctx), r.readOnly), userID)
}

func (r *accountRepository) findByUserID(db *gorm.DB, userID uint) (*models.Account, error) {
	var account models.Account
	if err := db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account for user %d: %w", userID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) AdjustBalance(ctx context.Context, cmd AdjustBalance) (decimal.Decimal, error) {
	if r.readOnly {
		return decimal.Zero, ErrReadOnly
	}
	db := r.db.WithContext(ctx)
	result := db.Model(&models.Account{}).
		Where("id = ? AND balance + ? >= 0", cmd.AccountID, cmd.Delta).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", cmd.Delta),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, ErrNegativeBalance
	}

	var account models.Account
	if err := db.Select("balance").First(&account, cmd.AccountID).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return account.Balance, nil
}

// forUpdate adds a row lock unless the ledger is read-only.
func forUpdate(db *gorm.DB, readOnly bool) *gorm.DB {
	if readOnly {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
