package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"

	"gorm.io/gorm"
)

type limitsRepository struct {
	db       *gorm.DB
	readOnly bool
}

func (r *limitsRepository) Get(ctx context.Context, userID uint) (*models.TransactionLimits, error) {
	var limits models.TransactionLimits
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&limits).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("limits for user %d: %w", userID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}
	return &limits, nil
}

func (r *limitsRepository) Create(ctx context.Context, limits *models.TransactionLimits) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if err := r.db.WithContext(ctx).Create(limits).Error; err != nil {
		return fmt.Errorf("failed to create limits: %w", err)
	}
	return nil
}

func (r *limitsRepository) SetLimits(ctx context.Context, cmd SetLimits) error {
	if r.readOnly {
		return ErrReadOnly
	}
	result := r.db.WithContext(ctx).Model(&models.TransactionLimits{}).
		Where("user_id = ?", cmd.UserID).
		Updates(map[string]interface{}{
			"daily_limit":              cmd.DailyLimit,
			"monthly_limit":            cmd.MonthlyLimit,
			"single_transaction_limit": cmd.SingleTransactionLimit,
			"updated_at":               time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update limits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("limits for user %d: %w", cmd.UserID, apperrors.ErrNotFound)
	}
	return nil
}
