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

type cardRepository struct {
	db       *gorm.DB
	readOnly bool
}

func (r *cardRepository) GetByID(ctx context.Context, id uint) (*models.Card, error) {
	var card models.Card
	if err := r.db.WithContext(ctx).First(&card, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("card %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (r *cardRepository) Create(ctx context.Context, card *models.Card) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if err := r.db.WithContext(ctx).Create(card).Error; err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

func (r *cardRepository) SetLimits(ctx context.Context, cmd SetCardLimits) error {
	if r.readOnly {
		return ErrReadOnly
	}
	result := r.db.WithContext(ctx).Model(&models.Card{}).
		Where("id = ?", cmd.CardID).
		Updates(map[string]interface{}{
			"daily_limit":   cmd.DailyLimit,
			"monthly_limit": cmd.MonthlyLimit,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update card limits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("card %d: %w", cmd.CardID, apperrors.ErrNotFound)
	}
	return nil
}
