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
)

type transactionRepository struct {
	db       *gorm.DB
	readOnly bool
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("reference %s: %w", tx.Reference, apperrors.ErrDuplicateReference)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("reference = ?", reference))
}

func (r *transactionRepository) LockByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return r.first(forUpdate(r.db.WithContext(ctx), r.readOnly).Where("id = ?", id))
}

func (r *transactionRepository) LockByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return r.first(forUpdate(r.db.WithContext(ctx), r.readOnly).Where("reference = ?", reference))
}

func (r *transactionRepository) first(db *gorm.DB) (*models.Transaction, error) {
	var tx models.Transaction
	if err := db.First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transaction: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) SetStatus(ctx context.Context, cmd SetStatus) error {
	if r.readOnly {
		return ErrReadOnly
	}
	updates := map[string]interface{}{
		"status":     cmd.To,
		"updated_at": time.Now(),
	}
	if cmd.FailureReason != "" {
		updates["failure_reason"] = cmd.FailureReason
	}
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", cmd.TransactionID, cmd.From).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transaction status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *transactionRepository) AttachGatewayRef(ctx context.Context, cmd AttachGatewayRef) error {
	if r.readOnly {
		return ErrReadOnly
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if cmd.GatewayRef != "" {
		updates["gateway_ref"] = cmd.GatewayRef
	}
	if cmd.PaymentLink != "" {
		updates["payment_link"] = cmd.PaymentLink
	}
	if cmd.ClientSecret != "" {
		updates["client_secret"] = cmd.ClientSecret
	}
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", cmd.TransactionID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to attach gateway ref: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("transaction %d: %w", cmd.TransactionID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *transactionRepository) SumUsage(ctx context.Context, q UsageQuery) (decimal.Decimal, error) {
	db := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("user_id = ? AND type IN ? AND created_at >= ? AND created_at < ?",
			q.UserID, models.DebitTypes, q.From, q.To).
		Where("status = ? OR (status = ? AND settlement = ?)",
			models.StatusCompleted, models.StatusPending, models.SettlementGateway)
	if q.CardID != nil {
		db = db.Where("card_id = ?", *q.CardID)
	}

	var row struct {
		Total decimal.Decimal
	}
	if err := db.Select("COALESCE(SUM(amount), 0) AS total").Scan(&row).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum usage: %w", err)
	}
	return row.Total, nil
}

func (r *transactionRepository) ListPending(ctx context.Context, q PendingQuery) ([]models.Transaction, error) {
	db := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, q.Before)
	if len(q.Types) > 0 {
		db = db.Where("type IN ?", q.Types)
	}
	if q.Settlement != "" {
		db = db.Where("settlement = ?", q.Settlement)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var txs []models.Transaction
	if err := db.Order("created_at ASC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) Summary(ctx context.Context, userID uint, from, to time.Time) ([]TypeTotal, error) {
	var totals []TypeTotal
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("user_id = ? AND status = ? AND created_at >= ? AND created_at < ?",
			userID, models.StatusCompleted, from, to).
		Select("type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(fees), 0) AS fees").
		Group("type").
		Order("type").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize transactions: %w", err)
	}
	return totals, nil
}
