package repository

import (
	"context"
	"errors"
	"time"

	"resellerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetByTransactionNo returns nil, nil when the transaction was never credited.
func (r *LedgerRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// SumSince totals the user's credits created at or after since.
func (r *LedgerRepository) SumSince(ctx context.Context, tx *gorm.DB, userID int64, since time.Time) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var amounts []decimal.Decimal
	err := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
