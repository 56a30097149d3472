package repository

import (
	"context"
	"errors"
	"time"

	"resellerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrStateInvalid        = errors.New("payment transaction state invalid")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(txn).Error
}

func (r *PaymentRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.PaymentTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var txn model.PaymentTransaction
	err := tx.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("gateway_intent_id = ?", intentID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// UpdateState moves a transaction from one state to the next. The update is
// conditional on the current state, so of two concurrent callers only one
// sees a row affected; the other gets ErrStateInvalid.
func (r *PaymentRepository) UpdateState(ctx context.Context, tx *gorm.DB, transactionNo, fromState, toState string, fields map[string]interface{}) error {
	if !model.CanTransitionTo(fromState, toState) {
		return ErrStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"state": toState,
	}
	for k, v := range fields {
		updates[k] = v
	}
	if toState == model.PaymentStateLedgerCredited {
		updates["credited_at"] = time.Now().UTC()
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("transaction_no = ? AND state = ?", transactionNo, fromState).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateInvalid
	}
	return nil
}

// SumInFlightSince totals unresolved attempts created at or after since.
func (r *PaymentRepository) SumInFlightSince(ctx context.Context, tx *gorm.DB, userID int64, since time.Time) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var amounts []decimal.Decimal
	err := tx.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("user_id = ? AND state IN ? AND created_at >= ?", userID, model.InFlightStates, since).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// GetStale returns transactions sitting in state since before updatedBefore.
func (r *PaymentRepository) GetStale(ctx context.Context, state string, updatedBefore time.Time, limit int) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", state, updatedBefore).
		Order("id ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	var txns []*model.PaymentTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error

	return txns, total, err
}
