package repository

import (
	"context"
	"errors"

	"resellerpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPermissionNotFound = errors.New("funding permission not found")

type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.FundingPermission, error) {
	if tx == nil {
		tx = r.db
	}
	var p model.FundingPermission
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Upsert creates or replaces the user's permission row.
func (r *PermissionRepository) Upsert(ctx context.Context, p *model.FundingPermission) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"can_add_funds", "max_daily_funding", "max_monthly_funding", "updated_by", "updated_at",
			}),
		}).
		Create(p).Error
}
