package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingPermission is maintained by administrators and read-only to the
// funding flow. A missing cap means no ceiling for that window.
type FundingPermission struct {
	ID                int64               `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID            int64               `gorm:"uniqueIndex;not null" json:"user_id"`
	CanAddFunds       bool                `gorm:"not null;default:false" json:"can_add_funds"`
	MaxDailyFunding   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"max_daily_funding"`
	MaxMonthlyFunding decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"max_monthly_funding"`
	UpdatedBy         int64               `json:"updated_by"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FundingPermission) TableName() string {
	return "funding_permission"
}
