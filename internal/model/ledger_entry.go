package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one wallet credit. Rows are append-only: never updated,
// never deleted, and at most one exists per payment transaction
// (unique index on transaction_no).
type LedgerEntry struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	TransactionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID           int64           `gorm:"index:idx_ledger_user_time;not null" json:"user_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	ResultingBalance decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"resulting_balance"`
	CreatedAt        time.Time       `gorm:"index:idx_ledger_user_time;not null" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "wallet_ledger"
}
