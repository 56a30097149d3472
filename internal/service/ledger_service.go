package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resellerpay/internal/model"
	"resellerpay/internal/repository"
	"resellerpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerService owns wallet balances. Credits happen only through credit,
// which the payment confirm path calls with its transaction open; nothing
// outside this package can move money into a wallet.
type LedgerService struct {
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	now         func() time.Time
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		now:         time.Now,
	}
}

type Balance struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (*Balance, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return &Balance{UserID: userID, Balance: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &Balance{UserID: userID, Balance: account.Balance}, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// credit appends one ledger entry and moves the cached balance with it.
// The caller holds the user's ledger lock and tx; the account row is also
// locked for the rest of tx.
func (s *LedgerService) credit(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, transactionNo string) (*model.LedgerEntry, error) {
	if err := s.accountRepo.EnsureExists(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	newBalance := account.Balance.Add(amount)
	if err := s.accountRepo.SetBalance(ctx, tx, userID, newBalance, account.Version); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	entry := &model.LedgerEntry{
		EntryNo:          idgen.GenerateLedgerEntryNo(),
		TransactionNo:    transactionNo,
		UserID:           userID,
		Amount:           amount,
		BalanceBefore:    account.Balance,
		ResultingBalance: newBalance,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
