package service

import (
	"context"
	"testing"
	"time"

	"resellerpay/internal/auth"
	"resellerpay/internal/config"
	"resellerpay/internal/logging"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"
	"resellerpay/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	rdb      *redis.Client
	mr       *miniredis.Miniredis
	cfg      *config.Config
	gw       *testutil.FakeGateway
	sessions *repository.SessionStore
	policy   *FundingPolicy
	ledger   *LedgerService
	payments *PaymentService
	ops      *OperationService
	gate     *Gate
	auth     *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewTestDB(t)
	rdb, mr := testutil.NewTestRedis(t)
	cfg := testutil.NewTestConfig()
	logger := logging.Discard()
	gw := testutil.NewFakeGateway()

	sessions := repository.NewSessionStore(rdb)
	policy := NewFundingPolicy(db, cfg)
	ledger := NewLedgerService(db)
	payments := NewPaymentService(db, rdb, cfg, gw, policy, ledger, logger)
	ops := NewOperationService(db, cfg, logger)

	gate := NewGate(sessions, NewEmployeeDirectory(db), &cfg.Auth, logger)
	gate.Register(model.OperationAddFunds, payments.AddFundsResumer())
	for _, op := range []string{model.OperationActivation, model.OperationSimSwap, model.OperationRecharge} {
		gate.Register(op, ops.Resumer())
	}

	return &harness{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		rdb:      rdb,
		mr:       mr,
		cfg:      cfg,
		gw:       gw,
		sessions: sessions,
		policy:   policy,
		ledger:   ledger,
		payments: payments,
		ops:      ops,
		gate:     gate,
		auth:     NewAuthService(db, sessions, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger),
	}
}

func (h *harness) createUser(username, role, subRole, code string) *model.User {
	h.t.Helper()
	hash, err := HashPassword("pw-" + username)
	require.NoError(h.t, err)
	u := &model.User{Username: username, PasswordHash: hash, Role: role, EmployeeSubRole: subRole, Active: true}
	if code != "" {
		u.EmployeeCode = &code
	}
	require.NoError(h.t, repository.NewUserRepository(h.db).Create(h.ctx, u))
	return u
}

// grant enables funding for userID; empty caps mean no ceiling.
func (h *harness) grant(userID int64, daily, monthly string) {
	h.t.Helper()
	perm := &model.FundingPermission{UserID: userID, CanAddFunds: true, UpdatedBy: 1}
	if daily != "" {
		perm.MaxDailyFunding = decimal.NewNullDecimal(decimal.RequireFromString(daily))
	}
	if monthly != "" {
		perm.MaxMonthlyFunding = decimal.NewNullDecimal(decimal.RequireFromString(monthly))
	}
	require.NoError(h.t, repository.NewPermissionRepository(h.db).Upsert(h.ctx, perm))
}

func (h *harness) addLedgerEntry(userID int64, amount string, at time.Time) {
	h.t.Helper()
	no := "LEDTEST-" + at.Format(time.RFC3339Nano) + amount
	require.NoError(h.t, repository.NewLedgerRepository(h.db).Create(h.ctx, nil, &model.LedgerEntry{
		EntryNo:          no,
		TransactionNo:    "FNDTEST-" + no,
		UserID:           userID,
		Amount:           decimal.RequireFromString(amount),
		BalanceBefore:    decimal.Zero,
		ResultingBalance: decimal.RequireFromString(amount),
		CreatedAt:        at.UTC(),
	}))
}

func (h *harness) txn(no string) *model.PaymentTransaction {
	h.t.Helper()
	txn, err := repository.NewPaymentRepository(h.db).GetByTransactionNo(h.ctx, nil, no)
	require.NoError(h.t, err)
	return txn
}

func (h *harness) countTxns(userID int64) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&model.PaymentTransaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func (h *harness) ledgerEntries(userID int64) []*model.LedgerEntry {
	h.t.Helper()
	var entries []*model.LedgerEntry
	require.NoError(h.t, h.db.Where("user_id = ?", userID).Find(&entries).Error)
	return entries
}

func (h *harness) balance(userID int64) decimal.Decimal {
	h.t.Helper()
	b, err := h.ledger.GetBalance(h.ctx, userID)
	require.NoError(h.t, err)
	return b.Balance
}

func (h *harness) outbox(eventType string) []*model.OutboxMessage {
	h.t.Helper()
	msgs, err := repository.NewOutboxRepository(h.db).ListByEventType(h.ctx, eventType)
	require.NoError(h.t, err)
	return msgs
}

// backdate moves a transaction's timestamps into the past.
func (h *harness) backdate(no string, by time.Duration) {
	h.t.Helper()
	past := time.Now().UTC().Add(-by)
	require.NoError(h.t, h.db.Model(&model.PaymentTransaction{}).Where("transaction_no = ?", no).
		UpdateColumns(map[string]interface{}{"created_at": past, "updated_at": past}).Error)
}

// openIntent funds userID through CreateIntent and returns the transaction
// number and gateway intent id.
func (h *harness) openIntent(userID int64, amount string) (string, string) {
	h.t.Helper()
	res, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{
		UserID:        userID,
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: "credit_card",
		RequestedBy:   userID,
	})
	require.NoError(h.t, err)
	txn := h.txn(res.TransactionID)
	return res.TransactionID, txn.IntentID()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
