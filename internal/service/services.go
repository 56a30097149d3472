package service

import (
	"log/slog"

	"resellerpay/internal/auth"
	"resellerpay/internal/config"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Services is the wired service graph shared by the HTTP layer and the jobs.
type Services struct {
	Auth       *AuthService
	Gate       *Gate
	Policy     *FundingPolicy
	Ledger     *LedgerService
	Payments   *PaymentService
	Operations *OperationService
}

// NewServices builds every service and registers the gate resumers for all
// guarded operation types.
func NewServices(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw PaymentGateway, logger *slog.Logger) *Services {
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

	return &Services{
		Auth:       NewAuthService(db, sessions, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger),
		Gate:       gate,
		Policy:     policy,
		Ledger:     ledger,
		Payments:   payments,
		Operations: ops,
	}
}
