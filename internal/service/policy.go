package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Denial reasons returned by CanRequestFunding.
const (
	DenyNotPermitted         = "not_permitted"
	DenyDailyLimitExceeded   = "daily_limit_exceeded"
	DenyMonthlyLimitExceeded = "monthly_limit_exceeded"
)

type FundingDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Err converts a denial into a classified error, nil when allowed.
func (d FundingDecision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == DenyNotPermitted:
		return newError(KindPermissionDenied, "adding funds is not enabled for this account", nil)
	case d.Reason == DenyDailyLimitExceeded:
		return newError(KindLimitExceeded, "daily funding limit exceeded", nil)
	default:
		return newError(KindLimitExceeded, "monthly funding limit exceeded", nil)
	}
}

// FundingPolicy decides whether a user may start a funding attempt.
//
// The daily window is the rolling 24 hours before now; the monthly window is
// the current calendar month in the configured timezone. Usage in a window is
// every credit booked in it plus every attempt created in it that has not yet
// resolved, so two concurrent requests cannot both fit under one cap.
type FundingPolicy struct {
	permissions *repository.PermissionRepository
	ledger      *repository.LedgerRepository
	payments    *repository.PaymentRepository
	loc         *time.Location
	now         func() time.Time
}

func NewFundingPolicy(db *gorm.DB, cfg *config.Config) *FundingPolicy {
	return &FundingPolicy{
		permissions: repository.NewPermissionRepository(db),
		ledger:      repository.NewLedgerRepository(db),
		payments:    repository.NewPaymentRepository(db),
		loc:         cfg.Funding.Location(),
		now:         time.Now,
	}
}

// CanRequestFunding evaluates the policy. tx may be nil.
func (p *FundingPolicy) CanRequestFunding(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) (FundingDecision, error) {
	perm, err := p.permissions.GetByUserID(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPermissionNotFound) {
			return FundingDecision{Reason: DenyNotPermitted}, nil
		}
		return FundingDecision{}, fmt.Errorf("load funding permission: %w", err)
	}
	if !perm.CanAddFunds {
		return FundingDecision{Reason: DenyNotPermitted}, nil
	}

	now := p.now().UTC()

	if perm.MaxDailyFunding.Valid {
		used, err := p.usedSince(ctx, tx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return FundingDecision{}, err
		}
		if used.Add(amount).GreaterThan(perm.MaxDailyFunding.Decimal) {
			return FundingDecision{Reason: DenyDailyLimitExceeded}, nil
		}
	}

	if perm.MaxMonthlyFunding.Valid {
		used, err := p.usedSince(ctx, tx, userID, monthStart(now, p.loc))
		if err != nil {
			return FundingDecision{}, err
		}
		if used.Add(amount).GreaterThan(perm.MaxMonthlyFunding.Decimal) {
			return FundingDecision{Reason: DenyMonthlyLimitExceeded}, nil
		}
	}

	return FundingDecision{Allowed: true}, nil
}

func (p *FundingPolicy) usedSince(ctx context.Context, tx *gorm.DB, userID int64, since time.Time) (decimal.Decimal, error) {
	credited, err := p.ledger.SumSince(ctx, tx, userID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger: %w", err)
	}
	inFlight, err := p.payments.SumInFlightSince(ctx, tx, userID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum in-flight: %w", err)
	}
	return credited.Add(inFlight), nil
}

// monthStart is midnight on the first of now's month in loc, as UTC.
func monthStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
}

// GetPermission returns the user's permission row, or a disabled one if the
// administrator never created it.
func (p *FundingPolicy) GetPermission(ctx context.Context, userID int64) (*model.FundingPermission, error) {
	perm, err := p.permissions.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrPermissionNotFound) {
		return &model.FundingPermission{UserID: userID}, nil
	}
	return perm, err
}

type SetPermissionRequest struct {
	CanAddFunds       bool                `json:"canAddFunds"`
	MaxDailyFunding   decimal.NullDecimal `json:"maxDailyFunding"`
	MaxMonthlyFunding decimal.NullDecimal `json:"maxMonthlyFunding"`
}

// SetPermission replaces the user's permission row. Only administrators may
// call it.
func (p *FundingPolicy) SetPermission(ctx context.Context, admin model.Principal, userID int64, req SetPermissionRequest) (*model.FundingPermission, error) {
	if !admin.IsAdmin() {
		return nil, newError(KindForbidden, "only administrators may change funding permissions", nil)
	}
	for _, c := range []decimal.NullDecimal{req.MaxDailyFunding, req.MaxMonthlyFunding} {
		if c.Valid && c.Decimal.IsNegative() {
			return nil, newError(KindInvalidInput, "funding caps must not be negative", nil)
		}
	}

	perm := &model.FundingPermission{
		UserID:            userID,
		CanAddFunds:       req.CanAddFunds,
		MaxDailyFunding:   req.MaxDailyFunding,
		MaxMonthlyFunding: req.MaxMonthlyFunding,
		UpdatedBy:         admin.ID,
	}
	if err := p.permissions.Upsert(ctx, perm); err != nil {
		return nil, fmt.Errorf("save funding permission: %w", err)
	}
	return p.permissions.GetByUserID(ctx, nil, userID)
}
