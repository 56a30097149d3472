package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"
)

// Resumer carries out one kind of guarded operation. verifiedBy is the
// employee code that authorized it, empty for principals the gate lets
// straight through.
type Resumer func(ctx context.Context, p model.Principal, action *model.PendingAction, verifiedBy string) (interface{}, error)

// GateResult tells the caller whether the operation ran or is waiting for
// employee verification.
type GateResult struct {
	Executed             bool        `json:"executed"`
	VerificationRequired bool        `json:"verificationRequired"`
	OperationType        string      `json:"operationType,omitempty"`
	OperationDetails     string      `json:"operationDetails,omitempty"`
	Result               interface{} `json:"result,omitempty"`
}

// Gate forces non-administrative employees to re-enter their employee ID
// before a guarded operation runs. An operation requested before that is
// parked in the session's single pending slot and resumed by the resumer
// registered for its type once verification succeeds.
type Gate struct {
	sessions        *repository.SessionStore
	identity        IdentityChecker
	resumers        map[string]Resumer
	verificationTTL time.Duration
	pendingTTL      time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewGate(sessions *repository.SessionStore, identity IdentityChecker, cfg *config.AuthConfig, logger *slog.Logger) *Gate {
	return &Gate{
		sessions:        sessions,
		identity:        identity,
		resumers:        make(map[string]Resumer),
		verificationTTL: cfg.VerificationTTL,
		pendingTTL:      cfg.PendingActionTTL,
		logger:          logger,
		now:             time.Now,
	}
}

// Register binds the resumer for an operation type. Call it during wiring only.
func (g *Gate) Register(operationType string, r Resumer) {
	g.resumers[operationType] = r
}

func (g *Gate) Supports(operationType string) bool {
	_, ok := g.resumers[operationType]
	return ok
}

func needsVerification(p model.Principal) bool {
	return p.Role == model.RoleEmployee && !p.ExemptFromVerification
}

// RequireVerification runs action now if the principal needs no verification
// or the session is already verified; otherwise it parks action and returns
// a result asking for verification. A second guarded call while one is
// parked is refused with KindConflict.
func (g *Gate) RequireVerification(ctx context.Context, p model.Principal, action *model.PendingAction) (*GateResult, error) {
	resume, ok := g.resumers[action.OperationType]
	if !ok {
		return nil, newError(KindInvalidInput, fmt.Sprintf("unknown operation type %q", action.OperationType), nil)
	}
	action.RequestedBy = p.ID
	if action.RequestedAt.IsZero() {
		action.RequestedAt = g.now().UTC()
	}

	if !needsVerification(p) {
		return g.execute(ctx, p, action, "", resume)
	}

	verifiedBy, err := g.sessions.VerifiedEmployee(ctx, p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load verification: %w", err)
	}
	if verifiedBy != "" {
		return g.execute(ctx, p, action, verifiedBy, resume)
	}

	if err := g.sessions.ParkAction(ctx, p.SessionID, action, g.pendingTTL); err != nil {
		if errors.Is(err, repository.ErrActionPending) {
			return nil, newError(KindConflict, "another operation is waiting for employee verification", err)
		}
		return nil, fmt.Errorf("park action: %w", err)
	}

	g.logger.InfoContext(ctx, "guarded operation awaiting verification",
		"session_id", p.SessionID, "principal_id", p.ID, "operation", action.OperationType)

	return &GateResult{
		VerificationRequired: true,
		OperationType:        action.OperationType,
		OperationDetails:     action.OperationDetails,
	}, nil
}

// OnVerified checks employeeID and, only if it is valid, marks the session
// verified and runs the parked action exactly once. On failure the session
// stays unverified and the action stays parked. sessionExpiry bounds the
// verification when no explicit verification TTL is configured.
func (g *Gate) OnVerified(ctx context.Context, p model.Principal, employeeID string, sessionExpiry time.Time) (*GateResult, error) {
	employeeID = strings.TrimSpace(employeeID)
	if err := g.identity.VerifyEmployeeID(ctx, p, employeeID); err != nil {
		g.logger.WarnContext(ctx, "employee verification failed",
			"session_id", p.SessionID, "principal_id", p.ID)
		if IsKind(err, KindVerificationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("verify employee id: %w", err)
	}

	if err := g.sessions.SetVerified(ctx, p.SessionID, employeeID, g.verifiedTTL(sessionExpiry)); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}

	action, err := g.sessions.ClaimAction(ctx, p.SessionID)
	if errors.Is(err, repository.ErrNoPendingAction) {
		return &GateResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending action: %w", err)
	}

	resume, ok := g.resumers[action.OperationType]
	if !ok {
		return nil, newError(KindInvalidInput, fmt.Sprintf("unknown operation type %q", action.OperationType), nil)
	}
	// Past this point the action runs to completion even if the caller goes away.
	return g.execute(context.WithoutCancel(ctx), p, action, employeeID, resume)
}

// OnCancelled discards the parked action without running it and reports
// whether there was one.
func (g *Gate) OnCancelled(ctx context.Context, p model.Principal) (bool, error) {
	dropped, err := g.sessions.DropAction(ctx, p.SessionID)
	if err != nil {
		return false, fmt.Errorf("drop pending action: %w", err)
	}
	if dropped {
		g.logger.InfoContext(ctx, "guarded operation cancelled", "session_id", p.SessionID, "principal_id", p.ID)
	}
	return dropped, nil
}

// Session returns the caller's verification state.
func (g *Gate) Session(ctx context.Context, p model.Principal) (model.VerificationSession, error) {
	return g.sessions.Load(ctx, p.SessionID)
}

func (g *Gate) verifiedTTL(sessionExpiry time.Time) time.Duration {
	if g.verificationTTL > 0 {
		return g.verificationTTL
	}
	if sessionExpiry.IsZero() {
		return 0
	}
	if ttl := sessionExpiry.Sub(g.now()); ttl > 0 {
		return ttl
	}
	return time.Second
}

func (g *Gate) execute(ctx context.Context, p model.Principal, action *model.PendingAction, verifiedBy string, resume Resumer) (*GateResult, error) {
	result, err := resume(ctx, p, action, verifiedBy)
	if err != nil {
		return nil, err
	}
	return &GateResult{
		Executed:         true,
		OperationType:    action.OperationType,
		OperationDetails: action.OperationDetails,
		Result:           result,
	}, nil
}
