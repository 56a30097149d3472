package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resellerpay/internal/auth"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService logs principals in and out. Each login opens a new session
// id, so employee verification never carries over between logins.
type AuthService struct {
	users    *repository.UserRepository
	sessions *repository.SessionStore
	issuer   *auth.Issuer
	logger   *slog.Logger
}

func NewAuthService(db *gorm.DB, sessions *repository.SessionStore, issuer *auth.Issuer, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    repository.NewUserRepository(db),
		sessions: sessions,
		issuer:   issuer,
		logger:   logger,
	}
}

type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Principal model.Principal `json:"principal"`
}

var errBadCredentials = newError(KindUnauthenticated, "invalid username or password", nil)

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.Active {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errBadCredentials
	}

	p := model.NewPrincipal(u, uuid.NewString())
	token, exp, err := s.issuer.Issue(p)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Open(ctx, p.SessionID, p.ID, time.Until(exp)); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.logger.InfoContext(ctx, "login", "principal_id", p.ID, "role", p.Role, "session_id", p.SessionID,
		"exempt_from_verification", p.ExemptFromVerification)
	return &LoginResult{Token: token, ExpiresAt: exp, Principal: p}, nil
}

// Authenticate resolves a bearer token to its principal, rejecting tokens
// whose session was logged out.
func (s *AuthService) Authenticate(ctx context.Context, authHeader string) (model.Principal, time.Time, error) {
	p, exp, err := s.issuer.Parse(authHeader)
	if err != nil {
		return model.Principal{}, time.Time{}, newError(KindUnauthenticated, "invalid or missing token", err)
	}
	open, err := s.sessions.IsOpen(ctx, p.SessionID)
	if err != nil {
		return model.Principal{}, time.Time{}, fmt.Errorf("check session: %w", err)
	}
	if !open {
		return model.Principal{}, time.Time{}, newError(KindUnauthenticated, "session has ended", nil)
	}
	return p, exp, nil
}

// Logout ends the session together with its verification and pending action.
func (s *AuthService) Logout(ctx context.Context, p model.Principal) error {
	if err := s.sessions.Clear(ctx, p.SessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.InfoContext(ctx, "logout", "principal_id", p.ID, "session_id", p.SessionID)
	return nil
}

// HashPassword is used when provisioning users.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
