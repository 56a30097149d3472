package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resellerpay/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the principal decided at login. The exemption flag is
// signed into the token so no later request can re-derive it.
type Claims struct {
	Role            string `json:"role"`
	EmployeeSubRole string `json:"sub_role,omitempty"`
	Username        string `json:"username"`
	SessionID       string `json:"sid"`
	Exempt          bool   `json:"vx,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and checks HS256 principal tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for p and the moment it stops being valid.
func (i *Issuer) Issue(p model.Principal) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role:            p.Role,
		EmployeeSubRole: p.EmployeeSubRole,
		Username:        p.Username,
		SessionID:       p.SessionID,
		Exempt:          p.ExemptFromVerification,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        p.SessionID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse accepts a raw token or an Authorization header value and returns
// the principal and token expiry.
func (i *Issuer) Parse(authHeader string) (model.Principal, time.Time, error) {
	tokenStr := strings.TrimSpace(authHeader)
	if strings.HasPrefix(strings.ToLower(tokenStr), "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	}
	if tokenStr == "" {
		return model.Principal{}, time.Time{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return model.Principal{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.SessionID == "" {
		return model.Principal{}, time.Time{}, ErrInvalidToken
	}

	p := model.Principal{
		ID:                     id,
		Role:                   claims.Role,
		EmployeeSubRole:        claims.EmployeeSubRole,
		Username:               claims.Username,
		SessionID:              claims.SessionID,
		ExemptFromVerification: claims.Exempt,
	}
	return p, claims.ExpiresAt.Time, nil
}
