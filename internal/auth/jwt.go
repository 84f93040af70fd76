package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"studyhall/internal/schedule"
	"studyhall/pkg/types"
)

// claims is the token body accepted by JWTProvider. user_id is honoured when
// the subject is empty.
type claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id,omitempty"`
	FamilyID string `json:"family_id,omitempty"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
}

// JWTProvider verifies HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
	issuer string
	clock  schedule.Clock
}

// NewJWTProvider creates a provider. issuer is checked only when non-empty.
func NewJWTProvider(secret, issuer string, clock schedule.Clock) (*JWTProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	if clock == nil {
		clock = schedule.RealClock()
	}
	return &JWTProvider{secret: []byte(secret), issuer: issuer, clock: clock}, nil
}

// Verify parses token and maps its claims onto a Principal.
func (p *JWTProvider) Verify(_ context.Context, token string) (types.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.Principal{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var parsed claims
	if _, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...); err != nil {
		return types.Principal{}, mapJWTError(err)
	}

	userID := parsed.Subject
	if userID == "" {
		userID = parsed.UserID
	}
	if userID == "" || parsed.Role == "" {
		return types.Principal{}, ErrIncompleteClaims
	}
	if !types.IsKnownRole(parsed.Role) {
		return types.Principal{}, fmt.Errorf("%w: %q", ErrUnknownRole, parsed.Role)
	}

	return types.Principal{
		UserID:   userID,
		FamilyID: parsed.FamilyID,
		Role:     parsed.Role,
		Email:    parsed.Email,
	}, nil
}

// Issue signs a token for principal valid for ttl. Used by tooling and tests.
func (p *JWTProvider) Issue(principal types.Principal, ttl time.Duration) (string, error) {
	now := p.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		FamilyID: principal.FamilyID,
		Role:     principal.Role,
		Email:    principal.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
