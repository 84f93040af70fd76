// Package auth checks the bearer credential presented when a connection is
// opened. It is the only place a credential is verified; everything after
// the handshake trusts the Principal stored in the connection context.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// TokenQueryParam is the query parameter accepted as a bearer credential.
const TokenQueryParam = "token"

// Authenticator verifies connection credentials against an IdentityProvider.
type Authenticator struct {
	provider interfaces.IdentityProvider
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAuthenticator wraps provider. timeout bounds each Verify call; zero
// disables the bound.
func NewAuthenticator(provider interfaces.IdentityProvider, timeout time.Duration, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{provider: provider, timeout: timeout, logger: logger}
}

// TokenFromRequest returns the bearer token from the Authorization header or
// the token query parameter, or "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// Authenticate verifies token and returns the principal it identifies.
// Every failure wraps interfaces.ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (types.Principal, error) {
	if token == "" {
		return types.Principal{}, ErrMissingToken
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	principal, err := a.provider.Verify(ctx, token)
	if err != nil {
		a.logger.Info("authentication rejected", zap.Error(err))
		if !isUnauthenticated(err) {
			return types.Principal{}, wrapUnauthenticated(err)
		}
		return types.Principal{}, err
	}
	if principal.UserID == "" || principal.Role == "" {
		return types.Principal{}, ErrIncompleteClaims
	}

	a.logger.Debug("authenticated",
		zap.String("user_id", principal.UserID),
		zap.String("role", principal.Role))
	return principal, nil
}
