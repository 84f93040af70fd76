package interfaces

import (
	"context"

	"studyhall/pkg/types"
)

// IdentityProvider verifies a bearer credential presented at connection time.
// Verify is idempotent and side-effect free. Failures wrap ErrUnauthenticated.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (types.Principal, error)
}
