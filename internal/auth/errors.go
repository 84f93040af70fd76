package auth

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

// Authentication errors. All of them wrap interfaces.ErrUnauthenticated.
var (
	ErrMissingToken     = fmt.Errorf("%w: missing bearer token", interfaces.ErrUnauthenticated)
	ErrInvalidToken     = fmt.Errorf("%w: invalid token", interfaces.ErrUnauthenticated)
	ErrExpiredToken     = fmt.Errorf("%w: token expired", interfaces.ErrUnauthenticated)
	ErrIncompleteClaims = fmt.Errorf("%w: token lacks user id or role", interfaces.ErrUnauthenticated)
	ErrUnknownRole      = fmt.Errorf("%w: unknown role", interfaces.ErrUnauthenticated)
)

// ErrEmptySecret is returned when the JWT provider is built without a key.
var ErrEmptySecret = errors.New("jwt secret cannot be empty")

func isUnauthenticated(err error) bool {
	return errors.Is(err, interfaces.ErrUnauthenticated)
}

func wrapUnauthenticated(err error) error {
	return fmt.Errorf("%w: %v", interfaces.ErrUnauthenticated, err)
}
