package router

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

// Router-specific errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAlreadyAuthorized = fmt.Errorf("%w: connection is already authenticated", interfaces.ErrInvalidPayload)
	ErrHandlerPanic      = errors.New("internal error while handling event")
)

// Error codes carried in <domain>.error payloads.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
	CodeInvalidPayload  = "invalid_payload"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

const unavailableMessage = "service temporarily unavailable, please retry"

// classify maps an error onto its wire code and the message shown to the
// caller. Dependency failures hide their cause.
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, interfaces.ErrUnauthenticated):
		return CodeUnauthenticated, err.Error()
	case errors.Is(err, interfaces.ErrUnauthorized):
		return CodeUnauthorized, err.Error()
	case errors.Is(err, interfaces.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, interfaces.ErrDependency):
		return CodeUnavailable, unavailableMessage
	case errors.Is(err, interfaces.ErrInvalidPayload):
		return CodeInvalidPayload, err.Error()
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited, err.Error()
	default:
		return CodeInternal, err.Error()
	}
}
