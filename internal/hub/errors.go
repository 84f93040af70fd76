package hub

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

// Hub-specific errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already attached")
	ErrUnknownConnection   = errors.New("connection not attached")
	ErrEmptyChannel        = errors.New("channel name cannot be empty")
	ErrAnalyticsForbidden  = fmt.Errorf("%w: live analytics require an admin role", interfaces.ErrUnauthorized)
)
