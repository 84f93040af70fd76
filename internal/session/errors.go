package session

import "errors"

// Registry errors
var (
	ErrInvalidPrincipal    = errors.New("principal must carry a user ID and role")
	ErrInvalidConnectionID = errors.New("connection ID cannot be empty")
)
