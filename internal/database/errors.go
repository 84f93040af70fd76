package database

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

var (
	ErrStoreClosed   = fmt.Errorf("%w: database store is closed", interfaces.ErrDependency)
	ErrWriteTimeout  = fmt.Errorf("%w: database write timed out", interfaces.ErrDependency)
	ErrStudentExists = errors.New("student already exists")
	ErrInvalidRecord = fmt.Errorf("%w: invalid record", interfaces.ErrInvalidPayload)
)

// dependency marks a driver failure as a dependency error while keeping the cause.
func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", interfaces.ErrDependency, op, err)
}
