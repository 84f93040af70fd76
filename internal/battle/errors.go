package battle

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

// Battle errors. Precondition failures leave every room untouched.
var (
	ErrBattleNotFound    = fmt.Errorf("%w: battle not found", interfaces.ErrNotFound)
	ErrNotInBattle       = fmt.Errorf("%w: connection has not joined this battle", interfaces.ErrUnauthorized)
	ErrNotParticipant    = fmt.Errorf("%w: connection is not the active participant", interfaces.ErrUnauthorized)
	ErrStudentNotOwned   = fmt.Errorf("%w: student does not belong to your family", interfaces.ErrUnauthorized)
	ErrStoreUnavailable  = fmt.Errorf("%w: student lookup failed", interfaces.ErrDependency)
	ErrNegativeTimeSpent = fmt.Errorf("%w: timeSpentMs must be non-negative", interfaces.ErrInvalidPayload)
	ErrConnectionClosed  = errors.New("connection closed")
)
