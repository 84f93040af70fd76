package mentor

import (
	"errors"
	"fmt"

	"studyhall/pkg/interfaces"
)

// Mentor errors. A failed exchange appends nothing to the session.
var (
	ErrSessionNotFound  = fmt.Errorf("%w: mentor session not found", interfaces.ErrNotFound)
	ErrSessionNotBound  = fmt.Errorf("%w: mentor session is not bound to this connection", interfaces.ErrUnauthorized)
	ErrStudentNotOwned  = fmt.Errorf("%w: student does not belong to your family", interfaces.ErrUnauthorized)
	ErrStoreUnavailable = fmt.Errorf("%w: persistence store failed", interfaces.ErrDependency)
	ErrGeneratorFailed  = fmt.Errorf("%w: response generator failed", interfaces.ErrDependency)
	ErrEmptyReply       = errors.New("response generator returned an empty reply")
	ErrConnectionClosed = errors.New("connection closed")
)
