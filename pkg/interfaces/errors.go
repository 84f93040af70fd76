package interfaces

import "errors"

// Error taxonomy shared by every component. Packages wrap these with
// fmt.Errorf("%w: ...") and callers classify with errors.Is.
var (
	ErrUnauthenticated = errors.New("authentication failed")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrNotFound        = errors.New("not found")
	ErrDependency      = errors.New("dependency unavailable")
	ErrInvalidPayload  = errors.New("invalid payload")
)
