package types

import "errors"

// Payload validation errors. The router reports them as invalid payloads.
var (
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrMalformedPayload  = errors.New("malformed event payload")
	ErrInvalidID         = errors.New("identifier must be 1-64 characters: letters, digits, underscore, hyphen, colon or dot")
	ErrInvalidSessionID  = errors.New("session identifier must be 1-128 characters: letters, digits, underscore, hyphen, colon or dot")
	ErrMissingToken      = errors.New("token is required")
	ErrNegativeTimeSpent = errors.New("timeSpentMs must be non-negative")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
	ErrInvalidScore      = errors.New("score must be non-negative")
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrMessageTooLarge   = errors.New("message exceeds 4000 characters")
	ErrInvalidSubject    = errors.New("subject must be 1-100 characters")
)
