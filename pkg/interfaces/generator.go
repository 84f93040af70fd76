package interfaces

import (
	"context"

	"studyhall/pkg/types"
)

// ResponseGenerator produces the assistant reply for a mentor message.
// history holds the conversation so far, oldest first, excluding message.
type ResponseGenerator interface {
	Generate(ctx context.Context, message string, history []types.ChatMessage) (string, error)
}
