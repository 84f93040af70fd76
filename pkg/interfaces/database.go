package interfaces

import (
	"context"

	"studyhall/pkg/types"
)

// PersistenceStore is the durable storage the realtime core depends on.
type PersistenceStore interface {
	// ResolveStudent returns the student only if it belongs to familyID.
	// A missing or foreign student wraps ErrNotFound.
	ResolveStudent(ctx context.Context, studentID, familyID string) (*types.Student, error)

	// SaveChatExchange durably records one mentor question/answer pair.
	SaveChatExchange(ctx context.Context, exchange *types.ChatExchange) error

	// UpsertProgress creates or updates the progress row for a lesson and
	// returns the stored record.
	UpsertProgress(ctx context.Context, update *types.ProgressUpdate) (*types.ProgressRecord, error)

	// MarkNotificationRead flags a notification as read when it is owned by
	// userID or addressed to familyID.
	MarkNotificationRead(ctx context.Context, notificationID, userID, familyID string) error

	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
