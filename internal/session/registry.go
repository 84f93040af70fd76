package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"studyhall/internal/schedule"
	"studyhall/pkg/types"
)

// AuthenticatedSession is the registry entry for one connected identity.
type AuthenticatedSession struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	FamilyID     string    `json:"family_id"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry tracks one AuthenticatedSession per user ID.
// Every operation is idempotent; acting on a missing entry is a no-op.
type Registry struct {
	clock  schedule.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*AuthenticatedSession // userID -> session
}

// NewRegistry creates an empty registry.
func NewRegistry(clock schedule.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = schedule.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:    clock,
		logger:   logger,
		sessions: make(map[string]*AuthenticatedSession),
	}
}

// Register creates or overwrites the entry for principal.UserID and returns
// the connection ID it superseded, if any.
func (r *Registry) Register(principal types.Principal, connectionID string) (string, error) {
	if principal.UserID == "" || principal.Role == "" {
		return "", ErrInvalidPrincipal
	}
	if connectionID == "" {
		return "", ErrInvalidConnectionID
	}

	now := r.clock.Now()
	entry := &AuthenticatedSession{
		ConnectionID: connectionID,
		UserID:       principal.UserID,
		FamilyID:     principal.FamilyID,
		Role:         principal.Role,
		ConnectedAt:  now,
		LastActivity: now,
	}

	r.mu.Lock()
	previous := ""
	if existing, ok := r.sessions[principal.UserID]; ok && existing.ConnectionID != connectionID {
		previous = existing.ConnectionID
	}
	r.sessions[principal.UserID] = entry
	r.mu.Unlock()

	if previous != "" {
		r.logger.Info("session superseded",
			zap.String("user_id", principal.UserID),
			zap.String("previous_connection_id", previous),
			zap.String("connection_id", connectionID))
	}
	return previous, nil
}

// Touch refreshes the entry's lastActivity.
func (r *Registry) Touch(userID string) {
	now := r.clock.Now()
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		s.LastActivity = now
	}
	r.mu.Unlock()
}

// Remove deletes the entry for userID.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

// RemoveConnection deletes the entry only while it still belongs to
// connectionID, so a superseded connection cannot remove its replacement.
func (r *Registry) RemoveConnection(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || s.ConnectionID != connectionID {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// EvictIfIdle removes the entry when its lastActivity is before cutoff.
// The check and the delete happen under one lock acquisition.
func (r *Registry) EvictIfIdle(userID string, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || !s.LastActivity.Before(cutoff) {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Get returns a copy of the entry for userID.
func (r *Registry) Get(userID string) (AuthenticatedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return AuthenticatedSession{}, false
	}
	return *s, true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UserIDs returns a snapshot of the registered user IDs.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
