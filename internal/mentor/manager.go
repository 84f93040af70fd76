// Package mentor runs tutoring conversations between a student and the
// response generator. Conversations live in memory; every completed
// exchange is persisted before the reply is delivered.
package mentor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"studyhall/internal/hub"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// DefaultReplyTimeout bounds one call to the response generator.
const DefaultReplyTimeout = 30 * time.Second

// Publisher is the slice of the dispatcher the manager needs.
type Publisher interface {
	Subscribe(connectionID, channel string) error
	Unsubscribe(connectionID, channel string)
	Publish(channel string, event types.Event, exceptConnectionID string) int
}

type conversation struct {
	// turn serializes exchanges; it is held across the generator and store
	// calls.
	turn sync.Mutex

	mu           sync.Mutex
	id           string
	student      types.Student
	subject      string
	connectionID string
	messages     []types.ChatMessage
	startedAt    time.Time
	ended        bool
}

func (c *conversation) end() {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
}

// live reports whether the conversation is still open on sess.
func (c *conversation) live(sess *session.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.ended && !sess.Closed()
}

// Manager owns the live mentor sessions.
type Manager struct {
	store        interfaces.PersistenceStore
	generator    interfaces.ResponseGenerator
	publisher    Publisher
	clock        schedule.Clock
	replyTimeout time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*conversation
}

// NewManager creates a manager. replyTimeout <= 0 selects
// DefaultReplyTimeout.
func NewManager(store interfaces.PersistenceStore, generator interfaces.ResponseGenerator, publisher Publisher,
	clock schedule.Clock, replyTimeout time.Duration, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = schedule.RealClock()
	}
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:        store,
		generator:    generator,
		publisher:    publisher,
		clock:        clock,
		replyTimeout: replyTimeout,
		logger:       logger,
		sessions:     make(map[string]*conversation),
	}
}

// Greeting is the first assistant line of every session.
func Greeting(firstName, subject string) string {
	return fmt.Sprintf("Hello %s! I'm your mentor. How can I help you with %s today?", firstName, subject)
}

// Start opens a session for one of the caller's students and binds it to
// the connection, ending any session the connection was bound to before.
func (m *Manager) Start(ctx context.Context, sess *session.Context, studentID, subject string) (types.MentorSessionStarted, error) {
	student, err := m.store.ResolveStudent(ctx, studentID, sess.FamilyID())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.MentorSessionStarted{}, ErrStudentNotOwned
		}
		return types.MentorSessionStarted{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	conv := &conversation{
		id:           fmt.Sprintf("mentor_%s_%s", studentID, uuid.NewString()),
		student:      *student,
		subject:      subject,
		connectionID: sess.ConnectionID(),
		startedAt:    m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.Closed() {
		return types.MentorSessionStarted{}, ErrConnectionClosed
	}
	if err := m.publisher.Subscribe(sess.ConnectionID(), hub.MentorChannel(conv.id)); err != nil {
		return types.MentorSessionStarted{}, fmt.Errorf("subscribe to mentor session: %w", err)
	}

	if previous := sess.BindMentorSession(conv.id); previous != "" {
		m.dropLocked(previous)
	}
	m.sessions[conv.id] = conv

	m.logger.Info("mentor session started",
		zap.String("session_id", conv.id),
		zap.String("student_id", studentID),
		zap.String("subject", subject))

	return types.MentorSessionStarted{
		SessionID: conv.id,
		Greeting:  Greeting(student.FirstName, subject),
	}, nil
}

// SendMessage runs one exchange on the caller's bound session. The reply is
// persisted, then both messages are appended and mentor.response is
// published to the session channel. Nothing is appended on failure.
func (m *Manager) SendMessage(ctx context.Context, sess *session.Context, sessionID, message string) (types.MentorResponse, error) {
	if sess.MentorSession() != sessionID {
		return types.MentorResponse{}, ErrSessionNotBound
	}

	m.mu.RLock()
	conv, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return types.MentorResponse{}, ErrSessionNotFound
	}

	conv.turn.Lock()
	defer conv.turn.Unlock()

	conv.mu.Lock()
	if conv.ended {
		conv.mu.Unlock()
		return types.MentorResponse{}, ErrSessionNotFound
	}
	history := append([]types.ChatMessage(nil), conv.messages...)
	conv.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, m.replyTimeout)
	reply, err := m.generator.Generate(genCtx, message, history)
	cancel()
	if err != nil {
		m.logger.Warn("response generation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return types.MentorResponse{}, fmt.Errorf("%w: %v", ErrGeneratorFailed, err)
	}
	if reply == "" {
		return types.MentorResponse{}, fmt.Errorf("%w: %v", ErrGeneratorFailed, ErrEmptyReply)
	}

	// A session ended while the generator ran must not leave a stored
	// exchange it never shows.
	if !conv.live(sess) {
		return types.MentorResponse{}, ErrSessionNotFound
	}

	asked := m.clock.Now()
	if err := m.store.SaveChatExchange(ctx, &types.ChatExchange{
		StudentID:   conv.student.ID,
		SessionID:   sessionID,
		UserMessage: message,
		Reply:       reply,
		Subject:     conv.subject,
		CreatedAt:   asked,
	}); err != nil {
		m.logger.Warn("chat exchange not persisted",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return types.MentorResponse{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	answered := m.clock.Now()
	response := types.MentorResponse{SessionID: sessionID, Message: reply, Timestamp: answered.UTC()}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.ended || sess.Closed() {
		m.logger.Warn("chat exchange persisted for an ended session",
			zap.String("session_id", sessionID),
			zap.String("student_id", conv.student.ID))
		return types.MentorResponse{}, ErrSessionNotFound
	}
	conv.messages = append(conv.messages,
		types.ChatMessage{Role: types.ChatRoleUser, Content: message, Timestamp: asked},
		types.ChatMessage{Role: types.ChatRoleAssistant, Content: reply, Timestamp: answered},
	)
	m.publisher.Publish(hub.MentorChannel(sessionID), types.NewEvent(answered, types.EventMentorResponse, response), "")

	return response, nil
}

// End tears down the connection's bound session, if any.
func (m *Manager) End(sess *session.Context) bool {
	id := sess.MentorSession()
	if id == "" {
		return false
	}
	sess.ClearMentorSession(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked(id)
}

// EvictIfIdle removes sessionID when it started before cutoff.
func (m *Manager) EvictIfIdle(sessionID string, cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.sessions[sessionID]
	if !ok || !conv.startedAt.Before(cutoff) {
		return false
	}
	return m.dropLocked(sessionID)
}

// dropLocked removes a session and unsubscribes its connection. Caller
// holds m.mu.
func (m *Manager) dropLocked(sessionID string) bool {
	conv, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	conv.end()
	m.publisher.Unsubscribe(conv.connectionID, hub.MentorChannel(sessionID))

	m.logger.Info("mentor session ended", zap.String("session_id", sessionID))
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionIDs returns a sorted snapshot of the live session IDs.
func (m *Manager) SessionIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// History returns a copy of the session's messages.
func (m *Manager) History(sessionID string) ([]types.ChatMessage, bool) {
	m.mu.RLock()
	conv, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]types.ChatMessage(nil), conv.messages...), true
}
