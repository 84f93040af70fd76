// Package testutil holds in-memory fakes of the external collaborators,
// shared by the package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// ErrConnectionClosed is returned by RecordingConnection.Send after Close.
var ErrConnectionClosed = errors.New("recording connection closed")

// RecordingConnection captures every event sent to it.
type RecordingConnection struct {
	id string

	mu      sync.Mutex
	events  []types.Event
	closed  bool
	sendErr error
}

func NewRecordingConnection(id string) *RecordingConnection {
	return &RecordingConnection{id: id}
}

func (c *RecordingConnection) ID() string { return c.id }

func (c *RecordingConnection) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	e, ok := event.(types.Event)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	c.events = append(c.events, e)
	return nil
}

func (c *RecordingConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FailSends makes every later Send return err.
func (c *RecordingConnection) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *RecordingConnection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of every recorded event.
func (c *RecordingConnection) Events() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Event(nil), c.events...)
}

// EventsOfType returns the recorded events named eventType.
func (c *RecordingConnection) EventsOfType(eventType string) []types.Event {
	var out []types.Event
	for _, e := range c.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Types lists the recorded event names in order.
func (c *RecordingConnection) Types() []string {
	events := c.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func (c *RecordingConnection) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

var _ interfaces.Connection = (*RecordingConnection)(nil)

// FakeStore is an in-memory PersistenceStore. The *Err fields force the
// matching method to fail.
type FakeStore struct {
	mu        sync.Mutex
	students  map[string]types.Student
	exchanges []types.ChatExchange
	progress  map[string]*types.ProgressRecord
	read      map[string]string // notificationID -> userID
	owners    map[string]string // notificationID -> owner userID
	families  map[string]string // notificationID -> owner familyID

	ResolveErr error
	SaveErr    error
	UpsertErr  error
	MarkErr    error
	HealthErr  error

	// ResolveDelay blocks ResolveStudent to widen race windows in tests.
	ResolveDelay time.Duration
}

func NewFakeStore(students ...types.Student) *FakeStore {
	s := &FakeStore{
		students: make(map[string]types.Student),
		progress: make(map[string]*types.ProgressRecord),
		read:     make(map[string]string),
		owners:   make(map[string]string),
		families: make(map[string]string),
	}
	for _, st := range students {
		s.students[st.ID] = st
	}
	return s
}

func (s *FakeStore) AddStudent(st types.Student) {
	s.mu.Lock()
	s.students[st.ID] = st
	s.mu.Unlock()
}

func (s *FakeStore) AddNotification(notificationID, userID string) {
	s.mu.Lock()
	s.owners[notificationID] = userID
	s.mu.Unlock()
}

func (s *FakeStore) ResolveStudent(ctx context.Context, studentID, familyID string) (*types.Student, error) {
	if s.ResolveDelay > 0 {
		select {
		case <-time.After(s.ResolveDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ResolveErr != nil {
		return nil, s.ResolveErr
	}
	st, ok := s.students[studentID]
	if !ok || st.FamilyID != familyID {
		return nil, fmt.Errorf("student %s: %w", studentID, interfaces.ErrNotFound)
	}
	return &st, nil
}

func (s *FakeStore) SaveChatExchange(_ context.Context, exchange *types.ChatExchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.exchanges = append(s.exchanges, *exchange)
	return nil
}

// Exchanges returns the saved chat exchanges.
func (s *FakeStore) Exchanges() []types.ChatExchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatExchange(nil), s.exchanges...)
}

func (s *FakeStore) UpsertProgress(_ context.Context, update *types.ProgressUpdate) (*types.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return nil, s.UpsertErr
	}

	key := update.StudentID + "/" + update.LessonID
	rec, ok := s.progress[key]
	if !ok {
		rec = &types.ProgressRecord{
			StudentID: update.StudentID,
			LessonID:  update.LessonID,
			StartedAt: update.At,
		}
		s.progress[key] = rec
	}
	rec.Progress = update.Progress
	rec.Score = update.Score
	rec.LastActivityAt = update.At
	rec.Status = types.ProgressInProgress
	if rec.Completed() {
		rec.Status = types.ProgressCompleted
		at := update.At
		rec.CompletedAt = &at
	}
	out := *rec
	return &out, nil
}

func (s *FakeStore) AddFamilyNotification(notificationID, familyID string) {
	s.mu.Lock()
	s.families[notificationID] = familyID
	s.mu.Unlock()
}

func (s *FakeStore) MarkNotificationRead(_ context.Context, notificationID, userID, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return s.MarkErr
	}
	owner, byUser := s.owners[notificationID]
	family, byFamily := s.families[notificationID]
	if !(byUser && owner == userID) && !(byFamily && family != "" && family == familyID) {
		return fmt.Errorf("notification %s: %w", notificationID, interfaces.ErrNotFound)
	}
	s.read[notificationID] = userID
	return nil
}

// IsRead reports whether MarkNotificationRead succeeded for notificationID.
func (s *FakeStore) IsRead(notificationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.read[notificationID]
	return ok
}

func (s *FakeStore) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HealthErr
}

func (s *FakeStore) Close() error { return nil }

var _ interfaces.PersistenceStore = (*FakeStore)(nil)

// Fixture students in families f1 and f2.
var (
	AliceStudent = types.Student{ID: "s1", FamilyID: "f1", FirstName: "Alice", LastName: "A", EducationLevel: "ELEMENTARY"}
	BobStudent   = types.Student{ID: "s2", FamilyID: "f2", FirstName: "Bob", LastName: "B", EducationLevel: "MIDDLE"}
)
