// Package battle owns live quiz battle rooms: who is in them and their
// scores. Rooms exist only while they have participants and are never
// persisted.
package battle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"studyhall/internal/hub"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// Publisher is the slice of the dispatcher the coordinator needs.
type Publisher interface {
	Subscribe(connectionID, channel string) error
	Unsubscribe(connectionID, channel string)
	Publish(channel string, event types.Event, exceptConnectionID string) int
}

// AnswerRecord is one scored answer. Records are append-only.
type AnswerRecord struct {
	QuestionID   string              `json:"questionId"`
	Answer       types.AnswerPayload `json:"answer"`
	TimeSpentMs  int64               `json:"timeSpentMs"`
	AwardedScore int                 `json:"awardedScore"`
	Timestamp    time.Time           `json:"timestamp"`
}

type participant struct {
	student      types.Student
	connectionID string
	score        int
	answers      []AnswerRecord
	joinedAt     time.Time
}

type room struct {
	mu              sync.Mutex
	id              string
	participants    map[string]*participant // studentID -> participant
	startedAt       time.Time
	questions       []string
	currentQuestion int
}

// snapshot builds the joiner's view. Caller holds r.mu.
func (r *room) snapshot() types.BattleJoined {
	views := make([]types.ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, types.ParticipantView{
			ID:        p.student.ID,
			FirstName: p.student.FirstName,
			LastName:  p.student.LastName,
			Score:     p.score,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	return types.BattleJoined{
		BattleID:        r.id,
		Participants:    views,
		CurrentQuestion: r.currentQuestion,
		QuestionsTotal:  len(r.questions),
	}
}

// Coordinator manages battle rooms. Lock order is coordinator, then room.
type Coordinator struct {
	store     interfaces.PersistenceStore
	publisher Publisher
	clock     schedule.Clock
	logger    *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewCoordinator creates a coordinator with no rooms.
func NewCoordinator(store interfaces.PersistenceStore, publisher Publisher, clock schedule.Clock, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = schedule.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		rooms:     make(map[string]*room),
	}
}

// Join places the caller's student into battleID, creating the room on first
// join. A rejoin resets the participant's score to zero. The returned
// snapshot is for the joiner only; the rest of the room receives
// battle.participant_joined.
func (c *Coordinator) Join(ctx context.Context, sess *session.Context, battleID, studentID string) (types.BattleJoined, error) {
	student, err := c.store.ResolveStudent(ctx, studentID, sess.FamilyID())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.BattleJoined{}, ErrStudentNotOwned
		}
		return types.BattleJoined{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if bound, boundStudent := sess.Battle(); bound != "" && (bound != battleID || boundStudent != studentID) {
		c.Leave(sess)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sess.Closed() {
		return types.BattleJoined{}, ErrConnectionClosed
	}

	now := c.clock.Now()
	r, ok := c.rooms[battleID]
	if !ok {
		r = &room{
			id:           battleID,
			participants: make(map[string]*participant),
			startedAt:    now,
		}
		c.rooms[battleID] = r
		c.logger.Info("battle room created", zap.String("battle_id", battleID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	channel := hub.BattleChannel(battleID)
	if err := c.publisher.Subscribe(sess.ConnectionID(), channel); err != nil {
		if len(r.participants) == 0 {
			delete(c.rooms, battleID)
		}
		return types.BattleJoined{}, fmt.Errorf("subscribe to battle: %w", err)
	}

	r.participants[studentID] = &participant{
		student:      *student,
		connectionID: sess.ConnectionID(),
		joinedAt:     now,
	}
	sess.BindBattle(battleID, studentID)

	c.publisher.Publish(channel, types.NewEvent(c.clock.Now(), types.EventBattleParticipantJoin, types.ParticipantJoined{
		Student:          types.NewStudentView(student),
		ParticipantCount: len(r.participants),
	}), sess.ConnectionID())

	c.logger.Info("student joined battle",
		zap.String("battle_id", battleID),
		zap.String("student_id", studentID),
		zap.String("user_id", sess.UserID()),
		zap.Int("participants", len(r.participants)))

	return r.snapshot(), nil
}

// SubmitAnswer scores one answer for the caller's participant and broadcasts
// battle.score_update to the whole room. Updates for a room are emitted in
// the order they are processed.
func (c *Coordinator) SubmitAnswer(sess *session.Context, req *types.BattleAnswerRequest) (types.ScoreUpdate, error) {
	if req.TimeSpentMs < 0 {
		return types.ScoreUpdate{}, ErrNegativeTimeSpent
	}

	battleID, studentID := sess.Battle()
	if battleID == "" || battleID != req.BattleID {
		return types.ScoreUpdate{}, ErrNotInBattle
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[battleID]
	if !ok {
		return types.ScoreUpdate{}, ErrBattleNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.Closed() {
		return types.ScoreUpdate{}, ErrConnectionClosed
	}
	p, ok := r.participants[studentID]
	if !ok || p.connectionID != sess.ConnectionID() {
		return types.ScoreUpdate{}, ErrNotParticipant
	}

	awarded := Score(req.Answer.Correct, req.TimeSpentMs)
	p.answers = append(p.answers, AnswerRecord{
		QuestionID:   req.QuestionID,
		Answer:       req.Answer,
		TimeSpentMs:  req.TimeSpentMs,
		AwardedScore: awarded,
		Timestamp:    c.clock.Now(),
	})
	p.score += awarded

	update := types.ScoreUpdate{
		StudentID:  studentID,
		Score:      p.score,
		LastAnswer: types.LastAnswer{Correct: req.Answer.Correct, Score: awarded},
	}
	c.publisher.Publish(hub.BattleChannel(battleID), types.NewEvent(c.clock.Now(), types.EventBattleScoreUpdate, update), "")

	c.logger.Debug("answer scored",
		zap.String("battle_id", battleID),
		zap.String("student_id", studentID),
		zap.String("question_id", req.QuestionID),
		zap.Int("awarded", awarded),
		zap.Int("score", p.score))

	return update, nil
}

// Leave removes the caller's participant from its battle. The room is
// deleted when it becomes empty; otherwise the others receive
// battle.participant_left. It returns false when the caller was not bound.
func (c *Coordinator) Leave(sess *session.Context) bool {
	battleID, studentID := sess.Battle()
	if battleID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := hub.BattleChannel(battleID)
	defer c.publisher.Unsubscribe(sess.ConnectionID(), channel)
	sess.ClearBattle(battleID)

	r, ok := c.rooms[battleID]
	if !ok {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[studentID]
	if !ok || p.connectionID != sess.ConnectionID() {
		return true
	}
	delete(r.participants, studentID)

	remaining := len(r.participants)
	if remaining == 0 {
		delete(c.rooms, battleID)
		c.logger.Info("battle room closed", zap.String("battle_id", battleID))
		return true
	}

	c.publisher.Publish(channel, types.NewEvent(c.clock.Now(), types.EventBattleParticipantLeft, types.ParticipantLeft{
		StudentID:        studentID,
		ParticipantCount: remaining,
	}), sess.ConnectionID())

	c.logger.Info("student left battle",
		zap.String("battle_id", battleID),
		zap.String("student_id", studentID),
		zap.Int("participants", remaining))
	return true
}

// RoomCount returns the number of live rooms.
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// Snapshot returns the current view of battleID.
func (c *Coordinator) Snapshot(battleID string) (types.BattleJoined, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[battleID]
	if !ok {
		return types.BattleJoined{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Answers returns a copy of a participant's answer records.
func (c *Coordinator) Answers(battleID, studentID string) []AnswerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[battleID]
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[studentID]
	if !ok {
		return nil
	}
	return append([]AnswerRecord(nil), p.answers...)
}
