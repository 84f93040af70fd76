package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names. The set is closed: anything else is rejected before
// it reaches a handler.
const (
	EventHandshake            = "handshake"
	EventHeartbeat            = "heartbeat"
	EventBattleJoin           = "battle.join"
	EventBattleAnswer         = "battle.answer"
	EventBattleLeave          = "battle.leave"
	EventMentorStart          = "mentor.start"
	EventMentorMessage        = "mentor.message"
	EventNotificationMarkRead = "notification.markRead"
	EventAnalyticsSubscribe   = "analytics.subscribe"
	EventProgressUpdate       = "progress.update"
)

// Outbound event names.
const (
	EventConnectionEstablished  = "connection_established"
	EventHeartbeatAck           = "heartbeat_ack"
	EventBattleJoined           = "battle.joined"
	EventBattleParticipantJoin  = "battle.participant_joined"
	EventBattleScoreUpdate      = "battle.score_update"
	EventBattleParticipantLeft  = "battle.participant_left"
	EventBattleError            = "battle.error"
	EventMentorSessionStarted   = "mentor.session_started"
	EventMentorResponse         = "mentor.response"
	EventMentorError            = "mentor.error"
	EventNotificationMarkedRead = "notification.marked_read"
	EventNotificationError      = "notification.error"
	EventNotificationNew        = "notification.new"
	EventAnalyticsSubscribed    = "analytics.subscribed"
	EventAnalyticsUpdate        = "analytics.update"
	EventAnalyticsError         = "analytics.error"
	EventProgressUpdated        = "progress.updated"
	EventProgressLessonComplete = "progress.lesson_completed"
	EventProgressError          = "progress.error"
	EventSystem                 = "system.event"
	EventUserDisconnected       = "user.disconnected"
	EventError                  = "error"
)

// Envelope is the raw inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is the outbound frame.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an outbound event stamped with at in UTC.
func NewEvent(at time.Time, eventType string, data any) Event {
	return Event{Type: eventType, Data: data, Timestamp: at.UTC()}
}

// Request is implemented by every inbound payload variant.
type Request interface {
	Validate() error
}

type HandshakeRequest struct {
	Token string `json:"token"`
}

type HeartbeatRequest struct{}

type BattleJoinRequest struct {
	BattleID  string `json:"battleId"`
	StudentID string `json:"studentId"`
}

// AnswerPayload is the client's answer. Only Correct affects scoring; Value
// is kept verbatim in the answer record.
type AnswerPayload struct {
	Correct bool `json:"correct"`
	Value   any  `json:"value,omitempty"`
}

type BattleAnswerRequest struct {
	BattleID    string        `json:"battleId"`
	QuestionID  string        `json:"questionId"`
	Answer      AnswerPayload `json:"answer"`
	TimeSpentMs int64         `json:"timeSpentMs"`
}

type BattleLeaveRequest struct{}

type MentorStartRequest struct {
	StudentID string `json:"studentId"`
	Subject   string `json:"subject"`
}

type MentorMessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type NotificationMarkReadRequest struct {
	NotificationID string `json:"notificationId"`
}

type AnalyticsSubscribeRequest struct{}

type ProgressUpdateRequest struct {
	StudentID string  `json:"studentId"`
	LessonID  string  `json:"lessonId"`
	Progress  float64 `json:"progress"`
	Score     float64 `json:"score"`
}

// newRequest returns an empty payload for a known inbound event name.
func newRequest(eventType string) (Request, bool) {
	switch eventType {
	case EventHandshake:
		return &HandshakeRequest{}, true
	case EventHeartbeat:
		return &HeartbeatRequest{}, true
	case EventBattleJoin:
		return &BattleJoinRequest{}, true
	case EventBattleAnswer:
		return &BattleAnswerRequest{}, true
	case EventBattleLeave:
		return &BattleLeaveRequest{}, true
	case EventMentorStart:
		return &MentorStartRequest{}, true
	case EventMentorMessage:
		return &MentorMessageRequest{}, true
	case EventNotificationMarkRead:
		return &NotificationMarkReadRequest{}, true
	case EventAnalyticsSubscribe:
		return &AnalyticsSubscribeRequest{}, true
	case EventProgressUpdate:
		return &ProgressUpdateRequest{}, true
	default:
		return nil, false
	}
}

// DecodeRequest turns an envelope into its typed, validated payload.
func DecodeRequest(env Envelope) (Request, error) {
	req, ok := newRequest(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseEnvelope decodes a raw text frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return env, nil
}
