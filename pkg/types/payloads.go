package types

import "time"

// Outbound payloads, one per outbound event.

type ConnectionEstablished struct {
	ConnectionID   string    `json:"connectionId"`
	ConnectedUsers int       `json:"connectedUsers"`
	ActiveBattles  int       `json:"activeBattles"`
	Timestamp      time.Time `json:"timestamp"`
}

type HeartbeatAck struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type StudentView struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	EducationLevel string `json:"educationLevel,omitempty"`
}

// NewStudentView projects a student onto its public fields.
func NewStudentView(s *Student) StudentView {
	if s == nil {
		return StudentView{}
	}
	return StudentView{
		ID:             s.ID,
		FirstName:      s.FirstName,
		LastName:       s.LastName,
		EducationLevel: s.EducationLevel,
	}
}

type ParticipantView struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Score     int    `json:"score"`
}

type BattleJoined struct {
	BattleID        string            `json:"battleId"`
	Participants    []ParticipantView `json:"participants"`
	CurrentQuestion int               `json:"currentQuestion"`
	QuestionsTotal  int               `json:"questionsTotal"`
}

type ParticipantJoined struct {
	Student          StudentView `json:"student"`
	ParticipantCount int         `json:"participantCount"`
}

type LastAnswer struct {
	Correct bool `json:"correct"`
	Score   int  `json:"score"`
}

type ScoreUpdate struct {
	StudentID  string     `json:"studentId"`
	Score      int        `json:"score"`
	LastAnswer LastAnswer `json:"lastAnswer"`
}

type ParticipantLeft struct {
	StudentID        string `json:"studentId"`
	ParticipantCount int    `json:"participantCount"`
}

type MentorSessionStarted struct {
	SessionID string `json:"sessionId"`
	Greeting  string `json:"greeting"`
}

type MentorResponse struct {
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type NotificationMarkedRead struct {
	NotificationID string `json:"notificationId"`
}

// AnalyticsSnapshot is the periodic live-metrics payload.
type AnalyticsSnapshot struct {
	ConnectedSessionCount    int       `json:"connectedSessionCount"`
	ActiveRoomCount          int       `json:"activeRoomCount"`
	ActiveMentorSessionCount int       `json:"activeMentorSessionCount"`
	Timestamp                time.Time `json:"timestamp"`
}

type ProgressUpdated struct {
	StudentID string  `json:"studentId"`
	LessonID  string  `json:"lessonId"`
	Progress  float64 `json:"progress"`
	Score     float64 `json:"score"`
	Status    string  `json:"status"`
}

type LessonCompleted struct {
	Student     StudentView `json:"student"`
	LessonID    string      `json:"lessonId"`
	FinalScore  float64     `json:"finalScore"`
	CompletedAt time.Time   `json:"completedAt"`
}

type SystemEvent struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type UserDisconnected struct {
	UserID         string `json:"userId"`
	ConnectedUsers int    `json:"connectedUsers"`
}
