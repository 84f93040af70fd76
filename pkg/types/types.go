package types

import (
	"time"
)

// Roles carried by a Principal. Only the admin roles may watch live analytics.
const (
	RoleStudent    = "STUDENT"
	RoleParent     = "PARENT"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// IsKnownRole reports whether role is one of the role constants.
func IsKnownRole(role string) bool {
	switch role {
	case RoleStudent, RoleParent, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Progress statuses stored by the persistence layer.
const (
	ProgressInProgress = "IN_PROGRESS"
	ProgressCompleted  = "COMPLETED"
)

// Chat roles inside a mentor conversation.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	UserID   string `json:"user_id"`
	FamilyID string `json:"family_id"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
}

// IsPrivileged reports whether the principal may subscribe to live analytics.
func (p Principal) IsPrivileged() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// Student is a learner owned by a family.
type Student struct {
	ID             string `json:"id" db:"id"`
	FamilyID       string `json:"family_id" db:"family_id"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
	EducationLevel string `json:"education_level,omitempty" db:"education_level"`
}

// ChatMessage is one turn of a mentor conversation.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatExchange is the durable record of one mentor question and its reply.
type ChatExchange struct {
	StudentID   string    `json:"student_id" db:"student_id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	UserMessage string    `json:"user_message" db:"user_message"`
	Reply       string    `json:"reply" db:"ai_response"`
	Subject     string    `json:"subject" db:"subject"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProgressUpdate is the write side of a lesson progress change.
type ProgressUpdate struct {
	StudentID string    `json:"student_id"`
	LessonID  string    `json:"lesson_id"`
	Progress  float64   `json:"progress"`
	Score     float64   `json:"score"`
	At        time.Time `json:"at"`
}

// ProgressRecord is the stored progress of a student on a lesson.
type ProgressRecord struct {
	StudentID      string     `json:"student_id" db:"student_id"`
	LessonID       string     `json:"lesson_id" db:"lesson_id"`
	Progress       float64    `json:"progress" db:"progress"`
	Score          float64    `json:"score" db:"score"`
	Status         string     `json:"status" db:"status"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Completed reports whether the record reached the completion threshold.
func (r *ProgressRecord) Completed() bool {
	return r.Progress >= 100
}

// Notification is a user-facing notice pushed over the connection.
type Notification struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
