package types

import (
	"regexp"
	"unicode/utf8"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const (
	maxIDLength        = 64
	maxSessionIDLength = 128
	maxMessageLength   = 4000
	maxSubjectLength   = 100
)

// IsValidID checks the format shared by user, family, student, battle,
// lesson, session and notification identifiers.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > maxIDLength {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidSessionID checks a mentor session identifier. Session IDs embed a
// student ID and a UUID, so they get a longer limit than plain IDs.
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > maxSessionIDLength {
		return false
	}
	return idRegex.MatchString(id)
}

func (r *HandshakeRequest) Validate() error {
	if r.Token == "" {
		return ErrMissingToken
	}
	return nil
}

func (r *HeartbeatRequest) Validate() error { return nil }

func (r *BattleJoinRequest) Validate() error {
	if !IsValidID(r.BattleID) || !IsValidID(r.StudentID) {
		return ErrInvalidID
	}
	return nil
}

func (r *BattleAnswerRequest) Validate() error {
	if !IsValidID(r.BattleID) || !IsValidID(r.QuestionID) {
		return ErrInvalidID
	}
	if r.TimeSpentMs < 0 {
		return ErrNegativeTimeSpent
	}
	return nil
}

func (r *BattleLeaveRequest) Validate() error { return nil }

func (r *MentorStartRequest) Validate() error {
	if !IsValidID(r.StudentID) {
		return ErrInvalidID
	}
	if n := utf8.RuneCountInString(r.Subject); n < 1 || n > maxSubjectLength {
		return ErrInvalidSubject
	}
	return nil
}

func (r *MentorMessageRequest) Validate() error {
	if !IsValidSessionID(r.SessionID) {
		return ErrInvalidSessionID
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(r.Message) > maxMessageLength {
		return ErrMessageTooLarge
	}
	return nil
}

func (r *NotificationMarkReadRequest) Validate() error {
	if !IsValidID(r.NotificationID) {
		return ErrInvalidID
	}
	return nil
}

func (r *AnalyticsSubscribeRequest) Validate() error { return nil }

func (r *ProgressUpdateRequest) Validate() error {
	if !IsValidID(r.StudentID) || !IsValidID(r.LessonID) {
		return ErrInvalidID
	}
	if r.Progress < 0 || r.Progress > 100 {
		return ErrInvalidProgress
	}
	if r.Score < 0 {
		return ErrInvalidScore
	}
	return nil
}
