package hub

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"studyhall/pkg/types"
)

// PublishProgress fans a stored progress record out to the student's family.
// A completed lesson additionally emits progress.lesson_completed.
func (h *Hub) PublishProgress(familyID string, record *types.ProgressRecord, student *types.Student) int {
	if record == nil {
		return 0
	}

	channel := FamilyChannel(familyID)
	delivered := h.Publish(channel, types.NewEvent(h.clock.Now(), types.EventProgressUpdated, types.ProgressUpdated{
		StudentID: record.StudentID,
		LessonID:  record.LessonID,
		Progress:  record.Progress,
		Score:     record.Score,
		Status:    record.Status,
	}), "")

	if record.Completed() {
		completedAt := record.LastActivityAt
		if record.CompletedAt != nil {
			completedAt = *record.CompletedAt
		}
		view := types.NewStudentView(student)
		if view.ID == "" {
			view.ID = record.StudentID
		}
		h.Publish(channel, types.NewEvent(h.clock.Now(), types.EventProgressLessonComplete, types.LessonCompleted{
			Student:     view,
			LessonID:    record.LessonID,
			FinalScore:  record.Score,
			CompletedAt: completedAt.UTC(),
		}), "")
		h.logger.Info("lesson completed",
			zap.String("family_id", familyID),
			zap.String("student_id", record.StudentID),
			zap.String("lesson_id", record.LessonID))
	}
	return delivered
}

// NotifyUser pushes a notification to every connection of userID.
func (h *Hub) NotifyUser(userID string, n types.Notification) int {
	return h.Publish(UserChannel(userID), types.NewEvent(h.clock.Now(), types.EventNotificationNew, h.stamp(n)), "")
}

// NotifyFamily pushes a notification to every connection of the family.
func (h *Hub) NotifyFamily(familyID string, n types.Notification) int {
	return h.Publish(FamilyChannel(familyID), types.NewEvent(h.clock.Now(), types.EventNotificationNew, h.stamp(n)), "")
}

// BroadcastSystemEvent sends a system.event to every connection.
func (h *Hub) BroadcastSystemEvent(event string, data any) int {
	now := h.clock.Now()
	return h.Broadcast(types.NewEvent(now, types.EventSystem, types.SystemEvent{
		Event:     event,
		Data:      data,
		Timestamp: now.UTC(),
	}), "")
}

func (h *Hub) stamp(n types.Notification) types.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = h.clock.Now().UTC()
	}
	return n
}
