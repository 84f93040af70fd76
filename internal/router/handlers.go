package router

import (
	"context"
	"errors"
	"fmt"

	"studyhall/internal/session"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

func (r *Router) heartbeat(_ context.Context, sess *session.Context, _ types.Request) error {
	r.reply(sess, types.EventHeartbeatAck, types.HeartbeatAck{Timestamp: r.deps.Clock.Now().UTC()})
	return nil
}

func (r *Router) battleJoin(ctx context.Context, sess *session.Context, req types.Request) error {
	join := req.(*types.BattleJoinRequest)
	joined, err := r.deps.Battles.Join(ctx, sess, join.BattleID, join.StudentID)
	if err != nil {
		return err
	}
	r.reply(sess, types.EventBattleJoined, joined)
	return nil
}

func (r *Router) battleAnswer(_ context.Context, sess *session.Context, req types.Request) error {
	_, err := r.deps.Battles.SubmitAnswer(sess, req.(*types.BattleAnswerRequest))
	return err
}

func (r *Router) battleLeave(_ context.Context, sess *session.Context, _ types.Request) error {
	r.deps.Battles.Leave(sess)
	return nil
}

func (r *Router) mentorStart(ctx context.Context, sess *session.Context, req types.Request) error {
	start := req.(*types.MentorStartRequest)
	started, err := r.deps.Mentors.Start(ctx, sess, start.StudentID, start.Subject)
	if err != nil {
		return err
	}
	r.reply(sess, types.EventMentorSessionStarted, started)
	return nil
}

// mentorMessage relies on the manager publishing mentor.response to the
// session channel.
func (r *Router) mentorMessage(ctx context.Context, sess *session.Context, req types.Request) error {
	msg := req.(*types.MentorMessageRequest)
	_, err := r.deps.Mentors.SendMessage(ctx, sess, msg.SessionID, msg.Message)
	return err
}

func (r *Router) notificationMarkRead(ctx context.Context, sess *session.Context, req types.Request) error {
	mark := req.(*types.NotificationMarkReadRequest)
	if err := r.deps.Store.MarkNotificationRead(ctx, mark.NotificationID, sess.UserID(), sess.FamilyID()); err != nil {
		return dependencyError(err)
	}
	r.reply(sess, types.EventNotificationMarkedRead, types.NotificationMarkedRead{NotificationID: mark.NotificationID})
	return nil
}

func (r *Router) analyticsSubscribe(_ context.Context, sess *session.Context, _ types.Request) error {
	return r.deps.Analytics.Subscribe(sess)
}

// progressUpdate stores the progress of one of the caller's students and
// fans it out to the family.
func (r *Router) progressUpdate(ctx context.Context, sess *session.Context, req types.Request) error {
	update := req.(*types.ProgressUpdateRequest)

	student, err := r.deps.Store.ResolveStudent(ctx, update.StudentID, sess.FamilyID())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("%w: student does not belong to your family", interfaces.ErrUnauthorized)
		}
		return dependencyError(err)
	}

	record, err := r.deps.Store.UpsertProgress(ctx, &types.ProgressUpdate{
		StudentID: update.StudentID,
		LessonID:  update.LessonID,
		Progress:  update.Progress,
		Score:     update.Score,
		At:        r.deps.Clock.Now(),
	})
	if err != nil {
		return dependencyError(err)
	}

	r.deps.Hub.PublishProgress(student.FamilyID, record, student)
	return nil
}

// dependencyError keeps taxonomy errors as they are and marks everything
// else as a dependency failure.
func dependencyError(err error) error {
	for _, known := range []error{
		interfaces.ErrNotFound,
		interfaces.ErrUnauthorized,
		interfaces.ErrInvalidPayload,
		interfaces.ErrDependency,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", interfaces.ErrDependency, err)
}
