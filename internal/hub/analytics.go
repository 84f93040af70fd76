package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/pkg/types"
)

// AnalyticsTaskName is the scheduler name of the live-metrics tick.
const AnalyticsTaskName = "analytics"

// Gauges supplies the live counts reported in analytics snapshots.
// A nil gauge reads as zero.
type Gauges struct {
	Sessions       func() int
	Rooms          func() int
	MentorSessions func() int
}

// Analytics publishes periodic snapshots to the analytics_live channel.
type Analytics struct {
	hub    *Hub
	gauges Gauges
	clock  schedule.Clock
	logger *zap.Logger
}

// NewAnalytics creates the analytics publisher on top of h.
func NewAnalytics(h *Hub, gauges Gauges, clock schedule.Clock, logger *zap.Logger) *Analytics {
	if clock == nil {
		clock = schedule.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analytics{hub: h, gauges: gauges, clock: clock, logger: logger}
}

// Snapshot reads the current gauges.
func (a *Analytics) Snapshot(now time.Time) types.AnalyticsSnapshot {
	return types.AnalyticsSnapshot{
		ConnectedSessionCount:    read(a.gauges.Sessions),
		ActiveRoomCount:          read(a.gauges.Rooms),
		ActiveMentorSessionCount: read(a.gauges.MentorSessions),
		Timestamp:                now.UTC(),
	}
}

func read(gauge func() int) int {
	if gauge == nil {
		return 0
	}
	return gauge()
}

// Subscribe adds a privileged connection to the analytics channel and sends
// it the current snapshot. Other roles get ErrAnalyticsForbidden and nothing
// changes.
func (a *Analytics) Subscribe(sess *session.Context) error {
	if !sess.Principal().IsPrivileged() {
		a.logger.Warn("analytics subscription denied",
			zap.String("user_id", sess.UserID()),
			zap.String("role", sess.Role()))
		return ErrAnalyticsForbidden
	}

	if err := a.hub.Subscribe(sess.ConnectionID(), AnalyticsChannel); err != nil {
		return err
	}

	snapshot := a.Snapshot(a.clock.Now())
	return a.hub.SendTo(sess.ConnectionID(), types.NewEvent(a.clock.Now(), types.EventAnalyticsSubscribed, snapshot))
}

// Unsubscribe removes the connection from the analytics channel.
func (a *Analytics) Unsubscribe(connectionID string) {
	a.hub.Unsubscribe(connectionID, AnalyticsChannel)
}

// SubscriberCount returns the number of analytics subscribers.
func (a *Analytics) SubscriberCount() int {
	return a.hub.SubscriberCount(AnalyticsChannel)
}

// Tick publishes one snapshot when at least one connection is subscribed.
// It returns the number of connections the update was queued for.
func (a *Analytics) Tick(_ context.Context, now time.Time) int {
	if a.SubscriberCount() == 0 {
		return 0
	}
	return a.hub.Publish(AnalyticsChannel, types.NewEvent(now, types.EventAnalyticsUpdate, a.Snapshot(now)), "")
}

// Task wraps Tick for the scheduler.
func (a *Analytics) Task(interval time.Duration) schedule.Task {
	return schedule.Task{
		Name:     AnalyticsTaskName,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) {
			a.Tick(ctx, now)
		},
	}
}
