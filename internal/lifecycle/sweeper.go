// Package lifecycle evicts abandoned state on a fixed period.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"studyhall/internal/schedule"
)

// TaskName is the scheduler name of the sweep.
const TaskName = "lifecycle-sweep"

// Defaults for the sweep period and the inactivity threshold.
const (
	DefaultInterval  = 10 * time.Minute
	DefaultThreshold = 30 * time.Minute
)

// SessionStore is the registry side of a sweep.
type SessionStore interface {
	UserIDs() []string
	EvictIfIdle(userID string, cutoff time.Time) bool
}

// MentorStore is the mentor side of a sweep. Mentor sessions age from
// their start time.
type MentorStore interface {
	SessionIDs() []string
	EvictIfIdle(sessionID string, cutoff time.Time) bool
}

// Pruner drops idle per-key state such as rate limiter buckets.
type Pruner interface {
	Prune(cutoff time.Time) int
}

// Result summarizes one sweep.
type Result struct {
	SessionsEvicted int
	MentorsEvicted  int
	LimitersPruned  int
}

// Sweeper removes registry entries and mentor sessions older than the
// threshold. It does not touch battle rooms: a stale connection keeps its
// participant until it disconnects.
type Sweeper struct {
	sessions  SessionStore
	mentors   MentorStore
	pruner    Pruner
	threshold time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a sweeper. pruner may be nil.
func NewSweeper(sessions SessionStore, mentors MentorStore, pruner Pruner, threshold time.Duration, logger *zap.Logger) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sessions:  sessions,
		mentors:   mentors,
		pruner:    pruner,
		threshold: threshold,
		logger:    logger,
	}
}

// Sweep runs one pass. Keys are snapshotted first and each entry is checked
// and removed under its owner's lock, so event handling is never blocked for
// the whole pass.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) Result {
	cutoff := now.Add(-s.threshold)
	var res Result

	for _, userID := range s.sessions.UserIDs() {
		if ctx.Err() != nil {
			return res
		}
		if s.sessions.EvictIfIdle(userID, cutoff) {
			res.SessionsEvicted++
			s.logger.Info("evicted idle session", zap.String("user_id", userID))
		}
	}

	for _, sessionID := range s.mentors.SessionIDs() {
		if ctx.Err() != nil {
			return res
		}
		if s.mentors.EvictIfIdle(sessionID, cutoff) {
			res.MentorsEvicted++
			s.logger.Info("evicted stale mentor session", zap.String("session_id", sessionID))
		}
	}

	if s.pruner != nil {
		res.LimitersPruned = s.pruner.Prune(cutoff)
	}

	if res.SessionsEvicted+res.MentorsEvicted > 0 {
		s.logger.Info("lifecycle sweep complete",
			zap.Int("sessions_evicted", res.SessionsEvicted),
			zap.Int("mentor_sessions_evicted", res.MentorsEvicted),
			zap.Int("rate_limiters_pruned", res.LimitersPruned))
	}
	return res
}

// Task wraps Sweep for the scheduler.
func (s *Sweeper) Task(interval time.Duration) schedule.Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return schedule.Task{
		Name:     TaskName,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) {
			s.Sweep(ctx, now)
		},
	}
}
