package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidInterval   = errors.New("task interval must be positive")
	ErrDuplicateTask     = errors.New("task already registered")
	ErrAlreadyRunning    = errors.New("scheduler is already running")
	ErrInvalidTaskName   = errors.New("task name cannot be empty")
	ErrInvalidResolution = errors.New("scheduler resolution must be positive")
)

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time)
}

type entry struct {
	task    Task
	nextRun time.Time
	runs    int
}

// Scheduler fires registered tasks once their interval has elapsed.
// Tasks run sequentially in registration order within one RunDue call.
type Scheduler struct {
	clock      Clock
	resolution time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	entries []*entry
	running bool
}

// NewScheduler creates a scheduler that polls its clock every resolution.
func NewScheduler(clock Clock, resolution time.Duration, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:      clock,
		resolution: resolution,
		logger:     logger,
	}
}

// Add registers a task. Its first run is one interval after registration.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" {
		return ErrInvalidTaskName
	}
	if task.Interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.task.Name == task.Name {
			return ErrDuplicateTask
		}
	}
	s.entries = append(s.entries, &entry{
		task:    task,
		nextRun: s.clock.Now().Add(task.Interval),
	})
	return nil
}

// RunDue runs every task whose deadline is at or before now and returns the
// number of task executions. A task that fell several intervals behind runs
// once and is rescheduled relative to now.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !now.Before(e.nextRun) {
			due = append(due, e)
			e.nextRun = now.Add(e.task.Interval)
			e.runs++
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runTask(ctx, e.task, now)
	}
	return len(due)
}

func (s *Scheduler) runTask(ctx context.Context, task Task, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()
	task.Run(ctx, now)
}

// Runs returns how many times the named task has fired.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.task.Name == name {
			return e.runs
		}
	}
	return 0
}

// Run polls the clock until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.resolution <= 0 {
		return ErrInvalidResolution
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.task.Name)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler started",
		zap.Duration("resolution", s.resolution),
		zap.Strings("tasks", names))

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunDue(ctx, s.clock.Now())
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}
