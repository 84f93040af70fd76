// Package database is the SQLite-backed PersistenceStore.
//
// Reads go straight to the connection pool. Writes are funnelled through one
// writer goroutine so SQLite never sees competing writers; a failed write is
// retried once after Config.RetryDelay.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"studyhall/internal/schedule"
	dbconfig "studyhall/pkg/database"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// Store implements interfaces.PersistenceStore on SQLite.
type Store struct {
	db     *sql.DB
	config *dbconfig.Config
	clock  schedule.Clock
	logger *zap.Logger

	writeChannel chan writeOperation // single-writer queue
	shutdown     chan struct{}
	stopped      chan struct{}

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens the database, applies pragmas and pending migrations, and
// starts the writer goroutine.
func NewStore(config *dbconfig.Config, clock schedule.Clock, logger *zap.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if clock == nil {
		clock = schedule.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbconfig.DSN(config.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	applied, err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("database migrations applied",
			zap.String("path", config.DatabasePath),
			zap.Strings("versions", applied))
	}

	s := &Store{
		db:           db,
		config:       config,
		clock:        clock,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	go s.writeLoop()

	return s, nil
}

func (s *Store) writeLoop() {
	defer close(s.stopped)

	for {
		select {
		case op := <-s.writeChannel:
			op.result <- s.runWrite(op.operation)
		case <-s.shutdown:
			s.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// runWrite executes op and retries it exactly once after RetryDelay when the
// database reported itself busy or locked.
func (s *Store) runWrite(op func(*sql.DB) error) error {
	err := op(s.db)
	if err == nil || !retryable(err) {
		return err
	}

	s.logger.Warn("database write failed, retrying",
		zap.Duration("delay", s.config.RetryDelay),
		zap.Error(err))

	select {
	case <-time.After(s.config.RetryDelay):
	case <-s.shutdown:
		return err
	}

	if err = op(s.db); err != nil {
		s.logger.Error("database write failed after retry", zap.Error(err))
	}
	return err
}

func retryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, sql.ErrConnDone)
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(s.config.WriteTimeout)
	defer timer.Stop()

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.stopped:
		// Queued behind shutdown and never executed.
		select {
		case err := <-result:
			return err
		default:
			return ErrStoreClosed
		}
	}
}

// ResolveStudent returns the student only when it belongs to familyID.
func (s *Store) ResolveStudent(ctx context.Context, studentID, familyID string) (*types.Student, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, first_name, last_name, education_level
		FROM students
		WHERE id = ? AND family_id = ?
	`, studentID, familyID)

	var st types.Student
	err := row.Scan(&st.ID, &st.FamilyID, &st.FirstName, &st.LastName, &st.EducationLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", studentID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, dependency("resolve student", err)
	}
	return &st, nil
}

// CreateStudent registers a student so the realtime core can resolve it.
func (s *Store) CreateStudent(ctx context.Context, student *types.Student) error {
	if student.ID == "" || student.FamilyID == "" || student.FirstName == "" {
		return fmt.Errorf("%w: student id, family id and first name are required", ErrInvalidRecord)
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO students (id, family_id, first_name, last_name, education_level, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, student.ID, student.FamilyID, student.FirstName, student.LastName, student.EducationLevel, s.clock.Now().UTC())
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrStudentExists, student.ID)
		}
		if err != nil {
			return dependency("insert student", err)
		}
		return nil
	})
}

// SaveChatExchange durably records one mentor question and its reply.
func (s *Store) SaveChatExchange(ctx context.Context, exchange *types.ChatExchange) error {
	createdAt := exchange.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (student_id, session_id, user_message, ai_response, subject, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, exchange.StudentID, exchange.SessionID, exchange.UserMessage, exchange.Reply, exchange.Subject, createdAt.UTC())
		if err != nil {
			return dependency("insert chat exchange", err)
		}
		return nil
	})
}

// ChatHistory returns the exchanges of a mentor session, oldest first.
func (s *Store) ChatHistory(ctx context.Context, sessionID string) ([]types.ChatExchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, session_id, user_message, ai_response, subject, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, dependency("query chat history", err)
	}
	defer func() { _ = rows.Close() }()

	var history []types.ChatExchange
	for rows.Next() {
		var ex types.ChatExchange
		if err := rows.Scan(&ex.StudentID, &ex.SessionID, &ex.UserMessage, &ex.Reply, &ex.Subject, &ex.CreatedAt); err != nil {
			return nil, dependency("scan chat exchange", err)
		}
		history = append(history, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("iterate chat history", err)
	}
	return history, nil
}

// UpsertProgress creates or updates the progress row for a lesson. Reaching
// 100 marks the lesson completed; the first completion time is kept.
func (s *Store) UpsertProgress(ctx context.Context, update *types.ProgressUpdate) (*types.ProgressRecord, error) {
	if update.StudentID == "" || update.LessonID == "" {
		return nil, fmt.Errorf("%w: student id and lesson id are required", ErrInvalidRecord)
	}
	if update.Progress < 0 || update.Progress > 100 {
		return nil, fmt.Errorf("%w: progress %.1f outside 0..100", ErrInvalidRecord, update.Progress)
	}

	at := update.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()

	status := types.ProgressInProgress
	var completedAt *time.Time
	if update.Progress >= 100 {
		status = types.ProgressCompleted
		completedAt = &at
	}

	var record *types.ProgressRecord
	err := s.executeWrite(ctx, func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: Transaction keeps the upsert and its read-back atomic
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return dependency("begin progress transaction", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO progress (student_id, lesson_id, progress, score, status, started_at, last_activity_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (student_id, lesson_id) DO UPDATE SET
				progress = excluded.progress,
				score = excluded.score,
				status = excluded.status,
				last_activity_at = excluded.last_activity_at,
				completed_at = CASE
					WHEN excluded.status = 'COMPLETED' THEN COALESCE(progress.completed_at, excluded.completed_at)
					ELSE NULL
				END
		`, update.StudentID, update.LessonID, update.Progress, update.Score, status, at, at, completedAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("student %s: %w", update.StudentID, interfaces.ErrNotFound)
			}
			return dependency("upsert progress", err)
		}

		rec, err := scanProgress(tx.QueryRowContext(ctx, progressQuery, update.StudentID, update.LessonID))
		if err != nil {
			return dependency("read back progress", err)
		}

		if err := tx.Commit(); err != nil {
			return dependency("commit progress", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

const progressQuery = `
	SELECT student_id, lesson_id, progress, score, status, started_at, last_activity_at, completed_at
	FROM progress
	WHERE student_id = ? AND lesson_id = ?
`

// GetProgress returns the stored progress for a lesson.
func (s *Store) GetProgress(ctx context.Context, studentID, lessonID string) (*types.ProgressRecord, error) {
	rec, err := scanProgress(s.db.QueryRowContext(ctx, progressQuery, studentID, lessonID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("progress %s/%s: %w", studentID, lessonID, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, dependency("query progress", err)
	}
	return rec, nil
}

func scanProgress(row *sql.Row) (*types.ProgressRecord, error) {
	var (
		rec         types.ProgressRecord
		completedAt sql.NullTime
	)
	err := row.Scan(&rec.StudentID, &rec.LessonID, &rec.Progress, &rec.Score, &rec.Status,
		&rec.StartedAt, &rec.LastActivityAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}

// CreateNotification stores a notification for userID. A missing ID or
// creation time is filled in.
func (s *Store) CreateNotification(ctx context.Context, userID string, n *types.Notification) error {
	if userID == "" || n.ID == "" || n.Title == "" {
		return fmt.Errorf("%w: user id, notification id and title are required", ErrInvalidRecord)
	}
	return s.insertNotification(ctx, userID, "", n)
}

// CreateFamilyNotification stores a notification addressed to every member
// of familyID. Any member may mark it read.
func (s *Store) CreateFamilyNotification(ctx context.Context, familyID string, n *types.Notification) error {
	if familyID == "" || n.ID == "" || n.Title == "" {
		return fmt.Errorf("%w: family id, notification id and title are required", ErrInvalidRecord)
	}
	return s.insertNotification(ctx, "", familyID, n)
}

func (s *Store) insertNotification(ctx context.Context, userID, familyID string, n *types.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock.Now()
	}

	data := []byte("{}")
	if len(n.Data) > 0 {
		var err error
		if data, err = json.Marshal(n.Data); err != nil {
			return fmt.Errorf("%w: notification data: %v", ErrInvalidRecord, err)
		}
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, family_id, kind, title, body, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, n.ID, userID, familyID, n.Kind, n.Title, n.Body, string(data), n.CreatedAt.UTC())
		if err != nil {
			return dependency("insert notification", err)
		}
		return nil
	})
}

// UnreadNotifications lists the unread notifications of userID, newest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID string) ([]types.Notification, error) {
	return s.unread(ctx, "user_id", userID)
}

// UnreadFamilyNotifications lists the unread notifications of familyID,
// newest first.
func (s *Store) UnreadFamilyNotifications(ctx context.Context, familyID string) ([]types.Notification, error) {
	return s.unread(ctx, "family_id", familyID)
}

// unread lists unread rows whose owner column equals owner. column is one
// of user_id or family_id.
func (s *Store) unread(ctx context.Context, column, owner string) ([]types.Notification, error) {
	if owner == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, body, data, created_at
		FROM notifications
		WHERE `+column+` = ? AND read = 0
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, dependency("query notifications", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Notification
	for rows.Next() {
		var (
			n    types.Notification
			data string
		)
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, &data, &n.CreatedAt); err != nil {
			return nil, dependency("scan notification", err)
		}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
				return nil, dependency("decode notification data", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("iterate notifications", err)
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read. The caller must own it
// either as userID or as a member of familyID. Marking an already read
// notification again succeeds.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID, familyID string) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE notifications
			SET read = 1, read_at = COALESCE(read_at, ?)
			WHERE id = ?
			  AND ((user_id <> '' AND user_id = ?) OR (family_id <> '' AND family_id = ?))
		`, s.clock.Now().UTC(), notificationID, userID, familyID)
		if err != nil {
			return dependency("mark notification read", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return dependency("mark notification read", err)
		}
		if n == 0 {
			return fmt.Errorf("notification %s: %w", notificationID, interfaces.ErrNotFound)
		}
		return nil
	})
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	if err := s.db.PingContext(ctx); err != nil {
		return dependency("database ping", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students").Scan(&n); err != nil {
		return dependency("database read", err)
	}
	return nil
}

// DB returns the underlying handle for schema inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	<-s.stopped

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

var _ interfaces.PersistenceStore = (*Store)(nil)
