package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"studyhall/internal/schedule"
	dbconfig "studyhall/pkg/database"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *schedule.FakeClock) {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "studyhall.db")
	cfg.RetryDelay = 10 * time.Millisecond

	clock := schedule.NewFakeClock(epoch)
	store, err := NewStore(cfg, clock, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func seedStudent(t *testing.T, store *Store, id, familyID string) {
	t.Helper()
	require.NoError(t, store.CreateStudent(context.Background(), &types.Student{
		ID: id, FamilyID: familyID, FirstName: "Student " + id, EducationLevel: "ELEMENTARY",
	}))
}

func TestStore_MigratesOnOpen(t *testing.T) {
	store, _ := newTestStore(t)

	validator := dbconfig.NewSchemaValidator(store.DB())
	require.NoError(t, validator.ValidateTablesExist())
	require.NoError(t, validator.ValidateIndexes())
	require.NoError(t, validator.ValidateTableStructure())
}

func TestStore_ReopenKeepsData(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "studyhall.db")

	first, err := NewStore(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	seedStudent(t, first, "s1", "f1")
	require.NoError(t, first.Close())

	second, err := NewStore(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()

	st, err := second.ResolveStudent(context.Background(), "s1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Student s1", st.FirstName)
}

func TestStore_InvalidConfig(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = ""

	_, err := NewStore(cfg, nil, nil)
	require.Error(t, err)
}

func TestStore_ResolveStudent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedStudent(t, store, "s1", "f1")

	st, err := store.ResolveStudent(ctx, "s1", "f1")
	require.NoError(t, err)
	assert.Equal(t, types.Student{ID: "s1", FamilyID: "f1", FirstName: "Student s1", EducationLevel: "ELEMENTARY"}, *st)

	_, err = store.ResolveStudent(ctx, "s1", "f2")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "foreign family must look like a missing student")

	_, err = store.ResolveStudent(ctx, "ghost", "f1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStore_CreateStudent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seedStudent(t, store, "s1", "f1")

	err := store.CreateStudent(ctx, &types.Student{ID: "s1", FamilyID: "f1", FirstName: "Again"})
	assert.ErrorIs(t, err, ErrStudentExists)

	err = store.CreateStudent(ctx, &types.Student{ID: "s2"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)
}

func TestStore_ChatExchanges(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	seedStudent(t, store, "s1", "f1")

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveChatExchange(ctx, &types.ChatExchange{
			StudentID:   "s1",
			SessionID:   "mentor_s1_abc",
			UserMessage: fmt.Sprintf("question %d", i),
			Reply:       fmt.Sprintf("answer %d", i),
			Subject:     "math",
			CreatedAt:   clock.Advance(time.Second),
		}))
	}
	require.NoError(t, store.SaveChatExchange(ctx, &types.ChatExchange{
		StudentID: "s1", SessionID: "other", UserMessage: "x", Reply: "y",
	}))

	history, err := store.ChatHistory(ctx, "mentor_s1_abc")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, ex := range history {
		assert.Equal(t, fmt.Sprintf("question %d", i), ex.UserMessage)
		assert.Equal(t, fmt.Sprintf("answer %d", i), ex.Reply)
		assert.True(t, ex.CreatedAt.Equal(epoch.Add(time.Duration(i+1)*time.Second)))
	}
}

func TestStore_UpsertProgress(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedStudent(t, store, "s1", "f1")

	first, err := store.UpsertProgress(ctx, &types.ProgressUpdate{
		StudentID: "s1", LessonID: "l1", Progress: 40, Score: 10, At: epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ProgressInProgress, first.Status)
	assert.Nil(t, first.CompletedAt)
	assert.True(t, first.StartedAt.Equal(epoch))

	later := epoch.Add(time.Hour)
	done, err := store.UpsertProgress(ctx, &types.ProgressUpdate{
		StudentID: "s1", LessonID: "l1", Progress: 100, Score: 95, At: later,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ProgressCompleted, done.Status)
	assert.Equal(t, 95.0, done.Score)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(later))
	assert.True(t, done.StartedAt.Equal(epoch), "start time survives updates")
	assert.True(t, done.LastActivityAt.Equal(later))

	// Re-completing keeps the first completion time.
	again, err := store.UpsertProgress(ctx, &types.ProgressUpdate{
		StudentID: "s1", LessonID: "l1", Progress: 100, Score: 99, At: later.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, again.CompletedAt.Equal(later))

	stored, err := store.GetProgress(ctx, "s1", "l1")
	require.NoError(t, err)
	assert.Equal(t, 99.0, stored.Score)
}

func TestStore_UpsertProgressRejects(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedStudent(t, store, "s1", "f1")

	_, err := store.UpsertProgress(ctx, &types.ProgressUpdate{StudentID: "s1", LessonID: "l1", Progress: 101})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)

	_, err = store.UpsertProgress(ctx, &types.ProgressUpdate{StudentID: "s1", Progress: 5})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)

	_, err = store.UpsertProgress(ctx, &types.ProgressUpdate{StudentID: "ghost", LessonID: "l1", Progress: 5})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.GetProgress(ctx, "s1", "l1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "rejected updates leave no row")
}

func TestStore_Notifications(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateNotification(ctx, "u1", &types.Notification{
		ID: "n1", Kind: "reminder", Title: "Practice time", Data: map[string]any{"lesson": "l1"},
	}))
	require.NoError(t, store.CreateNotification(ctx, "u2", &types.Notification{
		ID: "n2", Kind: "reminder", Title: "Not yours",
	}))

	unread, err := store.UnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n1", unread[0].ID)
	assert.Equal(t, "l1", unread[0].Data["lesson"])
	assert.True(t, unread[0].CreatedAt.Equal(epoch))

	err = store.MarkNotificationRead(ctx, "n2", "u1", "f1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "foreign notification")

	err = store.MarkNotificationRead(ctx, "missing", "u1", "f1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.MarkNotificationRead(ctx, "n1", "u1", "f1"))
	require.NoError(t, store.MarkNotificationRead(ctx, "n1", "u1", "f1"), "marking twice succeeds")

	unread, err = store.UnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, unread)

	err = store.CreateNotification(ctx, "u1", &types.Notification{ID: "n3"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)
}

func TestStore_FamilyNotifications(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFamilyNotification(ctx, "f1", &types.Notification{
		ID: "fn1", Kind: "announcement", Title: "Term starts Monday",
	}))

	unread, err := store.UnreadFamilyNotifications(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "fn1", unread[0].ID)

	mine, err := store.UnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mine, "family rows are not listed as user rows")

	err = store.MarkNotificationRead(ctx, "fn1", "u2", "f2")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "other family")
	err = store.MarkNotificationRead(ctx, "fn1", "", "")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "empty owner matches nothing")

	require.NoError(t, store.MarkNotificationRead(ctx, "fn1", "u1", "f1"))
	unread, err = store.UnreadFamilyNotifications(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, unread)

	err = store.CreateFamilyNotification(ctx, "", &types.Notification{ID: "fn2", Title: "x"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)
}

func TestStore_ConcurrentWrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedStudent(t, store, "s1", "f1")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertProgress(ctx, &types.ProgressUpdate{
				StudentID: "s1", LessonID: fmt.Sprintf("l%d", i), Progress: float64(i), At: epoch,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	var rows int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM progress").Scan(&rows))
	assert.Equal(t, writers, rows)
}

func TestStore_RunWriteRetriesBusyOnce(t *testing.T) {
	store, _ := newTestStore(t)

	calls := 0
	err := store.runWrite(func(*sql.DB) error {
		calls++
		if calls == 1 {
			return dependency("write", sqlite3.Error{Code: sqlite3.ErrBusy})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = store.runWrite(func(*sql.DB) error {
		calls++
		return dependency("write", sqlite3.Error{Code: sqlite3.ErrLocked})
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "retried exactly once")

	calls = 0
	err = store.runWrite(func(*sql.DB) error {
		calls++
		return errors.New("constraint")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "other failures are not retried")
}

func TestStore_HealthCheckAndClose(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "second close is a no-op")

	assert.ErrorIs(t, store.HealthCheck(ctx), interfaces.ErrDependency)
	err := store.SaveChatExchange(ctx, &types.ChatExchange{StudentID: "s1", SessionID: "x"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, err, interfaces.ErrDependency)
}

func TestStore_WriteHonorsContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.CreateStudent(ctx, &types.Student{ID: "s9", FamilyID: "f9", FirstName: "Late"})
	require.Error(t, err)

	_, err = store.ResolveStudent(context.Background(), "s9", "f9")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
