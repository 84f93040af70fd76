package battle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"studyhall/internal/hub"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/internal/testutil"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

type fixture struct {
	hub   *hub.Hub
	store *testutil.FakeStore
	coord *Coordinator
	clock *schedule.FakeClock
}

func newFixture(t *testing.T, students ...types.Student) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := schedule.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	h := hub.NewHub(clock, logger)
	store := testutil.NewFakeStore(students...)
	return &fixture{
		hub:   h,
		store: store,
		coord: NewCoordinator(store, h, clock, logger),
		clock: clock,
	}
}

func (f *fixture) connect(t *testing.T, connID, userID, familyID string) (*session.Context, *testutil.RecordingConnection) {
	t.Helper()
	conn := testutil.NewRecordingConnection(connID)
	require.NoError(t, f.hub.Attach(conn))
	principal := types.Principal{UserID: userID, FamilyID: familyID, Role: types.RoleParent}
	return session.NewContext(connID, principal, f.clock.Now()), conn
}

func answer(battleID string, correct bool, ms int64) *types.BattleAnswerRequest {
	return &types.BattleAnswerRequest{
		BattleID:    battleID,
		QuestionID:  "q1",
		Answer:      types.AnswerPayload{Correct: correct},
		TimeSpentMs: ms,
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		correct bool
		ms      int64
		want    int
	}{
		{true, 0, 150},
		{true, 999, 150},
		{true, 1000, 149},
		{true, 1200, 149},
		{true, 49_999, 101},
		{true, 50_000, 100},
		{true, 3_600_000, 100},
		{false, 0, 0},
		{false, 500, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v/%d", tc.correct, tc.ms), func(t *testing.T) {
			assert.Equal(t, tc.want, Score(tc.correct, tc.ms))
		})
	}
}

func TestCoordinator_ScenarioJoinAnswerLeave(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	sess, conn := f.connect(t, "c1", "u1", "f1")
	ctx := context.Background()

	// join an empty battle
	joined, err := f.coord.Join(ctx, sess, "B1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.coord.RoomCount())
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, types.ParticipantView{ID: "s1", FirstName: "Alice", LastName: "A", Score: 0}, joined.Participants[0])
	assert.Equal(t, "B1", joined.BattleID)
	assert.Empty(t, conn.EventsOfType(types.EventBattleParticipantJoin), "joiner must not see its own join broadcast")

	// correct answer after 1.2s
	update, err := f.coord.SubmitAnswer(sess, answer("B1", true, 1200))
	require.NoError(t, err)
	assert.Equal(t, 149, update.Score)
	assert.Equal(t, types.LastAnswer{Correct: true, Score: 149}, update.LastAnswer)

	// wrong answer
	update, err = f.coord.SubmitAnswer(sess, answer("B1", false, 500))
	require.NoError(t, err)
	assert.Equal(t, 149, update.Score)
	assert.Equal(t, 0, update.LastAnswer.Score)

	updates := conn.EventsOfType(types.EventBattleScoreUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, 149, updates[0].Data.(types.ScoreUpdate).Score)

	assert.Len(t, f.coord.Answers("B1", "s1"), 2)

	// leave removes the room
	assert.True(t, f.coord.Leave(sess))
	assert.Equal(t, 0, f.coord.RoomCount())
	_, ok := f.coord.Snapshot("B1")
	assert.False(t, ok)
	bound, _ := sess.Battle()
	assert.Empty(t, bound)
	assert.False(t, f.hub.IsSubscribed("c1", hub.BattleChannel("B1")))
}

func TestCoordinator_JoinBroadcastsToOthers(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent, testutil.BobStudent)
	alice, aliceConn := f.connect(t, "c1", "u1", "f1")
	bob, bobConn := f.connect(t, "c2", "u2", "f2")
	ctx := context.Background()

	_, err := f.coord.Join(ctx, alice, "B1", "s1")
	require.NoError(t, err)
	joined, err := f.coord.Join(ctx, bob, "B1", "s2")
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)

	joins := aliceConn.EventsOfType(types.EventBattleParticipantJoin)
	require.Len(t, joins, 1)
	payload := joins[0].Data.(types.ParticipantJoined)
	assert.Equal(t, "s2", payload.Student.ID)
	assert.Equal(t, 2, payload.ParticipantCount)
	assert.Empty(t, bobConn.EventsOfType(types.EventBattleParticipantJoin))

	// score updates reach the whole room
	_, err = f.coord.SubmitAnswer(bob, answer("B1", true, 0))
	require.NoError(t, err)
	assert.Len(t, aliceConn.EventsOfType(types.EventBattleScoreUpdate), 1)
	assert.Len(t, bobConn.EventsOfType(types.EventBattleScoreUpdate), 1)

	// leave notifies the rest
	f.coord.Leave(bob)
	left := aliceConn.EventsOfType(types.EventBattleParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, types.ParticipantLeft{StudentID: "s2", ParticipantCount: 1}, left[0].Data)
	assert.Empty(t, bobConn.EventsOfType(types.EventBattleParticipantLeft))
	assert.Equal(t, 1, f.coord.RoomCount())
}

func TestCoordinator_JoinRejectsForeignStudent(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent, testutil.BobStudent)
	alice, _ := f.connect(t, "c1", "u1", "f1")
	bob, bobConn := f.connect(t, "c2", "u2", "f2")

	_, err := f.coord.Join(context.Background(), bob, "B1", "s2")
	require.NoError(t, err)
	bobConn.Reset()

	_, err = f.coord.Join(context.Background(), alice, "B1", "s2")
	assert.ErrorIs(t, err, ErrStudentNotOwned)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	snap, ok := f.coord.Snapshot("B1")
	require.True(t, ok)
	assert.Len(t, snap.Participants, 1)
	assert.Empty(t, bobConn.Events(), "failed join must not broadcast")
}

func TestCoordinator_JoinStoreFailure(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	f.store.ResolveErr = errors.New("db down")
	sess, _ := f.connect(t, "c1", "u1", "f1")

	_, err := f.coord.Join(context.Background(), sess, "B1", "s1")
	assert.ErrorIs(t, err, interfaces.ErrDependency)
	assert.Equal(t, 0, f.coord.RoomCount())
}

func TestCoordinator_RejoinResetsScore(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	sess, _ := f.connect(t, "c1", "u1", "f1")
	ctx := context.Background()

	_, err := f.coord.Join(ctx, sess, "B1", "s1")
	require.NoError(t, err)
	_, err = f.coord.SubmitAnswer(sess, answer("B1", true, 0))
	require.NoError(t, err)

	joined, err := f.coord.Join(ctx, sess, "B1", "s1")
	require.NoError(t, err)
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, 0, joined.Participants[0].Score)
}

func TestCoordinator_JoinOtherBattleLeavesFirst(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	sess, _ := f.connect(t, "c1", "u1", "f1")
	ctx := context.Background()

	_, err := f.coord.Join(ctx, sess, "B1", "s1")
	require.NoError(t, err)
	_, err = f.coord.Join(ctx, sess, "B2", "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.coord.RoomCount())
	_, ok := f.coord.Snapshot("B1")
	assert.False(t, ok)
	bound, _ := sess.Battle()
	assert.Equal(t, "B2", bound)
}

func TestCoordinator_AnswerPreconditions(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	sess, _ := f.connect(t, "c1", "u1", "f1")

	_, err := f.coord.SubmitAnswer(sess, answer("B1", true, 0))
	assert.ErrorIs(t, err, ErrNotInBattle)

	_, err = f.coord.Join(context.Background(), sess, "B1", "s1")
	require.NoError(t, err)

	_, err = f.coord.SubmitAnswer(sess, answer("B2", true, 0))
	assert.ErrorIs(t, err, ErrNotInBattle)

	_, err = f.coord.SubmitAnswer(sess, answer("B1", true, -1))
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)

	assert.Empty(t, f.coord.Answers("B1", "s1"))
}

func TestCoordinator_SupersededConnectionCannotAnswerOrLeave(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	oldSess, _ := f.connect(t, "c1", "u1", "f1")
	newSess, _ := f.connect(t, "c2", "u1", "f1")
	ctx := context.Background()

	_, err := f.coord.Join(ctx, oldSess, "B1", "s1")
	require.NoError(t, err)
	_, err = f.coord.Join(ctx, newSess, "B1", "s1")
	require.NoError(t, err)

	_, err = f.coord.SubmitAnswer(oldSess, answer("B1", true, 0))
	assert.ErrorIs(t, err, ErrNotParticipant)

	f.coord.Leave(oldSess)
	snap, ok := f.coord.Snapshot("B1")
	require.True(t, ok, "stale leave must not remove the replacement")
	assert.Len(t, snap.Participants, 1)
}

func TestCoordinator_LeaveIsNoOpWhenUnbound(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.connect(t, "c1", "u1", "f1")

	assert.False(t, f.coord.Leave(sess))
	assert.False(t, f.coord.Leave(sess))
	assert.Equal(t, 0, f.coord.RoomCount())
}

func TestCoordinator_ClosedSessionCannotJoin(t *testing.T) {
	f := newFixture(t, testutil.AliceStudent)
	sess, _ := f.connect(t, "c1", "u1", "f1")
	sess.Close()

	_, err := f.coord.Join(context.Background(), sess, "B1", "s1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 0, f.coord.RoomCount())
}

func TestCoordinator_JoinLeaveCountProperty(t *testing.T) {
	students := make([]types.Student, 20)
	for i := range students {
		students[i] = types.Student{ID: fmt.Sprintf("s%d", i), FamilyID: "f1", FirstName: "S"}
	}
	f := newFixture(t, students...)

	sessions := make([]*session.Context, len(students))
	for i := range students {
		sessions[i], _ = f.connect(t, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "f1")
	}

	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.Join(context.Background(), sessions[i], "B1", students[i].ID)
			assert.NoError(t, err)
			_, err = f.coord.SubmitAnswer(sessions[i], answer("B1", i%2 == 0, int64(i)*1000))
			assert.NoError(t, err)
			if i%3 == 0 {
				f.coord.Leave(sessions[i])
			}
		}(i)
	}
	wg.Wait()

	leaves := 0
	for i := range sessions {
		if i%3 == 0 {
			leaves++
		}
	}
	snap, ok := f.coord.Snapshot("B1")
	require.True(t, ok)
	assert.Len(t, snap.Participants, len(sessions)-leaves)

	for i := range sessions {
		if i%3 != 0 {
			f.coord.Leave(sessions[i])
		}
	}
	assert.Equal(t, 0, f.coord.RoomCount())
}
