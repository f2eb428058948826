package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/store/sqlstore"
)

var created = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedGoal(t *testing.T, st *sqlstore.Store) goal.Goal {
	t.Helper()
	ctx := context.Background()
	start := calendar.NewDay(2025, time.March, 12)
	g := goal.Goal{
		ID: "g1", OwnerID: "alice", Title: "Walk", Kind: goal.Recurring{Cadence: goal.CadenceWeekly},
		Sharing: goal.SharingGroup, Status: goal.StatusPending, StartDate: &start,
		CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, st.CreateGoal(ctx, g))
	require.NoError(t, st.CreateActivity(ctx, goal.Activity{ID: "a1", GoalID: g.ID, Title: "walk", AssignedToAll: true, CreatedAt: created}))
	return g
}

func TestGoal_RoundTrip(t *testing.T) {
	// GIVEN: A stored weekly group goal
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)

	// WHEN: Reading it back
	got, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)

	// THEN: Kind, dates and timestamps survive
	assert.Equal(t, goal.Recurring{Cadence: goal.CadenceWeekly}, got.Kind)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(*g.StartDate))
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.CompletedAt)

	// AND: Updates are persisted
	done := created.Add(time.Hour)
	got.Status, got.CompletedAt = goal.StatusCompleted, &done
	require.NoError(t, st.UpdateGoal(ctx, got))

	completed, err := st.ListGoalsByStatus(ctx, goal.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].CompletedAt)
	assert.True(t, completed[0].CompletedAt.Equal(done))
}

func TestGoal_NotFound(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.GetGoal(ctx, "missing")
	assert.ErrorIs(t, err, goal.ErrGoalNotFound)
	_, err = st.GetActivity(ctx, "missing")
	assert.ErrorIs(t, err, goal.ErrActivityNotFound)
	_, err = st.GetStreak(ctx, goal.StreakKey{GoalID: "g", UserID: "u", Type: goal.StreakIndividual})
	assert.ErrorIs(t, err, goal.ErrStreakNotFound)
	assert.ErrorIs(t, st.DeleteGoal(ctx, "missing"), goal.ErrGoalNotFound)
}

func TestMembers_SaveIsUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)

	require.NoError(t, st.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "bob", Role: goal.RoleMember, JoinedAt: created}))
	require.NoError(t, st.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "bob", Role: goal.RoleMember, Accepted: true, JoinedAt: created}))

	members, err := st.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].Accepted)

	assert.ErrorIs(t, st.SaveMember(ctx, goal.Member{GoalID: "nope", UserID: "bob"}), goal.ErrGoalNotFound)
}

func TestActivity_AssignedToRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	bob := goal.UserID("bob")

	require.NoError(t, st.CreateActivity(ctx, goal.Activity{ID: "a2", GoalID: g.ID, Title: "stretch", AssignedTo: &bob, CreatedAt: created.Add(time.Minute)}))
	err := st.CreateActivity(ctx, goal.Activity{ID: "a3", GoalID: g.ID, Title: "both", AssignedTo: &bob, AssignedToAll: true, CreatedAt: created})
	assert.ErrorIs(t, err, goal.ErrInvalidGoal)

	activities, err := st.ListActivities(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.True(t, activities[0].AssignedToAll)
	require.NotNil(t, activities[1].AssignedTo)
	assert.Equal(t, bob, *activities[1].AssignedTo)
}

func TestCompletion_UniquePerDay(t *testing.T) {
	// GIVEN: One completion
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	day := calendar.NewDay(2025, time.March, 12)
	c := goal.Completion{ID: "c1", GoalID: g.ID, ActivityID: "a1", UserID: "alice", Day: day, CompletedAt: created}
	require.NoError(t, st.InsertCompletion(ctx, c))

	// WHEN: Inserting the same key again
	c.ID = "c2"
	err := st.InsertCompletion(ctx, c)

	// THEN: Duplicate, and the original stays
	assert.ErrorIs(t, err, goal.ErrDuplicateCompletion)
	exists, err := st.CompletionExists(ctx, "a1", "alice", day)
	require.NoError(t, err)
	assert.True(t, exists)

	on, err := st.ListCompletionsOn(ctx, g.ID, day)
	require.NoError(t, err)
	require.Len(t, on, 1)
	assert.Equal(t, "c1", on[0].ID)

	// AND: Deleting works once
	require.NoError(t, st.DeleteCompletion(ctx, "a1", "alice", day))
	assert.ErrorIs(t, st.DeleteCompletion(ctx, "a1", "alice", day), goal.ErrCompletionNotFound)
}

func TestListCompletions_OrderedByDay(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)

	for i, d := range []int{14, 12, 13} {
		day := calendar.NewDay(2025, time.March, d)
		require.NoError(t, st.InsertCompletion(ctx, goal.Completion{
			ID: string(rune('a' + i)), GoalID: g.ID, ActivityID: "a1", UserID: "alice", Day: day, CompletedAt: created,
		}))
	}

	cs, err := st.ListCompletions(ctx, g.ID, "alice")
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, "2025-03-12", cs[0].Day.String())
	assert.Equal(t, "2025-03-14", cs[2].Day.String())
}

func TestSaveStreak_OptimisticVersion(t *testing.T) {
	// GIVEN: A new record
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	last := calendar.NewDay(2025, time.March, 12)
	rec := goal.StreakRecord{
		StreakKey:     goal.StreakKey{GoalID: g.ID, UserID: "alice", Type: goal.StreakSeasonal},
		CurrentStreak: 1, LongestStreak: 1, TotalCompletions: 1, LastActivityDate: &last,
		FreezeUsesRemaining: 1, UpdatedAt: created,
	}

	// WHEN: Saving it
	saved, err := st.SaveStreak(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	// THEN: A second insert of Version 0 conflicts
	_, err = st.SaveStreak(ctx, rec)
	assert.ErrorIs(t, err, goal.ErrConcurrentModification)

	// AND: Updating from the read version works once
	saved.CurrentStreak = 2
	saved.LongestStreak = 2
	v2, err := st.SaveStreak(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	_, err = st.SaveStreak(ctx, saved)
	assert.ErrorIs(t, err, goal.ErrConcurrentModification, "stale version")

	got, err := st.GetStreak(ctx, rec.StreakKey)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStreak)
	require.NotNil(t, got.LastActivityDate)
	assert.True(t, got.LastActivityDate.Equal(last))
	assert.False(t, got.LastDayFrozen)
}

func TestSaveStreak_LastDayFrozen(t *testing.T) {
	// GIVEN: A record whose last day was covered by a freeze
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	last := calendar.NewDay(2025, time.March, 13)
	rec := goal.StreakRecord{
		StreakKey:     goal.StreakKey{GoalID: g.ID, UserID: "alice", Type: goal.StreakIndividual},
		CurrentStreak: 3, LongestStreak: 3, TotalCompletions: 3, LastActivityDate: &last,
		LastDayFrozen: true, UpdatedAt: created,
	}

	// WHEN: Inserting, then clearing the flag
	saved, err := st.SaveStreak(ctx, rec)
	require.NoError(t, err)
	got, err := st.GetStreak(ctx, rec.StreakKey)
	require.NoError(t, err)
	assert.True(t, got.LastDayFrozen)

	saved.LastDayFrozen = false
	saved.CurrentStreak, saved.LongestStreak, saved.TotalCompletions = 4, 4, 4
	_, err = st.SaveStreak(ctx, saved)
	require.NoError(t, err)

	// THEN: Both writes are persisted
	got, err = st.GetStreak(ctx, rec.StreakKey)
	require.NoError(t, err)
	assert.False(t, got.LastDayFrozen)
	assert.Equal(t, 4, got.TotalCompletions)
}

func TestLockGoal(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)

	require.NoError(t, st.WithTx(ctx, func(tx goal.Store) error {
		return tx.LockGoal(ctx, g.ID)
	}))
	assert.ErrorIs(t, st.LockGoal(ctx, "missing"), goal.ErrGoalNotFound)
}

func TestGroupStreak_EmptyUserID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	key := goal.StreakKey{GoalID: g.ID, Type: goal.StreakGroup}

	_, err := st.SaveStreak(ctx, goal.StreakRecord{StreakKey: key, CurrentStreak: 1, LongestStreak: 1, UpdatedAt: created})
	require.NoError(t, err)

	all, err := st.ListStreaks(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, goal.UserID(""), all[0].UserID)
	assert.Nil(t, all[0].LastActivityDate)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A goal
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	day := calendar.NewDay(2025, time.March, 12)
	boom := errors.New("boom")

	// WHEN: A transaction writes then fails
	err := st.WithTx(ctx, func(tx goal.Store) error {
		require.NoError(t, tx.InsertCompletion(ctx, goal.Completion{ID: "c1", GoalID: g.ID, ActivityID: "a1", UserID: "alice", Day: day, CompletedAt: created}))
		return boom
	})

	// THEN: The write is gone
	assert.ErrorIs(t, err, boom)
	exists, err := st.CompletionExists(ctx, "a1", "alice", day)
	require.NoError(t, err)
	assert.False(t, exists)

	// AND: A successful transaction commits
	require.NoError(t, st.WithTx(ctx, func(tx goal.Store) error {
		return tx.RecordFreeze(ctx, goal.FreezeUse{ID: "f1", GoalID: g.ID, UserID: "alice", StreakType: goal.StreakSeasonal, Day: day, UsedAt: created})
	}))
	freezes, err := st.ListFreezes(ctx, goal.StreakKey{GoalID: g.ID, UserID: "alice", Type: goal.StreakSeasonal})
	require.NoError(t, err)
	assert.Len(t, freezes, 1)
}

func TestDeleteGoal_Cascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st)
	day := calendar.NewDay(2025, time.March, 12)
	require.NoError(t, st.InsertCompletion(ctx, goal.Completion{ID: "c1", GoalID: g.ID, ActivityID: "a1", UserID: "alice", Day: day, CompletedAt: created}))

	require.NoError(t, st.DeleteGoal(ctx, g.ID))

	_, err := st.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, goal.ErrActivityNotFound)
	exists, err := st.CompletionExists(ctx, "a1", "alice", day)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpen_FileDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "streaks.db")

	st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, path)
	require.NoError(t, err)
	seedGoal(t, st)
	require.NoError(t, st.Close())

	reopened, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetGoal(ctx, "g1")
	assert.NoError(t, err)
}
