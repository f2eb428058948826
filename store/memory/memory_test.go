package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Memory {
	t.Helper()
	m := New()
	ctx := context.Background()
	require.NoError(t, m.CreateGoal(ctx, goal.Goal{
		ID: "g1", OwnerID: "alice", Title: "Run", Kind: goal.SingleActivity{},
		Sharing: goal.SharingSolo, Status: goal.StatusActive, CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, m.CreateActivity(ctx, goal.Activity{ID: "a1", GoalID: "g1", Title: "5k", AssignedToAll: true, CreatedAt: t0}))
	return m
}

func TestMemory_CompletionUniqueness(t *testing.T) {
	m := seed(t)
	ctx := context.Background()
	day := calendar.MustParseDay("2025-03-10")
	c := goal.Completion{ID: "c1", GoalID: "g1", ActivityID: "a1", UserID: "alice", Day: day, CompletedAt: t0}

	require.NoError(t, m.InsertCompletion(ctx, c))
	c.ID = "c2"
	assert.ErrorIs(t, m.InsertCompletion(ctx, c), goal.ErrDuplicateCompletion)

	exists, err := m.CompletionExists(ctx, "a1", "alice", day)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.DeleteCompletion(ctx, "a1", "alice", day))
	assert.ErrorIs(t, m.DeleteCompletion(ctx, "a1", "alice", day), goal.ErrCompletionNotFound)
}

func TestMemory_SaveStreakOptimisticVersion(t *testing.T) {
	m := seed(t)
	ctx := context.Background()
	key := goal.StreakKey{GoalID: "g1", UserID: "alice", Type: goal.StreakIndividual}

	saved, err := m.SaveStreak(ctx, goal.StreakRecord{StreakKey: key, CurrentStreak: 1, LongestStreak: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	// A second writer that also read "no record" loses.
	_, err = m.SaveStreak(ctx, goal.StreakRecord{StreakKey: key, CurrentStreak: 1, LongestStreak: 1})
	assert.ErrorIs(t, err, goal.ErrConcurrentModification)

	saved.CurrentStreak = 2
	saved.LongestStreak = 2
	next, err := m.SaveStreak(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)

	// Writing from the stale version 1 again is rejected.
	_, err = m.SaveStreak(ctx, saved)
	assert.ErrorIs(t, err, goal.ErrConcurrentModification)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	m := seed(t)
	ctx := context.Background()
	day := calendar.MustParseDay("2025-03-10")
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s goal.Store) error {
		require.NoError(t, s.InsertCompletion(ctx, goal.Completion{ID: "c1", GoalID: "g1", ActivityID: "a1", UserID: "alice", Day: day}))
		_, err := s.SaveStreak(ctx, goal.StreakRecord{
			StreakKey:     goal.StreakKey{GoalID: "g1", UserID: "alice", Type: goal.StreakIndividual},
			CurrentStreak: 1, LongestStreak: 1,
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := m.CompletionExists(ctx, "a1", "alice", day)
	require.NoError(t, err)
	assert.False(t, exists, "insert must be rolled back")

	streaks, err := m.ListStreaks(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, streaks)
}

func TestMemory_WithTxCommits(t *testing.T) {
	m := seed(t)
	ctx := context.Background()
	day := calendar.MustParseDay("2025-03-10")

	require.NoError(t, m.WithTx(ctx, func(s goal.Store) error {
		return s.InsertCompletion(ctx, goal.Completion{ID: "c1", GoalID: "g1", ActivityID: "a1", UserID: "alice", Day: day})
	}))

	got, err := m.ListCompletionsOn(ctx, "g1", day)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemory_DeleteGoalCascades(t *testing.T) {
	m := seed(t)
	ctx := context.Background()
	day := calendar.MustParseDay("2025-03-10")
	require.NoError(t, m.SaveMember(ctx, goal.Member{GoalID: "g1", UserID: "alice", Role: goal.RoleOwner, Accepted: true}))
	require.NoError(t, m.InsertCompletion(ctx, goal.Completion{ID: "c1", GoalID: "g1", ActivityID: "a1", UserID: "alice", Day: day}))

	require.NoError(t, m.DeleteGoal(ctx, "g1"))

	_, err := m.GetGoal(ctx, "g1")
	assert.ErrorIs(t, err, goal.ErrGoalNotFound)
	_, err = m.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, goal.ErrActivityNotFound)
	members, err := m.ListMembers(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemory_RejectsInvalidActivity(t *testing.T) {
	m := seed(t)
	err := m.CreateActivity(context.Background(), goal.Activity{ID: "a2", GoalID: "g1", Title: "x"})
	assert.ErrorIs(t, err, goal.ErrInvalidGoal)
}

func TestMemory_ConcurrentTransactionsSerialize(t *testing.T) {
	// GIVEN: A streak record
	m := seed(t)
	ctx := context.Background()
	key := goal.StreakKey{GoalID: "g1", UserID: "alice", Type: goal.StreakIndividual}
	_, err := m.SaveStreak(ctx, goal.StreakRecord{StreakKey: key})
	require.NoError(t, err)

	// WHEN: Twenty goroutines each read and rewrite it in a transaction
	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.WithTx(ctx, func(s goal.Store) error {
				if err := s.LockGoal(ctx, "g1"); err != nil {
					return err
				}
				rec, err := s.GetStreak(ctx, key)
				if err != nil {
					return err
				}
				rec.TotalCompletions++
				_, err = s.SaveStreak(ctx, rec)
				return err
			})
		}(i)
	}
	wg.Wait()

	// THEN: No write was lost and no version check failed
	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := m.GetStreak(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, n, got.TotalCompletions)
	assert.Equal(t, n+1, got.Version)
}

func TestMemory_LockGoal(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	assert.NoError(t, m.LockGoal(ctx, "g1"))
	assert.ErrorIs(t, m.LockGoal(ctx, "missing"), goal.ErrGoalNotFound)
}
