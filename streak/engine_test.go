package streak_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/store/memory"
	"github.com/warp/streak-engine/streak"
)

func newTestEngine() *streak.Engine {
	return streak.NewEngine(calendar.UTC(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func soloGoal(t *testing.T, kind goal.Kind) (*memory.Memory, goal.Goal) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	g := goal.Goal{ID: "g1", OwnerID: "u0", Title: "Read", Kind: kind, Sharing: goal.SharingSolo, Status: goal.StatusActive, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateGoal(ctx, g))
	require.NoError(t, s.CreateActivity(ctx, goal.Activity{ID: "a1", GoalID: g.ID, Title: "read", AssignedToAll: true, CreatedAt: t0}))
	require.NoError(t, s.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "u0", Role: goal.RoleOwner, Accepted: true, JoinedAt: t0}))
	return s, g
}

func at(d string) time.Time {
	return calendar.UTC().StartOf(day(d)).Add(12 * time.Hour)
}

func TestEngine_OnCompletionPersistsPersonalRecord(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.SingleActivity{})
	e := newTestEngine()

	changes, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, streak.OutcomeFirstCompletion, changes[0].Outcome)
	assert.Equal(t, 1, changes[0].Record.Version)

	changes, err = e.OnCompletion(ctx, s, g, "u0", day("2025-03-11"), at("2025-03-11"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 2, changes[0].Record.CurrentStreak)

	rec, err := s.GetStreak(ctx, streak.PersonalKey(g, "u0"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, 2, rec.TotalCompletions)
}

func TestEngine_SameDaySecondCompletionWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.SingleActivity{})
	e := newTestEngine()

	_, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)
	changes, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)
	assert.Empty(t, changes)

	rec, err := s.GetStreak(ctx, streak.PersonalKey(g, "u0"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
}

func TestEngine_WeeklyGoalUsesSeasonalRecord(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.Recurring{Cadence: goal.CadenceWeekly})
	e := newTestEngine()

	changes, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, goal.StreakSeasonal, changes[0].Record.Type)
}

// =============================================================================
// GROUP AND PARTNER
// =============================================================================

func TestEngine_GroupRecordAdvancesAtThreshold(t *testing.T) {
	// GIVEN: Group of 4, everyone completes day 10
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingGroup, 4)
	e := newTestEngine()
	d := day("2025-03-10")

	var last []streak.Change
	for i := 0; i < 4; i++ {
		complete(t, s, "a1", userN(i), d)
		changes, err := e.OnCompletion(ctx, s, g, userN(i), d, at("2025-03-10"))
		require.NoError(t, err)
		last = changes
	}

	// THEN: The fourth completion reaches 100% and creates the group record
	require.Len(t, last, 2)
	assert.Equal(t, goal.StreakGroup, last[1].Record.Type)
	assert.Equal(t, goal.UserID(""), last[1].Record.UserID)

	group, err := s.GetStreak(ctx, goal.StreakKey{GoalID: g.ID, Type: goal.StreakGroup})
	require.NoError(t, err)
	assert.Equal(t, 1, group.CurrentStreak)
	assert.Equal(t, 1, group.TotalCompletions)
}

func TestEngine_GroupBreaksAt75Percent(t *testing.T) {
	// GIVEN: Group of 4 with a one day collective streak
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingGroup, 4)
	e := newTestEngine()
	d1, d2 := day("2025-03-10"), day("2025-03-11")
	for i := 0; i < 4; i++ {
		complete(t, s, "a1", userN(i), d1)
		_, err := e.OnCompletion(ctx, s, g, userN(i), d1, at("2025-03-10"))
		require.NoError(t, err)
	}

	// WHEN: Only 3 of 4 complete day 11, and the day is reported over
	for i := 0; i < 3; i++ {
		complete(t, s, "a1", userN(i), d2)
		_, err := e.OnCompletion(ctx, s, g, userN(i), d2, at("2025-03-11"))
		require.NoError(t, err)
	}
	changes, err := e.OnMissedDay(ctx, s, g, d2, at("2025-03-12"))
	require.NoError(t, err)

	// THEN: The collective streak breaks; u3's personal streak breaks too
	group, err := s.GetStreak(ctx, goal.StreakKey{GoalID: g.ID, Type: goal.StreakGroup})
	require.NoError(t, err)
	assert.Equal(t, 0, group.CurrentStreak)
	assert.Equal(t, 1, group.LongestStreak)

	var broke []goal.StreakKey
	for _, c := range changes {
		if c.Broke {
			broke = append(broke, c.Record.StreakKey)
		}
	}
	assert.ElementsMatch(t, []goal.StreakKey{
		{GoalID: g.ID, UserID: "u3", Type: goal.StreakIndividual},
		{GoalID: g.ID, Type: goal.StreakGroup},
	}, broke)
}

func TestEngine_GroupContinuesAt80Percent(t *testing.T) {
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingGroup, 5)
	e := newTestEngine()

	for _, d := range []string{"2025-03-10", "2025-03-11"} {
		for i := 0; i < 4; i++ {
			complete(t, s, "a1", userN(i), day(d))
			_, err := e.OnCompletion(ctx, s, g, userN(i), day(d), at(d))
			require.NoError(t, err)
		}
	}

	group, err := s.GetStreak(ctx, goal.StreakKey{GoalID: g.ID, Type: goal.StreakGroup})
	require.NoError(t, err)
	assert.Equal(t, 2, group.CurrentStreak)
}

func TestEngine_PartnerRecordKeyedByOwner(t *testing.T) {
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingPartner, 2)
	e := newTestEngine()
	d := day("2025-03-10")

	complete(t, s, "a1", "u0", d)
	changes, err := e.OnCompletion(ctx, s, g, "u0", d, at("2025-03-10"))
	require.NoError(t, err)
	assert.Len(t, changes, 1, "one partner alone does not advance the shared record")

	complete(t, s, "a1", "u1", d)
	changes, err = e.OnCompletion(ctx, s, g, "u1", d, at("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, goal.StreakKey{GoalID: g.ID, UserID: "u0", Type: goal.StreakPartner}, changes[1].Record.StreakKey)
}

// callLog records the order of the store calls shared evaluation makes.
type callLog struct {
	goal.Store
	calls []string
}

func (c *callLog) LockGoal(ctx context.Context, id goal.GoalID) error {
	c.calls = append(c.calls, "lock")
	return c.Store.LockGoal(ctx, id)
}

func (c *callLog) ListCompletionsOn(ctx context.Context, goalID goal.GoalID, d calendar.Day) ([]goal.Completion, error) {
	c.calls = append(c.calls, "completions_on")
	return c.Store.ListCompletionsOn(ctx, goalID, d)
}

func TestEngine_SharedEvaluationLocksGoalFirst(t *testing.T) {
	// GIVEN: A partner goal where only the owner has completed today
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingPartner, 2)
	log := &callLog{Store: s}
	d := day("2025-03-10")
	complete(t, s, "a1", "u0", d)

	// WHEN: The owner's completion is applied
	changes, err := newTestEngine().OnCompletion(ctx, log, g, "u0", d, at("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	// THEN: The goal was locked before the day was aggregated, even though
	// the shared record is not written
	require.NotEmpty(t, log.calls)
	assert.Equal(t, "lock", log.calls[0])
	assert.Contains(t, log.calls, "completions_on")
}

func TestEngine_SoloGoalTakesNoLock(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.SingleActivity{})
	log := &callLog{Store: s}

	_, err := newTestEngine().OnCompletion(ctx, log, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)
	assert.NotContains(t, log.calls, "lock")
}

func TestEngine_SharedEvaluationDeletedGoal(t *testing.T) {
	ctx := context.Background()
	s, g := newSharedGoal(t, goal.SharingGroup, 2)
	g.ID = "gone"

	_, err := newTestEngine().OnMissedDay(ctx, s, g, day("2025-03-10"), at("2025-03-11"))
	assert.ErrorIs(t, err, goal.ErrGoalNotFound)
}

// =============================================================================
// MISSED DAY
// =============================================================================

func TestEngine_OnMissedDayWeeklyWaitsForWeekEnd(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.Recurring{Cadence: goal.CadenceWeekly})
	e := newTestEngine()

	_, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-03"), at("2025-03-03"))
	require.NoError(t, err)

	// Wednesday of the following week: the week is not over
	changes, err := e.OnMissedDay(ctx, s, g, day("2025-03-12"), at("2025-03-13"))
	require.NoError(t, err)
	assert.Empty(t, changes)

	// Sunday closes the uncovered week
	changes, err = e.OnMissedDay(ctx, s, g, day("2025-03-16"), at("2025-03-17"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Broke)
	assert.Equal(t, 0, changes[0].Record.CurrentStreak)
}

// =============================================================================
// FREEZE AND REBUILD
// =============================================================================

func TestEngine_UseFreezeRecordsUse(t *testing.T) {
	ctx := context.Background()
	s, g := soloGoal(t, goal.SingleActivity{})
	e := newTestEngine()

	_, err := e.OnCompletion(ctx, s, g, "u0", day("2025-03-10"), at("2025-03-10"))
	require.NoError(t, err)

	c, err := e.UseFreeze(ctx, s, g, "u0", day("2025-03-11"), at("2025-03-11"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Record.FreezeUsesRemaining)
	assert.Equal(t, 1, c.Record.CurrentStreak)

	uses, err := s.ListFreezes(ctx, streak.PersonalKey(g, "u0"))
	require.NoError(t, err)
	require.Len(t, uses, 1)
	assert.Equal(t, "2025-03-11", uses[0].Day.String())

	_, err = e.UseFreeze(ctx, s, g, "u0", day("2025-03-12"), at("2025-03-12"))
	assert.ErrorIs(t, err, goal.ErrNoFreezeRemaining)
}

func TestEngine_UseFreezeWithoutStreak(t *testing.T) {
	s, g := soloGoal(t, goal.SingleActivity{})
	_, err := newTestEngine().UseFreeze(context.Background(), s, g, "u0", day("2025-03-11"), at("2025-03-11"))
	assert.ErrorIs(t, err, goal.ErrStreakNotFound)
}

func TestEngine_RebuildAfterRetraction(t *testing.T) {
	// GIVEN: Completions on the 10th and 11th
	ctx := context.Background()
	s, g := soloGoal(t, goal.SingleActivity{})
	e := newTestEngine()
	for _, d := range []string{"2025-03-10", "2025-03-11"} {
		complete(t, s, "a1", "u0", day(d))
		_, err := e.OnCompletion(ctx, s, g, "u0", day(d), at(d))
		require.NoError(t, err)
	}

	// WHEN: The 11th is retracted and the record rebuilt
	require.NoError(t, s.DeleteCompletion(ctx, "a1", "u0", day("2025-03-11")))
	c, err := e.Rebuild(ctx, s, g, "u0", day("2025-03-11"), at("2025-03-11"))
	require.NoError(t, err)

	// THEN: Back to a one day streak and one completion
	assert.Equal(t, 1, c.Record.CurrentStreak)
	assert.Equal(t, 1, c.Record.TotalCompletions)
	assert.Equal(t, 1, c.Record.LongestStreak, "longest recomputed from the ledger")
	assert.Equal(t, 3, c.Record.Version)
}
