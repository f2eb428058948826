package ledger_test

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
	"github.com/warp/streak-engine/ledger"
	"github.com/warp/streak-engine/store/memory"
	"github.com/warp/streak-engine/streak"
)

var created = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Memory
	ledger *ledger.Ledger
	goal   goal.Goal
}

func newTestLedger(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	g := goal.Goal{
		ID: "g1", OwnerID: "owner", Title: "Study", Kind: goal.MultiActivity{},
		Sharing: goal.SharingGroup, Status: goal.StatusActive, CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, s.CreateGoal(ctx, g))

	bob := goal.UserID("bob")
	require.NoError(t, s.CreateActivity(ctx, goal.Activity{ID: "all", GoalID: g.ID, Title: "read", AssignedToAll: true, CreatedAt: created}))
	require.NoError(t, s.CreateActivity(ctx, goal.Activity{ID: "bobs", GoalID: g.ID, Title: "quiz", AssignedTo: &bob, CreatedAt: created}))
	require.NoError(t, s.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "owner", Role: goal.RoleOwner, Accepted: true, JoinedAt: created}))
	require.NoError(t, s.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "bob", Role: goal.RoleMember, Accepted: true, JoinedAt: created}))
	require.NoError(t, s.SaveMember(ctx, goal.Member{GoalID: g.ID, UserID: "invited", Role: goal.RoleMember, JoinedAt: created}))

	engine := streak.NewEngine(calendar.UTC(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{store: s, ledger: ledger.New(goal.DefaultGuard(), engine), goal: g}
}

// =============================================================================
// RECORD
// =============================================================================

func TestRecord_IdempotentPerDay(t *testing.T) {
	// GIVEN: A fresh goal
	f := newTestLedger(t)
	ctx := context.Background()
	now := created.Add(2 * time.Hour)

	// WHEN: Recording the same completion twice
	first, err := f.ledger.Record(ctx, f.store, f.goal, "owner", "all", now)
	require.NoError(t, err)
	second, err := f.ledger.Record(ctx, f.store, f.goal, "owner", "all", now.Add(time.Minute))
	require.NoError(t, err)

	// THEN: Recorded once, then AlreadyCompleted with no streak changes
	assert.False(t, first.AlreadyCompleted)
	assert.NotEmpty(t, first.Completion.ID)
	assert.True(t, second.AlreadyCompleted)
	assert.Empty(t, second.Changes)

	rec, err := f.store.GetStreak(ctx, goal.StreakKey{GoalID: "g1", UserID: "owner", Type: goal.StreakIndividual})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalCompletions)
	assert.Equal(t, 1, rec.CurrentStreak)
}

func TestRecord_NewDayIsANewCompletion(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.store, f.goal, "owner", "all", created.Add(15*time.Hour))
	require.NoError(t, err)
	// 23:00 then 00:10 UTC are different days
	res, err := f.ledger.Record(ctx, f.store, f.goal, "owner", "all", created.Add(16*time.Hour+10*time.Minute))
	require.NoError(t, err)

	assert.False(t, res.AlreadyCompleted)
	require.NotEmpty(t, res.Changes)
	assert.Equal(t, streak.OutcomeContinued, res.Changes[0].Outcome)
}

func TestRecord_NotAssigned(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.store, f.goal, "owner", "bobs", created)
	assert.ErrorIs(t, err, goal.ErrNotAssigned)

	var nae *goal.NotAssignedError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, goal.ActivityID("bobs"), nae.ActivityID)

	_, err = f.ledger.Record(ctx, f.store, f.goal, "invited", "all", created)
	assert.ErrorIs(t, err, goal.ErrNotAssigned, "pending invitees are not assignees")

	_, err = f.ledger.Record(ctx, f.store, f.goal, "stranger", "all", created)
	assert.ErrorIs(t, err, goal.ErrNotAssigned)
}

func TestRecord_PendingGoalLocked(t *testing.T) {
	f := newTestLedger(t)
	start := calendar.MustParseDay("2025-03-20")
	f.goal.StartDate = &start

	_, err := f.ledger.Record(context.Background(), f.store, f.goal, "owner", "all", created)
	assert.ErrorIs(t, err, goal.ErrActivitiesLocked)
}

func TestRecord_PausedGoalStillAcceptsCompletions(t *testing.T) {
	f := newTestLedger(t)
	f.goal.Status = goal.StatusPaused

	res, err := f.ledger.Record(context.Background(), f.store, f.goal, "owner", "all", created)
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)
}

func TestRecord_RequiresUser(t *testing.T) {
	f := newTestLedger(t)
	_, err := f.ledger.Record(context.Background(), f.store, f.goal, "", "all", created)
	assert.ErrorIs(t, err, goal.ErrNotAuthenticated)
}

func TestRecord_ActivityFromOtherGoal(t *testing.T) {
	f := newTestLedger(t)
	other := f.goal
	other.ID = "g2"

	_, err := f.ledger.Record(context.Background(), f.store, other, "owner", "all", created)
	assert.ErrorIs(t, err, goal.ErrActivityNotFound)
}

// =============================================================================
// UNCOMPLETE
// =============================================================================

func TestUncomplete_RetractsTodayAndRebuilds(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()
	day1 := created.Add(time.Hour)
	day2 := day1.Add(24 * time.Hour)

	_, err := f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", day1)
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", day2)
	require.NoError(t, err)

	res, err := f.ledger.Uncomplete(ctx, f.store, f.goal, "bobs", "bob", "", day2.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)

	rec := res.Changes[0].Record
	assert.Equal(t, 1, rec.CurrentStreak)
	assert.Equal(t, 1, rec.TotalCompletions)

	// The retracted completion can be logged again
	again, err := f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", day2.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, again.AlreadyCompleted)
}

func TestUncomplete_OnlyToday(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", created)
	require.NoError(t, err)

	_, err = f.ledger.Uncomplete(ctx, f.store, f.goal, "bobs", "bob", "", created.Add(24*time.Hour))
	assert.ErrorIs(t, err, goal.ErrCompletionNotFound)
}

func TestUncomplete_Permissions(t *testing.T) {
	f := newTestLedger(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", created)
	require.NoError(t, err)

	_, err = f.ledger.Uncomplete(ctx, f.store, f.goal, "bobs", "invited", "bob", created)
	assert.ErrorIs(t, err, goal.ErrNotPermitted)

	_, err = f.ledger.Uncomplete(ctx, f.store, f.goal, "bobs", "owner", "bob", created)
	assert.NoError(t, err, "owner may retract a member's completion")
}

func TestUncomplete_PendingGoalLocked(t *testing.T) {
	// GIVEN: A completion logged today
	f := newTestLedger(t)
	ctx := context.Background()
	_, err := f.ledger.Record(ctx, f.store, f.goal, "bob", "bobs", created)
	require.NoError(t, err)

	// WHEN: The goal has moved to a future start date
	start := calendar.MustParseDay("2025-03-20")
	pending := f.goal
	pending.StartDate = &start
	_, err = f.ledger.Uncomplete(ctx, f.store, pending, "bobs", "owner", "bob", created)

	// THEN: The retraction is refused like a completion would be
	assert.ErrorIs(t, err, goal.ErrActivitiesLocked)
	exists, err := f.store.CompletionExists(ctx, "bobs", "bob", calendar.UTC().Today(created))
	require.NoError(t, err)
	assert.True(t, exists)
}
