/*
Package ledger records activity completions.

ledger.go - Completion log with per-day idempotency

PURPOSE:
  The completion rows are the source of truth for personal streaks: a
  personal StreakRecord can always be rebuilt by replaying them. This package
  is the only writer of those rows.

INVARIANT:
  At most one completion per (activity, user, calendar day).

  Checked twice: first with CompletionExists (cheap, the common retry case),
  then by the store's uniqueness constraint on insert. Two concurrent
  requests for the same key can both pass the first check; only one insert
  wins and the other sees ErrDuplicateCompletion, which is reported exactly
  like the first check: AlreadyCompleted.

ALREADY COMPLETED IS NOT AN ERROR:
  Clients retry. A repeated completion returns Result{AlreadyCompleted: true}
  and a nil error, and leaves every streak untouched.

CORRECTIONS:
  Uncomplete removes today's row only. Earlier days are immutable. The
  user's personal record is then rebuilt from the remaining rows.

EXAMPLE FLOW:
  09:00 alice completes "run"        -> inserted, streak 3 -> 4
  09:01 alice retries (network blip) -> AlreadyCompleted, streak stays 4
  09:05 alice uncompletes "run"      -> row deleted, streak rebuilt to 3

SEE ALSO:
  - streak/engine.go: What happens after an insert
  - goal/store.go: InsertCompletion contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/streak"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger validates and records completions. All methods run against the
// store handle they are given, normally a transaction.
type Ledger struct {
	Calendar calendar.Calendar
	Guard    goal.Guard
	Engine   *streak.Engine
}

func New(guard goal.Guard, engine *streak.Engine) *Ledger {
	return &Ledger{Calendar: guard.Calendar, Guard: guard, Engine: engine}
}

// Result is the outcome of Record or Uncomplete.
type Result struct {
	AlreadyCompleted bool
	Completion       goal.Completion
	Changes          []streak.Change
}

// Record logs that userID completed activityID at now.
func (l *Ledger) Record(ctx context.Context, s goal.Store, g goal.Goal, userID goal.UserID, activityID goal.ActivityID, now time.Time) (Result, error) {
	if userID == "" {
		return Result{}, goal.ErrNotAuthenticated
	}
	activity, err := activityOf(ctx, s, g, activityID)
	if err != nil {
		return Result{}, err
	}
	if !l.Guard.CanUpdateActivities(g, now) {
		return Result{}, fmt.Errorf("goal %s: %w", g.ID, goal.ErrActivitiesLocked)
	}
	if err := checkAssigned(ctx, s, activity, userID); err != nil {
		return Result{}, err
	}

	day := l.Calendar.Today(now)
	exists, err := s.CompletionExists(ctx, activityID, userID, day)
	if err != nil {
		return Result{}, fmt.Errorf("check completion: %w", err)
	}
	if exists {
		return Result{AlreadyCompleted: true}, nil
	}

	c := goal.Completion{
		ID:          uuid.NewString(),
		GoalID:      g.ID,
		ActivityID:  activityID,
		UserID:      userID,
		Day:         day,
		CompletedAt: now.UTC(),
	}
	if err := s.InsertCompletion(ctx, c); err != nil {
		if errors.Is(err, goal.ErrDuplicateCompletion) {
			return Result{AlreadyCompleted: true}, nil
		}
		return Result{}, fmt.Errorf("insert completion: %w", err)
	}

	changes, err := l.Engine.OnCompletion(ctx, s, g, userID, day, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Completion: c, Changes: changes}, nil
}

// Uncomplete removes userID's completion of activityID for today. The goal
// owner may retract anyone's row; an assignee only their own. An empty
// userID means the caller's own row. Pending goals are locked as for Record.
func (l *Ledger) Uncomplete(ctx context.Context, s goal.Store, g goal.Goal, activityID goal.ActivityID, callerID, userID goal.UserID, now time.Time) (Result, error) {
	if callerID == "" {
		return Result{}, goal.ErrNotAuthenticated
	}
	if userID == "" {
		userID = callerID
	}
	activity, err := activityOf(ctx, s, g, activityID)
	if err != nil {
		return Result{}, err
	}
	if !l.Guard.CanUpdateActivities(g, now) {
		return Result{}, fmt.Errorf("goal %s: %w", g.ID, goal.ErrActivitiesLocked)
	}
	if callerID != g.OwnerID && (callerID != userID || !activity.IsAssignedTo(callerID)) {
		return Result{}, fmt.Errorf("user %s on activity %s: %w", callerID, activityID, goal.ErrNotPermitted)
	}

	day := l.Calendar.Today(now)
	if err := s.DeleteCompletion(ctx, activityID, userID, day); err != nil {
		return Result{}, fmt.Errorf("delete completion for %s: %w", day, err)
	}

	change, err := l.Engine.Rebuild(ctx, s, g, userID, day, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Completion: goal.Completion{GoalID: g.ID, ActivityID: activityID, UserID: userID, Day: day}}
	if change.Outcome.Changed() {
		res.Changes = []streak.Change{change}
	}
	return res, nil
}

// =============================================================================
// CHECKS
// =============================================================================

func activityOf(ctx context.Context, s goal.Store, g goal.Goal, id goal.ActivityID) (goal.Activity, error) {
	a, err := s.GetActivity(ctx, id)
	if err != nil {
		return goal.Activity{}, err
	}
	if a.GoalID != g.ID {
		return goal.Activity{}, fmt.Errorf("activity %s is not part of goal %s: %w", id, g.ID, goal.ErrActivityNotFound)
	}
	return a, nil
}

// checkAssigned requires a direct assignment, or an accepted membership for
// activities assigned to all members.
func checkAssigned(ctx context.Context, s goal.Store, a goal.Activity, userID goal.UserID) error {
	notAssigned := &goal.NotAssignedError{ActivityID: a.ID, UserID: userID}
	if !a.IsAssignedTo(userID) {
		return notAssigned
	}
	if !a.AssignedToAll {
		return nil
	}
	members, err := s.ListMembers(ctx, a.GoalID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	for _, m := range goal.AcceptedMembers(members) {
		if m.UserID == userID {
			return nil
		}
	}
	return notAssigned
}
