/*
lifecycle.go - Derived status and mutability windows (LifecycleGuard)

PURPOSE:
  Pure functions over (Goal, now). Nothing here reads or writes storage.

DERIVED STATUS:
  completed_at set                     -> completed
  start_date set and after today(now)  -> pending
  otherwise                            -> stored status (active/paused);
                                          a stored "pending" whose start day
                                          has arrived reads as active

EDIT WINDOW (default 5h):
  pending goals:  editable until start_of(start_date) - 5h
  active/paused:  editable until created_at + 5h
  completed:      never

DELETE WINDOW (default 24h):
  not completed and now - created_at <= 24h

ACTIVITY UPDATES:
  blocked only while pending. Paused goals still accept completions; pausing
  affects continuity, not logging.

All window comparisons are inclusive: exactly at the boundary still counts.
*/
package goal

import (
	"time"

	"github.com/warp/streak-engine/calendar"
)

const (
	DefaultEditWindow   = 5 * time.Hour
	DefaultDeleteWindow = 24 * time.Hour
)

// Guard evaluates lifecycle rules under a fixed calendar and windows.
type Guard struct {
	Calendar     calendar.Calendar
	EditWindow   time.Duration
	DeleteWindow time.Duration
}

// DefaultGuard uses the UTC calendar and the 5h/24h windows.
func DefaultGuard() Guard {
	return Guard{
		Calendar:     calendar.UTC(),
		EditWindow:   DefaultEditWindow,
		DeleteWindow: DefaultDeleteWindow,
	}
}

// DeriveStatus returns the goal's effective status at now.
func (g Guard) DeriveStatus(goal Goal, now time.Time) Status {
	if goal.CompletedAt != nil {
		return StatusCompleted
	}
	if goal.StartDate != nil && goal.StartDate.After(g.Calendar.Today(now)) {
		return StatusPending
	}
	if goal.Status == StatusPending || goal.Status == "" {
		return StatusActive
	}
	return goal.Status
}

// EditDeadline is the last instant the goal may be edited, given its derived
// status at now. The zero time means editing is never allowed.
func (g Guard) EditDeadline(goal Goal, now time.Time) time.Time {
	switch g.DeriveStatus(goal, now) {
	case StatusCompleted:
		return time.Time{}
	case StatusPending:
		return g.Calendar.StartOf(*goal.StartDate).Add(-g.EditWindow)
	default:
		return goal.CreatedAt.Add(g.EditWindow)
	}
}

// CanEdit reports whether the owner may still change the goal.
func (g Guard) CanEdit(goal Goal, now time.Time) bool {
	deadline := g.EditDeadline(goal, now)
	if deadline.IsZero() {
		return false
	}
	return !now.After(deadline)
}

// CanDelete reports whether the goal may still be deleted.
func (g Guard) CanDelete(goal Goal, now time.Time) bool {
	if g.DeriveStatus(goal, now) == StatusCompleted {
		return false
	}
	return now.Sub(goal.CreatedAt) <= g.DeleteWindow
}

// CanUpdateActivities reports whether completions may be logged.
func (g Guard) CanUpdateActivities(goal Goal, now time.Time) bool {
	return g.DeriveStatus(goal, now) != StatusPending
}

// CheckEdit returns a *WindowClosedError when editing is no longer allowed.
func (g Guard) CheckEdit(goal Goal, now time.Time) error {
	if g.CanEdit(goal, now) {
		return nil
	}
	return &WindowClosedError{GoalID: goal.ID, Action: "edit", ClosedAt: g.EditDeadline(goal, now)}
}

// CheckDelete returns a *WindowClosedError when deletion is no longer allowed.
func (g Guard) CheckDelete(goal Goal, now time.Time) error {
	if g.CanDelete(goal, now) {
		return nil
	}
	closedAt := goal.CreatedAt.Add(g.DeleteWindow)
	if goal.CompletedAt != nil {
		closedAt = *goal.CompletedAt
	}
	return &WindowClosedError{GoalID: goal.ID, Action: "delete", ClosedAt: closedAt}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition moves the goal to status `to`, applying the lifecycle rules:
//
//	pending  -> active     (promotion, only once the start day has arrived)
//	active   -> paused     (owner)
//	paused   -> active     (owner)
//	active|paused -> completed (sets CompletedAt; terminal)
//
// The returned goal carries the new status; the input is not modified.
func (g Guard) Transition(goal Goal, to Status, now time.Time) (Goal, error) {
	from := g.DeriveStatus(goal, now)
	reject := &TransitionError{GoalID: goal.ID, From: from, To: to}

	switch {
	case from == StatusCompleted:
		return goal, reject
	case to == StatusActive && from == StatusPending:
		return goal, reject
	case to == StatusActive && (goal.Status == StatusPending || goal.Status == ""):
		// promotion catch-up: derived status already reads active
	case to == StatusPaused && from != StatusActive:
		return goal, reject
	case to == StatusActive && from != StatusPaused:
		return goal, reject
	case to == StatusCompleted && from == StatusPending:
		return goal, reject
	case to == StatusPending:
		return goal, reject
	}

	goal.Status = to
	goal.UpdatedAt = now
	if to == StatusCompleted {
		at := now
		goal.CompletedAt = &at
	}
	return goal, nil
}
