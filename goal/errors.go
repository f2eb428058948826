/*
errors.go - Error kinds for the goal and streak engine

ERROR CATEGORIES:
  1. Identity/lookup   - NotAuthenticated, GoalNotFound, ActivityNotFound, ...
  2. Validation        - NotAssigned, EditWindowClosed, DeleteWindowClosed,
                         ActivitiesLocked, NoFreezeRemaining, NoStreakToFreeze,
                         InvalidTransition
  3. Concurrency       - ConcurrentModification (retryable), DuplicateCompletion

AlreadyCompleted is deliberately NOT an error: a repeated completion for the
same (activity, user, day) is a successful no-op and is reported through the
result type (see tracker.CompletionResult).

USAGE:
  if errors.Is(err, goal.ErrEditWindowClosed) { ... }

  var nae *goal.NotAssignedError
  if errors.As(err, &nae) { log nae.ActivityID }
*/
package goal

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrGoalNotFound       = errors.New("goal not found")
	ErrActivityNotFound   = errors.New("activity not found")
	ErrStreakNotFound     = errors.New("streak not found")
	ErrCompletionNotFound = errors.New("completion not found")

	ErrNotAssigned        = errors.New("activity not assigned to user")
	ErrNotPermitted       = errors.New("not permitted")
	ErrEditWindowClosed   = errors.New("edit window closed")
	ErrDeleteWindowClosed = errors.New("delete window closed")
	ErrActivitiesLocked   = errors.New("activities cannot be updated before the goal starts")
	ErrNoFreezeRemaining  = errors.New("no freeze remaining")
	ErrFreezeNotNeeded    = errors.New("period already covered, freeze not needed")
	ErrNoStreakToFreeze   = errors.New("streak already broken, nothing to freeze")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidGoal        = errors.New("invalid goal")

	// ErrConcurrentModification means an optimistic version check failed.
	// Re-read and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateCompletion is returned by stores when the (activity, user,
	// day) uniqueness constraint rejects an insert. The ledger turns it into
	// an AlreadyCompleted result.
	ErrDuplicateCompletion = errors.New("duplicate completion for day")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotAssignedError names the activity and user that did not match.
type NotAssignedError struct {
	ActivityID ActivityID
	UserID     UserID
}

func (e *NotAssignedError) Error() string {
	return fmt.Sprintf("activity %s not assigned to user %s", e.ActivityID, e.UserID)
}

func (e *NotAssignedError) Unwrap() error { return ErrNotAssigned }

// WindowClosedError reports when an edit or delete window closed.
type WindowClosedError struct {
	GoalID   GoalID
	Action   string // "edit" or "delete"
	ClosedAt time.Time
}

func (e *WindowClosedError) Error() string {
	return fmt.Sprintf("%s window for goal %s closed at %s", e.Action, e.GoalID, e.ClosedAt.UTC().Format(time.RFC3339))
}

func (e *WindowClosedError) Unwrap() error {
	if e.Action == "delete" {
		return ErrDeleteWindowClosed
	}
	return ErrEditWindowClosed
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	GoalID GoalID
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("goal %s cannot move from %s to %s", e.GoalID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself and
// retrying it unchanged cannot help.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotAssigned) ||
		errors.Is(err, ErrNotPermitted) ||
		errors.Is(err, ErrEditWindowClosed) ||
		errors.Is(err, ErrDeleteWindowClosed) ||
		errors.Is(err, ErrActivitiesLocked) ||
		errors.Is(err, ErrNoFreezeRemaining) ||
		errors.Is(err, ErrFreezeNotNeeded) ||
		errors.Is(err, ErrNoStreakToFreeze) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidGoal)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGoalNotFound) ||
		errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrStreakNotFound) ||
		errors.Is(err, ErrCompletionNotFound)
}
