/*
store.go - Persistence interface for goals, the activity ledger and streaks

PURPOSE:
  Defines the boundary between the engine and the database. Nothing in the
  engine holds global state: every component receives a Store handle.

KEY INTERFACES:
  Store:   All reads and writes for the three row types (goals, completions,
           streak records) plus their supporting rows (members, activities,
           freeze uses).
  TxStore: Store plus WithTx for "read prior record, compute, write" units.

LEDGER CONTRACT:
  Completions are insert-or-absent. InsertCompletion returns
  ErrDuplicateCompletion when the (activity, user, day) key exists, and that
  check is enforced by the store itself so two concurrent inserts cannot
  both win. DeleteCompletion exists only for same-day "uncomplete".

SHARED RECORDS:
  LockGoal holds the goal row until the transaction ends. Every write to a
  goal's group or partner record happens under it, so two members finishing
  the day at once cannot both aggregate without seeing each other.

OPTIMISTIC LOCKING:
  SaveStreak takes the record as it was read (Version N, or 0 if new) and
  persists Version N+1. If someone else wrote in between, it returns
  ErrConcurrentModification and nothing is written.

IMPLEMENTATIONS:
  - store/memory: In-memory, snapshot/rollback transactions
  - store/sqlstore: SQLite or Postgres via sqlx
*/
package goal

import (
	"context"

	"github.com/warp/streak-engine/calendar"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Goals
	CreateGoal(ctx context.Context, g Goal) error
	GetGoal(ctx context.Context, id GoalID) (Goal, error)
	UpdateGoal(ctx context.Context, g Goal) error
	DeleteGoal(ctx context.Context, id GoalID) error
	ListGoalsByStatus(ctx context.Context, status Status) ([]Goal, error)
	// LockGoal blocks other transactions that lock the same goal until this
	// one ends. ErrGoalNotFound if it does not exist.
	LockGoal(ctx context.Context, id GoalID) error

	// Members
	SaveMember(ctx context.Context, m Member) error
	ListMembers(ctx context.Context, goalID GoalID) ([]Member, error)

	// Activities
	CreateActivity(ctx context.Context, a Activity) error
	GetActivity(ctx context.Context, id ActivityID) (Activity, error)
	ListActivities(ctx context.Context, goalID GoalID) ([]Activity, error)

	// Completions (insert-or-absent)
	InsertCompletion(ctx context.Context, c Completion) error
	CompletionExists(ctx context.Context, activityID ActivityID, userID UserID, day calendar.Day) (bool, error)
	DeleteCompletion(ctx context.Context, activityID ActivityID, userID UserID, day calendar.Day) error
	// ListCompletionsOn returns every completion of the goal on day.
	ListCompletionsOn(ctx context.Context, goalID GoalID, day calendar.Day) ([]Completion, error)
	// ListCompletions returns the user's completions of the goal ordered by day.
	ListCompletions(ctx context.Context, goalID GoalID, userID UserID) ([]Completion, error)

	// Streaks
	GetStreak(ctx context.Context, key StreakKey) (StreakRecord, error)
	ListStreaks(ctx context.Context, goalID GoalID) ([]StreakRecord, error)
	// SaveStreak persists rec with Version+1 and returns the stored record.
	SaveStreak(ctx context.Context, rec StreakRecord) (StreakRecord, error)

	// Freezes
	RecordFreeze(ctx context.Context, f FreezeUse) error
	ListFreezes(ctx context.Context, key StreakKey) ([]FreezeUse, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the inner Store is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AcceptedMembers filters members to those who accepted.
func AcceptedMembers(members []Member) []Member {
	var out []Member
	for _, m := range members {
		if m.Accepted {
			out = append(out, m)
		}
	}
	return out
}
