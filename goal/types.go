/*
Package goal holds the goal data model, the lifecycle guard, error kinds and
the persistence contract shared by every other package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Goal:         A tracked commitment. Its type-specific shape is a Kind.
  - Kind:         Tagged variant per goal type (SingleActivity, MultiActivity,
                  Recurring). Callers switch on the concrete type instead of
                  probing optional fields.
  - Activity:     A task belonging to one goal, assigned to one user XOR to
                  all members.
  - Member:       A user participating in a goal (owner, member, partner).
  - Completion:   "User U completed activity A on day D". At most one per key.
  - StreakRecord: Continuity metrics per (goal, user-or-none, streak type).

INVARIANTS:
  - Goal.CompletedAt != nil  <=>  Goal.Status == StatusCompleted
  - Completed is terminal.
  - Activity: exactly one of AssignedTo / AssignedToAll.
  - StreakRecord: LongestStreak >= CurrentStreak >= 0; UserID is empty only
    for StreakGroup.

SEE ALSO:
  - lifecycle.go: Derived status and edit/delete windows
  - store.go: Persistence interfaces
  - errors.go: Error kinds
*/
package goal

import (
	"fmt"
	"time"

	"github.com/warp/streak-engine/calendar"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GoalID string
type UserID string
type ActivityID string

// =============================================================================
// GOAL TYPE, STATUS, SHARING
// =============================================================================

type Type string

const (
	TypeSingleActivity Type = "single_activity"
	TypeMultiActivity  Type = "multi_activity"
	TypeRecurring      Type = "recurring"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Sharing selects which shared streak, if any, a goal maintains on top of
// each participant's own record.
type Sharing string

const (
	SharingSolo    Sharing = "solo"
	SharingGroup   Sharing = "group"
	SharingPartner Sharing = "partner"
)

func (s Sharing) Valid() bool {
	switch s {
	case SharingSolo, SharingGroup, SharingPartner:
		return true
	}
	return false
}

type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// =============================================================================
// KIND - Tagged variant per goal type
// =============================================================================

// Kind is the type-specific part of a goal. The set of implementations is
// closed: SingleActivity, MultiActivity and Recurring.
type Kind interface {
	Type() Type
	// Granularity is the period streaks on this goal are measured in.
	Granularity() calendar.Granularity
	// validateActivities checks the activity count this kind allows.
	validateActivities(n int) error
}

// SingleActivity is a goal with exactly one activity.
type SingleActivity struct{}

// MultiActivity is a goal made of two or more activities.
type MultiActivity struct{}

// Recurring is a habit-style goal repeated every period.
type Recurring struct {
	Cadence Cadence
}

func (SingleActivity) Type() Type                          { return TypeSingleActivity }
func (SingleActivity) Granularity() calendar.Granularity   { return calendar.GranularityDay }
func (MultiActivity) Type() Type                           { return TypeMultiActivity }
func (MultiActivity) Granularity() calendar.Granularity    { return calendar.GranularityDay }
func (Recurring) Type() Type                               { return TypeRecurring }

func (r Recurring) Granularity() calendar.Granularity {
	if r.Cadence == CadenceWeekly {
		return calendar.GranularityWeek
	}
	return calendar.GranularityDay
}

func (SingleActivity) validateActivities(n int) error {
	if n != 1 {
		return fmt.Errorf("%w: single-activity goal needs exactly 1 activity, got %d", ErrInvalidGoal, n)
	}
	return nil
}

func (MultiActivity) validateActivities(n int) error {
	if n < 2 {
		return fmt.Errorf("%w: multi-activity goal needs at least 2 activities, got %d", ErrInvalidGoal, n)
	}
	return nil
}

func (Recurring) validateActivities(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: recurring goal needs at least 1 activity", ErrInvalidGoal)
	}
	return nil
}

// NewKind builds the variant for a stored (type, cadence) pair.
func NewKind(t Type, cadence Cadence) (Kind, error) {
	switch t {
	case TypeSingleActivity:
		return SingleActivity{}, nil
	case TypeMultiActivity:
		return MultiActivity{}, nil
	case TypeRecurring:
		switch cadence {
		case CadenceDaily, "":
			return Recurring{Cadence: CadenceDaily}, nil
		case CadenceWeekly:
			return Recurring{Cadence: CadenceWeekly}, nil
		}
		return nil, fmt.Errorf("%w: unknown cadence %q", ErrInvalidGoal, cadence)
	}
	return nil, fmt.Errorf("%w: unknown goal type %q", ErrInvalidGoal, t)
}

// CadenceOf returns the cadence column value for a kind ("" for non-recurring).
func CadenceOf(k Kind) Cadence {
	if r, ok := k.(Recurring); ok {
		return r.Cadence
	}
	return ""
}

// =============================================================================
// GOAL
// =============================================================================

type Goal struct {
	ID          GoalID
	OwnerID     UserID
	Title       string
	Kind        Kind
	Sharing     Sharing
	Status      Status
	StartDate   *calendar.Day
	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func (g Goal) Type() Type { return g.Kind.Type() }

// Granularity is the streak period for this goal.
func (g Goal) Granularity() calendar.Granularity { return g.Kind.Granularity() }

// PersonalStreakType is the per-user streak this goal maintains.
// Weekly recurring goals track seasonal streaks; everything else individual.
func (g Goal) PersonalStreakType() StreakType {
	if g.Granularity() == calendar.GranularityWeek {
		return StreakSeasonal
	}
	return StreakIndividual
}

// Validate checks the goal's own invariants and the activity count for its kind.
func (g Goal) Validate(activityCount int) error {
	if g.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidGoal)
	}
	if g.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidGoal)
	}
	if g.Kind == nil {
		return fmt.Errorf("%w: goal type is required", ErrInvalidGoal)
	}
	if !g.Sharing.Valid() {
		return fmt.Errorf("%w: unknown sharing mode %q", ErrInvalidGoal, g.Sharing)
	}
	if (g.CompletedAt != nil) != (g.Status == StatusCompleted) {
		return fmt.Errorf("%w: completed_at must be set exactly when status is completed", ErrInvalidGoal)
	}
	return g.Kind.validateActivities(activityCount)
}

// =============================================================================
// MEMBERS AND ACTIVITIES
// =============================================================================

type Role string

const (
	RoleOwner   Role = "owner"
	RoleMember  Role = "member"
	RolePartner Role = "partner"
)

type Member struct {
	GoalID   GoalID
	UserID   UserID
	Role     Role
	Accepted bool
	JoinedAt time.Time
}

// Activity is a discrete task of a goal.
// Exactly one of AssignedTo and AssignedToAll is set.
type Activity struct {
	ID            ActivityID
	GoalID        GoalID
	Title         string
	AssignedTo    *UserID
	AssignedToAll bool
	CreatedAt     time.Time
}

// Validate enforces the assignment XOR.
func (a Activity) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("%w: activity title is required", ErrInvalidGoal)
	}
	hasUser := a.AssignedTo != nil && *a.AssignedTo != ""
	if hasUser == a.AssignedToAll {
		return fmt.Errorf("%w: activity must be assigned to one user or to all members, not both or neither", ErrInvalidGoal)
	}
	return nil
}

// IsAssignedTo reports whether userID must complete this activity.
// For AssignedToAll the caller still has to check accepted membership.
func (a Activity) IsAssignedTo(userID UserID) bool {
	if a.AssignedToAll {
		return true
	}
	return a.AssignedTo != nil && *a.AssignedTo == userID
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// Completion is keyed by (ActivityID, UserID, Day).
type Completion struct {
	ID          string
	GoalID      GoalID
	ActivityID  ActivityID
	UserID      UserID
	Day         calendar.Day
	CompletedAt time.Time
}

// =============================================================================
// STREAKS
// =============================================================================

type StreakType string

const (
	StreakIndividual StreakType = "individual"
	StreakGroup      StreakType = "group"
	StreakPartner    StreakType = "partner"
	StreakSeasonal   StreakType = "seasonal"
)

// StreakKey identifies a StreakRecord. UserID is empty for group records.
type StreakKey struct {
	GoalID GoalID
	UserID UserID
	Type   StreakType
}

func (k StreakKey) String() string {
	if k.UserID == "" {
		return fmt.Sprintf("%s/%s", k.GoalID, k.Type)
	}
	return fmt.Sprintf("%s/%s/%s", k.GoalID, k.UserID, k.Type)
}

type StreakRecord struct {
	StreakKey
	CurrentStreak       int
	LongestStreak       int
	TotalCompletions    int
	LastActivityDate    *calendar.Day
	FreezeUsesRemaining int
	// LastDayFrozen is set while LastActivityDate was covered by a freeze
	// and not yet by a completion.
	LastDayFrozen bool

	// Version is the optimistic-lock counter. 0 means never persisted.
	Version   int
	UpdatedAt time.Time
}

// Validate checks the record invariants.
func (r StreakRecord) Validate() error {
	if r.CurrentStreak < 0 {
		return fmt.Errorf("streak %s: current streak %d is negative", r.StreakKey, r.CurrentStreak)
	}
	if r.LongestStreak < r.CurrentStreak {
		return fmt.Errorf("streak %s: longest %d below current %d", r.StreakKey, r.LongestStreak, r.CurrentStreak)
	}
	if (r.UserID == "") != (r.Type == StreakGroup) {
		return fmt.Errorf("streak %s: user id must be empty exactly for group streaks", r.StreakKey)
	}
	return nil
}

// FreezeUse records one spent freeze so ledger replays can reproduce it.
type FreezeUse struct {
	ID         string
	GoalID     GoalID
	UserID     UserID
	StreakType StreakType
	Day        calendar.Day
	UsedAt     time.Time
}
