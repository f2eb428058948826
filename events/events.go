/*
Package events carries typed outbound domain events.

events.go - Event types

PURPOSE:
  Downstream collaborators (achievements, notifications) react to what the
  engine did without the engine knowing they exist. They subscribe to a Bus
  by event type and receive concrete structs, never untyped maps.

EVENTS:
  goal.status_changed   GoalStatusChanged  pending->active, pause, resume, complete
  streak.updated        StreakUpdated      any change to a StreakRecord
  streak.broken         StreakBroken       a running streak dropped (current>0 -> reset/0)

  StreakBroken is published right after the StreakUpdated that caused it.

DELIVERY:
  Published only after the transaction that produced them committed. A
  rolled-back operation publishes nothing.
*/
package events

import (
	"time"

	"github.com/warp/streak-engine/goal"
)

// Type names an event.
type Type string

const (
	TypeGoalStatusChanged Type = "goal.status_changed"
	TypeStreakUpdated     Type = "streak.updated"
	TypeStreakBroken      Type = "streak.broken"
)

// Event is implemented by every published event.
type Event interface {
	EventType() Type
	OccurredAt() time.Time
	// AggregateID is the goal the event belongs to.
	AggregateID() string
}

// Base holds the fields every event shares.
type Base struct {
	Type   Type        `json:"type"`
	At     time.Time   `json:"at"`
	GoalID goal.GoalID `json:"goal_id"`
}

func (b Base) EventType() Type { return b.Type }

func (b Base) OccurredAt() time.Time { return b.At }

func (b Base) AggregateID() string { return string(b.GoalID) }

// GoalStatusChanged is published on every lifecycle transition.
type GoalStatusChanged struct {
	Base
	From goal.Status `json:"from"`
	To   goal.Status `json:"to"`
}

func NewGoalStatusChanged(goalID goal.GoalID, from, to goal.Status, at time.Time) GoalStatusChanged {
	return GoalStatusChanged{
		Base: Base{Type: TypeGoalStatusChanged, At: at, GoalID: goalID},
		From: from,
		To:   to,
	}
}

// StreakUpdated is published whenever a StreakRecord changes. UserID is empty
// for the group record.
type StreakUpdated struct {
	Base
	UserID     goal.UserID     `json:"user_id,omitempty"`
	StreakType goal.StreakType `json:"streak_type"`
	Current    int             `json:"current"`
	Longest    int             `json:"longest"`
	Total      int             `json:"total"`
	Broke      bool            `json:"broke"`
	Outcome    string          `json:"outcome"`
}

// StreakBroken is published when a running streak ends.
type StreakBroken struct {
	Base
	UserID     goal.UserID     `json:"user_id,omitempty"`
	StreakType goal.StreakType `json:"streak_type"`
	// Lost is the streak length that ended.
	Lost    int `json:"lost"`
	Longest int `json:"longest"`
}
