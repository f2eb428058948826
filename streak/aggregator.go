/*
aggregator.go - Collective success for shared goals

PURPOSE:
  Turns one day of completions across all accepted members into a single
  boolean the continuity rule can consume.

ALGORITHM:
  for each accepted member:
      assigned  = activities assigned to them (directly or to all)
      completed = assigned activities they completed on day
      succeeded = assigned > 0 and completed == assigned
  ratio   = succeeded / considered
  success = considered >= MinMembers and ratio >= Threshold   (inclusive)

  Members with no assigned activities are not "considered": they can neither
  help nor hurt the ratio.

THRESHOLDS:
  group:   0.80, at least 1 member  (4 of 5 succeeds, 3 of 4 does not)
  partner: 1.00, at least 2 members (both partners, every activity)

  Ratios use decimal arithmetic so the 0.80 boundary is exact.
*/
package streak

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// Threshold is the collective success condition.
type Threshold struct {
	Ratio      decimal.Decimal
	MinMembers int
}

// GroupThreshold is the default for group goals.
func GroupThreshold() Threshold {
	return Threshold{Ratio: decimal.RequireFromString("0.80"), MinMembers: 1}
}

// PartnerThreshold is the default for partner goals.
func PartnerThreshold() Threshold {
	return Threshold{Ratio: decimal.NewFromInt(1), MinMembers: 2}
}

// MemberResult is one member's day.
type MemberResult struct {
	UserID    goal.UserID
	Assigned  int
	Completed int
	Succeeded bool
}

// DayResult is the aggregated outcome of one day.
type DayResult struct {
	GoalID     goal.GoalID
	Day        calendar.Day
	Members    []MemberResult
	Considered int
	Succeeded  int
	Ratio      decimal.Decimal
	Success    bool
}

// Aggregator evaluates shared goals. It is stateless.
type Aggregator struct{}

// EvaluateDay computes the collective result for goalID on day.
func (Aggregator) EvaluateDay(ctx context.Context, s goal.Store, goalID goal.GoalID, day calendar.Day, th Threshold) (DayResult, error) {
	res := DayResult{GoalID: goalID, Day: day, Ratio: decimal.Zero}

	members, err := s.ListMembers(ctx, goalID)
	if err != nil {
		return res, fmt.Errorf("list members: %w", err)
	}
	activities, err := s.ListActivities(ctx, goalID)
	if err != nil {
		return res, fmt.Errorf("list activities: %w", err)
	}
	completions, err := s.ListCompletionsOn(ctx, goalID, day)
	if err != nil {
		return res, fmt.Errorf("list completions: %w", err)
	}

	done := make(map[goal.UserID]map[goal.ActivityID]bool)
	for _, c := range completions {
		if done[c.UserID] == nil {
			done[c.UserID] = make(map[goal.ActivityID]bool)
		}
		done[c.UserID][c.ActivityID] = true
	}

	for _, m := range goal.AcceptedMembers(members) {
		mr := MemberResult{UserID: m.UserID}
		for _, a := range activities {
			if !a.IsAssignedTo(m.UserID) {
				continue
			}
			mr.Assigned++
			if done[m.UserID][a.ID] {
				mr.Completed++
			}
		}
		if mr.Assigned == 0 {
			// Nothing to succeed at: outside the denominator.
			res.Members = append(res.Members, mr)
			continue
		}
		mr.Succeeded = mr.Completed == mr.Assigned
		res.Considered++
		if mr.Succeeded {
			res.Succeeded++
		}
		res.Members = append(res.Members, mr)
	}

	if res.Considered == 0 {
		return res, nil
	}
	res.Ratio = decimal.NewFromInt(int64(res.Succeeded)).Div(decimal.NewFromInt(int64(res.Considered)))
	res.Success = res.Considered >= th.MinMembers && res.Ratio.GreaterThanOrEqual(th.Ratio)
	return res, nil
}
