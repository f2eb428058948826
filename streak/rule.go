/*
Package streak turns completion events into continuity metrics.

rule.go - The continuity rule, as pure functions over StreakRecord values

PURPOSE:
  Everything that changes the numbers in a StreakRecord goes through a Rule.
  A Rule knows the period length (day or week) and the freeze allowance for
  new records; it never reads or writes storage.

CONTINUITY RULE:
  gap = periodIndex(today) - periodIndex(last_activity_date)

  no prior record  -> current = 1, longest = 1           (first_completion)
  gap == 0, frozen -> current += 1                        (continued)
  gap <= 0         -> no change                           (unchanged)
  gap == 1         -> current += 1                        (continued)
  gap >= 2         -> current = 1                         (reset)

  Every completion that is not "unchanged" also sets
  longest = max(longest, current), total += 1, last = today.

MISSED PERIOD SIGNAL:
  Reported for a period that ended without a completion. With gap >= 1 it
  forces current = 0 and leaves total alone.

FREEZE:
  Spends one freeze_uses_remaining, sets last = today so the next gap treats
  today as covered. current and total are unchanged. The record remembers
  that last was frozen: a real completion later in the same period still
  counts. A broken streak (current 0, or the previous period uncovered)
  cannot be frozen.

SEE ALSO:
  - engine.go: Loads records, picks the rule per streak type, persists
  - replay.go: Rebuilds a record from the completion ledger
*/
package streak

import (
	"fmt"
	"time"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// DefaultFreezeAllowance is the number of freezes a new record starts with.
const DefaultFreezeAllowance = 1

// Outcome says how a single rule application changed a record.
type Outcome string

const (
	OutcomeFirstCompletion Outcome = "first_completion"
	OutcomeContinued       Outcome = "continued"
	OutcomeReset           Outcome = "reset"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeMissed          Outcome = "missed"
	OutcomeFrozen          Outcome = "frozen"
)

// Changed reports whether the outcome altered the record.
func (o Outcome) Changed() bool { return o != OutcomeUnchanged }

// Change is the result of applying the rule to one record.
type Change struct {
	Record   goal.StreakRecord
	Previous goal.StreakRecord
	Outcome  Outcome
	// Broke is true when a running streak (current > 0) ended.
	Broke bool
}

// =============================================================================
// RULE
// =============================================================================

// Rule applies the continuity rule at a fixed granularity.
type Rule struct {
	Calendar        calendar.Calendar
	Granularity     calendar.Granularity
	FreezeAllowance int
}

// Gap returns the number of periods between last and today. ok is false when
// there is no last activity.
func (r Rule) Gap(last *calendar.Day, today calendar.Day) (gap int, ok bool) {
	if last == nil || last.IsZero() {
		return 0, false
	}
	return r.Calendar.PeriodIndex(today, r.Granularity) - r.Calendar.PeriodIndex(*last, r.Granularity), true
}

// Complete applies a successful completion on today. prev is nil when no
// record exists yet for key.
func (r Rule) Complete(prev *goal.StreakRecord, key goal.StreakKey, today calendar.Day) Change {
	if prev == nil {
		rec := goal.StreakRecord{
			StreakKey:           key,
			CurrentStreak:       1,
			LongestStreak:       1,
			TotalCompletions:    1,
			LastActivityDate:    dayPtr(today),
			FreezeUsesRemaining: r.FreezeAllowance,
		}
		return Change{Record: rec, Previous: goal.StreakRecord{StreakKey: key}, Outcome: OutcomeFirstCompletion}
	}

	rec := *prev
	change := Change{Previous: *prev}

	gap, ok := r.Gap(prev.LastActivityDate, today)
	switch {
	case !ok:
		rec.CurrentStreak = 1
		change.Outcome = OutcomeFirstCompletion
	case gap == 0 && prev.LastDayFrozen:
		rec.CurrentStreak++
		change.Outcome = OutcomeContinued
	case gap <= 0:
		change.Record = rec
		change.Outcome = OutcomeUnchanged
		return change
	case gap == 1:
		rec.CurrentStreak++
		change.Outcome = OutcomeContinued
	default:
		change.Broke = prev.CurrentStreak > 0
		rec.CurrentStreak = 1
		change.Outcome = OutcomeReset
	}

	if rec.CurrentStreak > rec.LongestStreak {
		rec.LongestStreak = rec.CurrentStreak
	}
	rec.TotalCompletions++
	rec.LastActivityDate = dayPtr(today)
	rec.LastDayFrozen = false

	change.Record = rec
	return change
}

// Miss applies a missed-period signal for day. A missing record is left
// missing: there is no streak to break.
func (r Rule) Miss(prev *goal.StreakRecord, day calendar.Day) Change {
	if prev == nil {
		return Change{Outcome: OutcomeUnchanged}
	}
	rec := *prev
	change := Change{Record: rec, Previous: *prev, Outcome: OutcomeUnchanged}

	gap, ok := r.Gap(prev.LastActivityDate, day)
	if !ok || gap < 1 || prev.CurrentStreak == 0 {
		return change
	}

	rec.CurrentStreak = 0
	change.Record = rec
	change.Outcome = OutcomeMissed
	change.Broke = true
	return change
}

// Freeze spends one freeze on today.
func (r Rule) Freeze(prev *goal.StreakRecord, today calendar.Day) (Change, error) {
	if prev == nil {
		return Change{}, goal.ErrStreakNotFound
	}
	if r.brokenBefore(prev, today) {
		return Change{}, fmt.Errorf("streak %s on %s: %w", prev.StreakKey, today, goal.ErrNoStreakToFreeze)
	}
	if prev.FreezeUsesRemaining <= 0 {
		return Change{}, fmt.Errorf("streak %s: %w", prev.StreakKey, goal.ErrNoFreezeRemaining)
	}
	if gap, ok := r.Gap(prev.LastActivityDate, today); ok && gap <= 0 {
		return Change{}, fmt.Errorf("streak %s on %s: %w", prev.StreakKey, today, goal.ErrFreezeNotNeeded)
	}

	rec := *prev
	rec.FreezeUsesRemaining--
	rec.LastActivityDate = dayPtr(today)
	rec.LastDayFrozen = true
	return Change{Record: rec, Previous: *prev, Outcome: OutcomeFrozen}, nil
}

// brokenBefore reports whether prev has no running streak left on day: it is
// already at zero, or the period before day went uncovered.
func (r Rule) brokenBefore(prev *goal.StreakRecord, day calendar.Day) bool {
	if prev.CurrentStreak == 0 {
		return true
	}
	gap, ok := r.Gap(prev.LastActivityDate, day)
	return ok && gap >= 2
}

// =============================================================================
// RULE SELECTION
// =============================================================================

// RuleFor returns the rule for a streak type on goal g. Seasonal records run
// on weeks; shared records always run on days.
func RuleFor(cal calendar.Calendar, freezeAllowance int, t goal.StreakType) Rule {
	r := Rule{Calendar: cal, Granularity: calendar.GranularityDay, FreezeAllowance: freezeAllowance}
	switch t {
	case goal.StreakSeasonal:
		r.Granularity = calendar.GranularityWeek
	case goal.StreakGroup, goal.StreakPartner:
		r.FreezeAllowance = 0
	}
	return r
}

func dayPtr(d calendar.Day) *calendar.Day { return &d }

func stamp(rec goal.StreakRecord, now time.Time) goal.StreakRecord {
	rec.UpdatedAt = now.UTC()
	return rec
}
