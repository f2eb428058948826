/*
engine.go - StreakEngine: picks the records a goal maintains and applies the rule

PURPOSE:
  The engine runs inside a caller's transaction. Every method receives the
  transactional goal.Store and performs "read prior record, compute, write"
  for each affected record. It never commits, retries or emits events: that
  belongs to the caller (tracker.Service), which sees the returned Changes.

RECORDS PER GOAL:
  every goal    personal record per participant
                  individual  (day granularity)
                  seasonal    (week granularity, weekly recurring goals)
  group goal    one collective record, UserID empty
  partner goal  one shared partner record, keyed by the owner's id

  Shared records advance only when the Aggregator reports success for the
  day. A failed day is left alone until the missed-day sweep reports it.
  Aggregation runs under Store.LockGoal.

SEE ALSO:
  - rule.go: The continuity rule
  - aggregator.go: Collective success
*/
package streak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// Engine applies continuity rules against a store.
type Engine struct {
	Calendar         calendar.Calendar
	FreezeAllowance  int
	Aggregator       Aggregator
	GroupThreshold   Threshold
	PartnerThreshold Threshold
	Logger           *slog.Logger
}

// NewEngine returns an engine with the default thresholds and allowance.
func NewEngine(cal calendar.Calendar, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Calendar:         cal,
		FreezeAllowance:  DefaultFreezeAllowance,
		GroupThreshold:   GroupThreshold(),
		PartnerThreshold: PartnerThreshold(),
		Logger:           logger,
	}
}

// PersonalKey is the per-user record key for g.
func PersonalKey(g goal.Goal, userID goal.UserID) goal.StreakKey {
	return goal.StreakKey{GoalID: g.ID, UserID: userID, Type: g.PersonalStreakType()}
}

// SharedKey is the collective record key for g, if it has one.
func SharedKey(g goal.Goal) (goal.StreakKey, bool) {
	switch g.Sharing {
	case goal.SharingGroup:
		return goal.StreakKey{GoalID: g.ID, Type: goal.StreakGroup}, true
	case goal.SharingPartner:
		return goal.StreakKey{GoalID: g.ID, UserID: g.OwnerID, Type: goal.StreakPartner}, true
	}
	return goal.StreakKey{}, false
}

func (e *Engine) rule(t goal.StreakType) Rule {
	return RuleFor(e.Calendar, e.FreezeAllowance, t)
}

func (e *Engine) threshold(g goal.Goal) Threshold {
	if g.Sharing == goal.SharingPartner {
		return e.PartnerThreshold
	}
	return e.GroupThreshold
}

// =============================================================================
// COMPLETION
// =============================================================================

// OnCompletion applies a recorded completion by userID on day. It returns the
// changes that altered a record; unchanged records are not written.
func (e *Engine) OnCompletion(ctx context.Context, s goal.Store, g goal.Goal, userID goal.UserID, day calendar.Day, now time.Time) ([]Change, error) {
	var changes []Change

	key := PersonalKey(g, userID)
	prev, err := load(ctx, s, key)
	if err != nil {
		return nil, err
	}
	c, err := e.persist(ctx, s, e.rule(key.Type).Complete(prev, key, day), now)
	if err != nil {
		return nil, err
	}
	changes = appendChanged(changes, c)

	shared, err := e.evaluateShared(ctx, s, g, day, now, false)
	if err != nil {
		return nil, err
	}
	return appendChanged(changes, shared), nil
}

// =============================================================================
// MISSED DAY
// =============================================================================

// OnMissedDay reports that day has ended. Personal records not covered on day
// are broken; weekly records only when day closes their week. Shared records
// are decided by the aggregator: success catches up a completion, failure
// breaks the streak.
func (e *Engine) OnMissedDay(ctx context.Context, s goal.Store, g goal.Goal, day calendar.Day, now time.Time) ([]Change, error) {
	records, err := s.ListStreaks(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}

	var changes []Change
	for i := range records {
		rec := records[i]
		if rec.Type != goal.StreakIndividual && rec.Type != goal.StreakSeasonal {
			continue
		}
		r := e.rule(rec.Type)
		if !e.Calendar.ClosesPeriod(day, r.Granularity) {
			continue
		}
		c, err := e.persist(ctx, s, r.Miss(&rec, day), now)
		if err != nil {
			return nil, err
		}
		changes = appendChanged(changes, c)
	}

	shared, err := e.evaluateShared(ctx, s, g, day, now, true)
	if err != nil {
		return nil, err
	}
	return appendChanged(changes, shared), nil
}

// evaluateShared advances the collective record on success; on failure it
// breaks it only when dayOver is set. The goal stays locked until the
// caller's transaction ends, so concurrent members aggregate one at a time
// and the last of them sees every completion.
func (e *Engine) evaluateShared(ctx context.Context, s goal.Store, g goal.Goal, day calendar.Day, now time.Time, dayOver bool) (Change, error) {
	key, ok := SharedKey(g)
	if !ok {
		return Change{Outcome: OutcomeUnchanged}, nil
	}
	if err := s.LockGoal(ctx, g.ID); err != nil {
		return Change{}, fmt.Errorf("lock shared streak %s: %w", key, err)
	}

	res, err := e.Aggregator.EvaluateDay(ctx, s, g.ID, day, e.threshold(g))
	if err != nil {
		return Change{}, err
	}
	e.Logger.DebugContext(ctx, "shared day evaluated",
		"goal_id", g.ID, "day", day.String(), "type", key.Type,
		"succeeded", res.Succeeded, "considered", res.Considered,
		"ratio", res.Ratio.String(), "success", res.Success)

	if !res.Success && !dayOver {
		return Change{Outcome: OutcomeUnchanged}, nil
	}

	prev, err := load(ctx, s, key)
	if err != nil {
		return Change{}, err
	}
	r := e.rule(key.Type)
	if res.Success {
		return e.persist(ctx, s, r.Complete(prev, key, day), now)
	}
	return e.persist(ctx, s, r.Miss(prev, day), now)
}

// =============================================================================
// FREEZE
// =============================================================================

// UseFreeze spends one of userID's freezes on day and records the use.
func (e *Engine) UseFreeze(ctx context.Context, s goal.Store, g goal.Goal, userID goal.UserID, day calendar.Day, now time.Time) (Change, error) {
	key := PersonalKey(g, userID)
	prev, err := load(ctx, s, key)
	if err != nil {
		return Change{}, err
	}
	if prev == nil {
		return Change{}, fmt.Errorf("streak %s: %w", key, goal.ErrStreakNotFound)
	}

	c, err := e.rule(key.Type).Freeze(prev, day)
	if err != nil {
		return Change{}, err
	}
	c, err = e.persist(ctx, s, c, now)
	if err != nil {
		return Change{}, err
	}

	use := goal.FreezeUse{
		ID:         uuid.NewString(),
		GoalID:     g.ID,
		UserID:     userID,
		StreakType: key.Type,
		Day:        day,
		UsedAt:     now.UTC(),
	}
	if err := s.RecordFreeze(ctx, use); err != nil {
		return Change{}, fmt.Errorf("record freeze: %w", err)
	}
	return c, nil
}

// =============================================================================
// REBUILD
// =============================================================================

// Rebuild recomputes userID's personal record from the ledger as of today.
// Used after a completion is retracted. A user with no record and no
// completions is left without one.
func (e *Engine) Rebuild(ctx context.Context, s goal.Store, g goal.Goal, userID goal.UserID, today calendar.Day, now time.Time) (Change, error) {
	key := PersonalKey(g, userID)
	prev, err := load(ctx, s, key)
	if err != nil {
		return Change{}, err
	}

	completions, err := s.ListCompletions(ctx, g.ID, userID)
	if err != nil {
		return Change{}, fmt.Errorf("list completions: %w", err)
	}
	if prev == nil && len(completions) == 0 {
		return Change{Outcome: OutcomeUnchanged}, nil
	}
	freezes, err := s.ListFreezes(ctx, key)
	if err != nil {
		return Change{}, fmt.Errorf("list freezes: %w", err)
	}

	base := goal.StreakRecord{StreakKey: key, FreezeUsesRemaining: e.FreezeAllowance}
	if prev != nil {
		base = *prev
	}

	r := e.rule(key.Type)
	rebuilt := r.Replay(base, completionDays(completions), freezeDays(freezes), today)

	c := Change{Record: rebuilt, Outcome: OutcomeReset}
	if prev != nil {
		c.Previous = *prev
		if sameCounters(*prev, rebuilt) {
			c.Outcome = OutcomeUnchanged
			return c, nil
		}
		c.Broke = prev.CurrentStreak > 0 && rebuilt.CurrentStreak == 0
	}
	return e.persist(ctx, s, c, now)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) persist(ctx context.Context, s goal.Store, c Change, now time.Time) (Change, error) {
	if !c.Outcome.Changed() {
		return c, nil
	}
	rec := stamp(c.Record, now)
	if err := rec.Validate(); err != nil {
		return Change{}, err
	}
	saved, err := s.SaveStreak(ctx, rec)
	if err != nil {
		return Change{}, fmt.Errorf("save streak %s: %w", rec.StreakKey, err)
	}
	c.Record = saved
	e.Logger.DebugContext(ctx, "streak updated",
		"key", saved.StreakKey.String(), "outcome", c.Outcome,
		"current", saved.CurrentStreak, "longest", saved.LongestStreak,
		"total", saved.TotalCompletions, "broke", c.Broke)
	return c, nil
}

func load(ctx context.Context, s goal.Store, key goal.StreakKey) (*goal.StreakRecord, error) {
	rec, err := s.GetStreak(ctx, key)
	if errors.Is(err, goal.ErrStreakNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load streak %s: %w", key, err)
	}
	return &rec, nil
}

func appendChanged(changes []Change, c Change) []Change {
	if c.Outcome.Changed() {
		return append(changes, c)
	}
	return changes
}

func completionDays(cs []goal.Completion) []calendar.Day {
	seen := make(map[int]bool, len(cs))
	out := make([]calendar.Day, 0, len(cs))
	for _, c := range cs {
		if !seen[c.Day.Index()] {
			seen[c.Day.Index()] = true
			out = append(out, c.Day)
		}
	}
	return out
}

func freezeDays(fs []goal.FreezeUse) []calendar.Day {
	out := make([]calendar.Day, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Day)
	}
	return out
}

func sameCounters(a, b goal.StreakRecord) bool {
	sameDay := (a.LastActivityDate == nil && b.LastActivityDate == nil) ||
		(a.LastActivityDate != nil && b.LastActivityDate != nil && a.LastActivityDate.Equal(*b.LastActivityDate))
	return sameDay &&
		a.LastDayFrozen == b.LastDayFrozen &&
		a.CurrentStreak == b.CurrentStreak &&
		a.LongestStreak == b.LongestStreak &&
		a.TotalCompletions == b.TotalCompletions
}
