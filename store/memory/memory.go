// Package memory provides an in-memory goal.TxStore for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a goal.TxStore. Every call outside a transaction takes the lock;
// inside WithTx the callback works on the unlocked data directly.
type Memory struct {
	mu   sync.RWMutex
	data *data
}

func New() *Memory {
	return &Memory{data: newData()}
}

type completionKey struct {
	ActivityID goal.ActivityID
	UserID     goal.UserID
	Day        int
}

type memberKey struct {
	GoalID goal.GoalID
	UserID goal.UserID
}

type data struct {
	goals       map[goal.GoalID]goal.Goal
	members     map[memberKey]goal.Member
	activities  map[goal.ActivityID]goal.Activity
	completions map[completionKey]goal.Completion
	streaks     map[goal.StreakKey]goal.StreakRecord
	freezes     []goal.FreezeUse
}

func newData() *data {
	return &data{
		goals:       make(map[goal.GoalID]goal.Goal),
		members:     make(map[memberKey]goal.Member),
		activities:  make(map[goal.ActivityID]goal.Activity),
		completions: make(map[completionKey]goal.Completion),
		streaks:     make(map[goal.StreakKey]goal.StreakRecord),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.goals {
		c.goals[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	for k, v := range d.activities {
		c.activities[k] = v
	}
	for k, v := range d.completions {
		c.completions[k] = v
	}
	for k, v := range d.streaks {
		c.streaks[k] = v
	}
	c.freezes = append([]goal.FreezeUse(nil), d.freezes...)
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error. Transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(goal.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKED ACCESSORS - goal.Store on Memory
// =============================================================================

func (m *Memory) write(fn func(*data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) CreateGoal(ctx context.Context, g goal.Goal) error {
	return m.write(func(d *data) error { return d.CreateGoal(ctx, g) })
}

func (m *Memory) GetGoal(ctx context.Context, id goal.GoalID) (goal.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetGoal(ctx, id)
}

func (m *Memory) UpdateGoal(ctx context.Context, g goal.Goal) error {
	return m.write(func(d *data) error { return d.UpdateGoal(ctx, g) })
}

func (m *Memory) DeleteGoal(ctx context.Context, id goal.GoalID) error {
	return m.write(func(d *data) error { return d.DeleteGoal(ctx, id) })
}

// LockGoal only checks existence: transactions already hold the store lock.
func (m *Memory) LockGoal(ctx context.Context, id goal.GoalID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LockGoal(ctx, id)
}

func (m *Memory) ListGoalsByStatus(ctx context.Context, status goal.Status) ([]goal.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListGoalsByStatus(ctx, status)
}

func (m *Memory) SaveMember(ctx context.Context, mem goal.Member) error {
	return m.write(func(d *data) error { return d.SaveMember(ctx, mem) })
}

func (m *Memory) ListMembers(ctx context.Context, goalID goal.GoalID) ([]goal.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListMembers(ctx, goalID)
}

func (m *Memory) CreateActivity(ctx context.Context, a goal.Activity) error {
	return m.write(func(d *data) error { return d.CreateActivity(ctx, a) })
}

func (m *Memory) GetActivity(ctx context.Context, id goal.ActivityID) (goal.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetActivity(ctx, id)
}

func (m *Memory) ListActivities(ctx context.Context, goalID goal.GoalID) ([]goal.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListActivities(ctx, goalID)
}

func (m *Memory) InsertCompletion(ctx context.Context, c goal.Completion) error {
	return m.write(func(d *data) error { return d.InsertCompletion(ctx, c) })
}

func (m *Memory) CompletionExists(ctx context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.CompletionExists(ctx, activityID, userID, day)
}

func (m *Memory) DeleteCompletion(ctx context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) error {
	return m.write(func(d *data) error { return d.DeleteCompletion(ctx, activityID, userID, day) })
}

func (m *Memory) ListCompletionsOn(ctx context.Context, goalID goal.GoalID, day calendar.Day) ([]goal.Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCompletionsOn(ctx, goalID, day)
}

func (m *Memory) ListCompletions(ctx context.Context, goalID goal.GoalID, userID goal.UserID) ([]goal.Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCompletions(ctx, goalID, userID)
}

func (m *Memory) GetStreak(ctx context.Context, key goal.StreakKey) (goal.StreakRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetStreak(ctx, key)
}

func (m *Memory) ListStreaks(ctx context.Context, goalID goal.GoalID) ([]goal.StreakRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListStreaks(ctx, goalID)
}

func (m *Memory) SaveStreak(ctx context.Context, rec goal.StreakRecord) (goal.StreakRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveStreak(ctx, rec)
}

func (m *Memory) RecordFreeze(ctx context.Context, f goal.FreezeUse) error {
	return m.write(func(d *data) error { return d.RecordFreeze(ctx, f) })
}

func (m *Memory) ListFreezes(ctx context.Context, key goal.StreakKey) ([]goal.FreezeUse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListFreezes(ctx, key)
}

// =============================================================================
// DATA - goal.Store without locking (the transactional view)
// =============================================================================

func (d *data) CreateGoal(_ context.Context, g goal.Goal) error {
	if _, ok := d.goals[g.ID]; ok {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	d.goals[g.ID] = g
	return nil
}

func (d *data) GetGoal(_ context.Context, id goal.GoalID) (goal.Goal, error) {
	g, ok := d.goals[id]
	if !ok {
		return goal.Goal{}, goal.ErrGoalNotFound
	}
	return g, nil
}

func (d *data) LockGoal(_ context.Context, id goal.GoalID) error {
	if _, ok := d.goals[id]; !ok {
		return goal.ErrGoalNotFound
	}
	return nil
}

func (d *data) UpdateGoal(_ context.Context, g goal.Goal) error {
	if _, ok := d.goals[g.ID]; !ok {
		return goal.ErrGoalNotFound
	}
	d.goals[g.ID] = g
	return nil
}

// DeleteGoal removes the goal and every row that belongs to it.
func (d *data) DeleteGoal(_ context.Context, id goal.GoalID) error {
	if _, ok := d.goals[id]; !ok {
		return goal.ErrGoalNotFound
	}
	delete(d.goals, id)
	for k := range d.members {
		if k.GoalID == id {
			delete(d.members, k)
		}
	}
	for k, a := range d.activities {
		if a.GoalID == id {
			delete(d.activities, k)
		}
	}
	for k, c := range d.completions {
		if c.GoalID == id {
			delete(d.completions, k)
		}
	}
	for k := range d.streaks {
		if k.GoalID == id {
			delete(d.streaks, k)
		}
	}
	kept := d.freezes[:0]
	for _, f := range d.freezes {
		if f.GoalID != id {
			kept = append(kept, f)
		}
	}
	d.freezes = kept
	return nil
}

func (d *data) ListGoalsByStatus(_ context.Context, status goal.Status) ([]goal.Goal, error) {
	var out []goal.Goal
	for _, g := range d.goals {
		if g.Status == status {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *data) SaveMember(_ context.Context, m goal.Member) error {
	if _, ok := d.goals[m.GoalID]; !ok {
		return goal.ErrGoalNotFound
	}
	d.members[memberKey{GoalID: m.GoalID, UserID: m.UserID}] = m
	return nil
}

func (d *data) ListMembers(_ context.Context, goalID goal.GoalID) ([]goal.Member, error) {
	var out []goal.Member
	for k, m := range d.members {
		if k.GoalID == goalID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (d *data) CreateActivity(_ context.Context, a goal.Activity) error {
	if _, ok := d.goals[a.GoalID]; !ok {
		return goal.ErrGoalNotFound
	}
	if err := a.Validate(); err != nil {
		return err
	}
	d.activities[a.ID] = a
	return nil
}

func (d *data) GetActivity(_ context.Context, id goal.ActivityID) (goal.Activity, error) {
	a, ok := d.activities[id]
	if !ok {
		return goal.Activity{}, goal.ErrActivityNotFound
	}
	return a, nil
}

func (d *data) ListActivities(_ context.Context, goalID goal.GoalID) ([]goal.Activity, error) {
	var out []goal.Activity
	for _, a := range d.activities {
		if a.GoalID == goalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *data) InsertCompletion(_ context.Context, c goal.Completion) error {
	k := completionKey{ActivityID: c.ActivityID, UserID: c.UserID, Day: c.Day.Index()}
	if _, ok := d.completions[k]; ok {
		return goal.ErrDuplicateCompletion
	}
	d.completions[k] = c
	return nil
}

func (d *data) CompletionExists(_ context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) (bool, error) {
	_, ok := d.completions[completionKey{ActivityID: activityID, UserID: userID, Day: day.Index()}]
	return ok, nil
}

func (d *data) DeleteCompletion(_ context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) error {
	k := completionKey{ActivityID: activityID, UserID: userID, Day: day.Index()}
	if _, ok := d.completions[k]; !ok {
		return goal.ErrCompletionNotFound
	}
	delete(d.completions, k)
	return nil
}

func (d *data) ListCompletionsOn(_ context.Context, goalID goal.GoalID, day calendar.Day) ([]goal.Completion, error) {
	var out []goal.Completion
	for k, c := range d.completions {
		if c.GoalID == goalID && k.Day == day.Index() {
			out = append(out, c)
		}
	}
	sortCompletions(out)
	return out, nil
}

func (d *data) ListCompletions(_ context.Context, goalID goal.GoalID, userID goal.UserID) ([]goal.Completion, error) {
	var out []goal.Completion
	for _, c := range d.completions {
		if c.GoalID == goalID && c.UserID == userID {
			out = append(out, c)
		}
	}
	sortCompletions(out)
	return out, nil
}

func sortCompletions(cs []goal.Completion) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Day.Equal(cs[j].Day) {
			return cs[i].Day.Before(cs[j].Day)
		}
		if !cs[i].CompletedAt.Equal(cs[j].CompletedAt) {
			return cs[i].CompletedAt.Before(cs[j].CompletedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func (d *data) GetStreak(_ context.Context, key goal.StreakKey) (goal.StreakRecord, error) {
	rec, ok := d.streaks[key]
	if !ok {
		return goal.StreakRecord{}, goal.ErrStreakNotFound
	}
	return rec, nil
}

func (d *data) ListStreaks(_ context.Context, goalID goal.GoalID) ([]goal.StreakRecord, error) {
	var out []goal.StreakRecord
	for k, rec := range d.streaks {
		if k.GoalID == goalID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// SaveStreak enforces the optimistic version: the stored record must still be
// at rec.Version (absent for Version 0).
func (d *data) SaveStreak(_ context.Context, rec goal.StreakRecord) (goal.StreakRecord, error) {
	current, exists := d.streaks[rec.StreakKey]
	switch {
	case rec.Version == 0 && exists:
		return goal.StreakRecord{}, goal.ErrConcurrentModification
	case rec.Version > 0 && (!exists || current.Version != rec.Version):
		return goal.StreakRecord{}, goal.ErrConcurrentModification
	}
	rec.Version++
	d.streaks[rec.StreakKey] = rec
	return rec, nil
}

func (d *data) RecordFreeze(_ context.Context, f goal.FreezeUse) error {
	d.freezes = append(d.freezes, f)
	return nil
}

func (d *data) ListFreezes(_ context.Context, key goal.StreakKey) ([]goal.FreezeUse, error) {
	var out []goal.FreezeUse
	for _, f := range d.freezes {
		if f.GoalID == key.GoalID && f.UserID == key.UserID && f.StreakType == key.Type {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

var (
	_ goal.TxStore = (*Memory)(nil)
	_ goal.Store   = (*data)(nil)
)
