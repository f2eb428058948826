package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// queries implements goal.Store on a *sqlx.DB or a *sqlx.Tx.
type queries struct {
	x sqlx.ExtContext
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.x.ExecContext(ctx, q.x.Rebind(query), args...)
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.x, dest, q.x.Rebind(query), args...)
}

func (q *queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.x, dest, q.x.Rebind(query), args...)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// =============================================================================
// GOALS
// =============================================================================

type goalRow struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Title       string         `db:"title"`
	GoalType    string         `db:"goal_type"`
	Cadence     string         `db:"cadence"`
	Sharing     string         `db:"sharing"`
	Status      string         `db:"status"`
	StartDate   sql.NullString `db:"start_date"`
	CreatedAt   string         `db:"created_at"`
	CompletedAt sql.NullString `db:"completed_at"`
	UpdatedAt   string         `db:"updated_at"`
}

const goalColumns = `id, owner_id, title, goal_type, cadence, sharing, status, start_date, created_at, completed_at, updated_at`

func (r goalRow) toGoal() (goal.Goal, error) {
	kind, err := goal.NewKind(goal.Type(r.GoalType), goal.Cadence(r.Cadence))
	if err != nil {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", r.ID, err)
	}
	start, err := parseNullDay(r.StartDate)
	if err != nil {
		return goal.Goal{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	completed, err := parseNullTime(r.CompletedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	return goal.Goal{
		ID:          goal.GoalID(r.ID),
		OwnerID:     goal.UserID(r.OwnerID),
		Title:       r.Title,
		Kind:        kind,
		Sharing:     goal.Sharing(r.Sharing),
		Status:      goal.Status(r.Status),
		StartDate:   start,
		CreatedAt:   created,
		CompletedAt: completed,
		UpdatedAt:   updated,
	}, nil
}

func (q *queries) CreateGoal(ctx context.Context, g goal.Goal) error {
	_, err := q.exec(ctx, `INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OwnerID, g.Title, g.Type(), goal.CadenceOf(g.Kind), g.Sharing, g.Status,
		nullDay(g.StartDate), formatTime(g.CreatedAt), nullTime(g.CompletedAt), formatTime(g.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (q *queries) GetGoal(ctx context.Context, id goal.GoalID) (goal.Goal, error) {
	var row goalRow
	err := q.get(ctx, &row, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, goal.ErrGoalNotFound
	}
	if err != nil {
		return goal.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return row.toGoal()
}

// LockGoal row-locks the goal on Postgres. FOR NO KEY UPDATE leaves the key
// share locks taken by completion inserts alone. SQLite runs one writer at
// a time, so there only existence is checked.
func (q *queries) LockGoal(ctx context.Context, id goal.GoalID) error {
	query := `SELECT id FROM goals WHERE id = ?`
	if q.x.DriverName() == DriverPostgres {
		query += ` FOR NO KEY UPDATE`
	}
	var got string
	err := q.get(ctx, &got, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.ErrGoalNotFound
	}
	if isBusy(err) {
		return fmt.Errorf("lock goal %s: %w", id, goal.ErrConcurrentModification)
	}
	if err != nil {
		return fmt.Errorf("lock goal: %w", err)
	}
	return nil
}

func (q *queries) UpdateGoal(ctx context.Context, g goal.Goal) error {
	res, err := q.exec(ctx, `UPDATE goals
		SET title = ?, goal_type = ?, cadence = ?, sharing = ?, status = ?, start_date = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		g.Title, g.Type(), goal.CadenceOf(g.Kind), g.Sharing, g.Status,
		nullDay(g.StartDate), nullTime(g.CompletedAt), formatTime(g.UpdatedAt), g.ID)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return goal.ErrGoalNotFound
	}
	return nil
}

// DeleteGoal removes child rows first so it does not depend on the foreign
// key pragma being enabled.
func (q *queries) DeleteGoal(ctx context.Context, id goal.GoalID) error {
	for _, table := range []string{"freeze_uses", "streaks", "completions", "activities", "goal_members"} {
		if _, err := q.exec(ctx, `DELETE FROM `+table+` WHERE goal_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := q.exec(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return goal.ErrGoalNotFound
	}
	return nil
}

func (q *queries) ListGoalsByStatus(ctx context.Context, status goal.Status) ([]goal.Goal, error) {
	var rows []goalRow
	if err := q.sel(ctx, &rows, `SELECT `+goalColumns+` FROM goals WHERE status = ? ORDER BY created_at, id`, status); err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	out := make([]goal.Goal, 0, len(rows))
	for _, r := range rows {
		g, err := r.toGoal()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

type memberRow struct {
	GoalID   string `db:"goal_id"`
	UserID   string `db:"user_id"`
	Role     string `db:"role"`
	Accepted bool   `db:"accepted"`
	JoinedAt string `db:"joined_at"`
}

// SaveMember inserts or replaces the membership row.
func (q *queries) SaveMember(ctx context.Context, m goal.Member) error {
	if _, err := q.GetGoal(ctx, m.GoalID); err != nil {
		return err
	}
	_, err := q.exec(ctx, `INSERT INTO goal_members (goal_id, user_id, role, accepted, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (goal_id, user_id) DO UPDATE
		SET role = excluded.role, accepted = excluded.accepted, joined_at = excluded.joined_at`,
		m.GoalID, m.UserID, m.Role, m.Accepted, formatTime(m.JoinedAt))
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (q *queries) ListMembers(ctx context.Context, goalID goal.GoalID) ([]goal.Member, error) {
	var rows []memberRow
	if err := q.sel(ctx, &rows, `SELECT goal_id, user_id, role, accepted, joined_at
		FROM goal_members WHERE goal_id = ? ORDER BY joined_at, user_id`, goalID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]goal.Member, 0, len(rows))
	for _, r := range rows {
		joined, err := parseTime(r.JoinedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, goal.Member{
			GoalID:   goal.GoalID(r.GoalID),
			UserID:   goal.UserID(r.UserID),
			Role:     goal.Role(r.Role),
			Accepted: r.Accepted,
			JoinedAt: joined,
		})
	}
	return out, nil
}

// =============================================================================
// ACTIVITIES
// =============================================================================

type activityRow struct {
	ID            string         `db:"id"`
	GoalID        string         `db:"goal_id"`
	Title         string         `db:"title"`
	AssignedTo    sql.NullString `db:"assigned_to"`
	AssignedToAll bool           `db:"assigned_to_all"`
	CreatedAt     string         `db:"created_at"`
}

const activityColumns = `id, goal_id, title, assigned_to, assigned_to_all, created_at`

func (r activityRow) toActivity() (goal.Activity, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return goal.Activity{}, err
	}
	a := goal.Activity{
		ID:            goal.ActivityID(r.ID),
		GoalID:        goal.GoalID(r.GoalID),
		Title:         r.Title,
		AssignedToAll: r.AssignedToAll,
		CreatedAt:     created,
	}
	if r.AssignedTo.Valid {
		u := goal.UserID(r.AssignedTo.String)
		a.AssignedTo = &u
	}
	return a, nil
}

func (q *queries) CreateActivity(ctx context.Context, a goal.Activity) error {
	if _, err := q.GetGoal(ctx, a.GoalID); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	var assigned sql.NullString
	if a.AssignedTo != nil {
		assigned = sql.NullString{String: string(*a.AssignedTo), Valid: true}
	}
	_, err := q.exec(ctx, `INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.GoalID, a.Title, assigned, a.AssignedToAll, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (q *queries) GetActivity(ctx context.Context, id goal.ActivityID) (goal.Activity, error) {
	var row activityRow
	err := q.get(ctx, &row, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Activity{}, goal.ErrActivityNotFound
	}
	if err != nil {
		return goal.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return row.toActivity()
}

func (q *queries) ListActivities(ctx context.Context, goalID goal.GoalID) ([]goal.Activity, error) {
	var rows []activityRow
	if err := q.sel(ctx, &rows, `SELECT `+activityColumns+` FROM activities WHERE goal_id = ? ORDER BY created_at, id`, goalID); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]goal.Activity, 0, len(rows))
	for _, r := range rows {
		a, err := r.toActivity()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// =============================================================================
// COMPLETIONS
// =============================================================================

type completionRow struct {
	ID          string `db:"id"`
	GoalID      string `db:"goal_id"`
	ActivityID  string `db:"activity_id"`
	UserID      string `db:"user_id"`
	Day         string `db:"day"`
	CompletedAt string `db:"completed_at"`
}

const completionColumns = `id, goal_id, activity_id, user_id, day, completed_at`

func (r completionRow) toCompletion() (goal.Completion, error) {
	day, err := calendar.ParseDay(r.Day)
	if err != nil {
		return goal.Completion{}, err
	}
	at, err := parseTime(r.CompletedAt)
	if err != nil {
		return goal.Completion{}, err
	}
	return goal.Completion{
		ID:          r.ID,
		GoalID:      goal.GoalID(r.GoalID),
		ActivityID:  goal.ActivityID(r.ActivityID),
		UserID:      goal.UserID(r.UserID),
		Day:         day,
		CompletedAt: at,
	}, nil
}

func toCompletions(rows []completionRow) ([]goal.Completion, error) {
	out := make([]goal.Completion, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCompletion()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// InsertCompletion returns goal.ErrDuplicateCompletion when the key exists.
func (q *queries) InsertCompletion(ctx context.Context, c goal.Completion) error {
	res, err := q.exec(ctx, `INSERT INTO completions (`+completionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (activity_id, user_id, day) DO NOTHING`,
		c.ID, c.GoalID, c.ActivityID, c.UserID, c.Day.String(), formatTime(c.CompletedAt))
	if isUniqueViolation(err) {
		return goal.ErrDuplicateCompletion
	}
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return goal.ErrDuplicateCompletion
	}
	return nil
}

func (q *queries) CompletionExists(ctx context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) (bool, error) {
	var n int
	err := q.get(ctx, &n, `SELECT COUNT(*) FROM completions WHERE activity_id = ? AND user_id = ? AND day = ?`,
		activityID, userID, day.String())
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	return n > 0, nil
}

func (q *queries) DeleteCompletion(ctx context.Context, activityID goal.ActivityID, userID goal.UserID, day calendar.Day) error {
	res, err := q.exec(ctx, `DELETE FROM completions WHERE activity_id = ? AND user_id = ? AND day = ?`,
		activityID, userID, day.String())
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return goal.ErrCompletionNotFound
	}
	return nil
}

func (q *queries) ListCompletionsOn(ctx context.Context, goalID goal.GoalID, day calendar.Day) ([]goal.Completion, error) {
	var rows []completionRow
	if err := q.sel(ctx, &rows, `SELECT `+completionColumns+` FROM completions
		WHERE goal_id = ? AND day = ? ORDER BY completed_at, id`, goalID, day.String()); err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return toCompletions(rows)
}

func (q *queries) ListCompletions(ctx context.Context, goalID goal.GoalID, userID goal.UserID) ([]goal.Completion, error) {
	var rows []completionRow
	if err := q.sel(ctx, &rows, `SELECT `+completionColumns+` FROM completions
		WHERE goal_id = ? AND user_id = ? ORDER BY day, completed_at, id`, goalID, userID); err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return toCompletions(rows)
}

// =============================================================================
// STREAKS
// =============================================================================

type streakRow struct {
	GoalID              string         `db:"goal_id"`
	UserID              string         `db:"user_id"`
	StreakType          string         `db:"streak_type"`
	CurrentStreak       int            `db:"current_streak"`
	LongestStreak       int            `db:"longest_streak"`
	TotalCompletions    int            `db:"total_completions"`
	LastActivityDate    sql.NullString `db:"last_activity_date"`
	FreezeUsesRemaining int            `db:"freeze_uses_remaining"`
	LastDayFrozen       bool           `db:"last_day_frozen"`
	Version             int            `db:"version"`
	UpdatedAt           string         `db:"updated_at"`
}

const streakColumns = `goal_id, user_id, streak_type, current_streak, longest_streak, total_completions,
	last_activity_date, freeze_uses_remaining, last_day_frozen, version, updated_at`

func (r streakRow) toRecord() (goal.StreakRecord, error) {
	last, err := parseNullDay(r.LastActivityDate)
	if err != nil {
		return goal.StreakRecord{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return goal.StreakRecord{}, err
	}
	return goal.StreakRecord{
		StreakKey: goal.StreakKey{
			GoalID: goal.GoalID(r.GoalID),
			UserID: goal.UserID(r.UserID),
			Type:   goal.StreakType(r.StreakType),
		},
		CurrentStreak:       r.CurrentStreak,
		LongestStreak:       r.LongestStreak,
		TotalCompletions:    r.TotalCompletions,
		LastActivityDate:    last,
		FreezeUsesRemaining: r.FreezeUsesRemaining,
		LastDayFrozen:       r.LastDayFrozen,
		Version:             r.Version,
		UpdatedAt:           updated,
	}, nil
}

func (q *queries) GetStreak(ctx context.Context, key goal.StreakKey) (goal.StreakRecord, error) {
	var row streakRow
	err := q.get(ctx, &row, `SELECT `+streakColumns+` FROM streaks
		WHERE goal_id = ? AND user_id = ? AND streak_type = ?`, key.GoalID, key.UserID, key.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.StreakRecord{}, goal.ErrStreakNotFound
	}
	if err != nil {
		return goal.StreakRecord{}, fmt.Errorf("get streak: %w", err)
	}
	return row.toRecord()
}

func (q *queries) ListStreaks(ctx context.Context, goalID goal.GoalID) ([]goal.StreakRecord, error) {
	var rows []streakRow
	if err := q.sel(ctx, &rows, `SELECT `+streakColumns+` FROM streaks
		WHERE goal_id = ? ORDER BY streak_type, user_id`, goalID); err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	out := make([]goal.StreakRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveStreak inserts a new record (Version 0) or updates the row still at
// rec.Version. Anything else is goal.ErrConcurrentModification.
func (q *queries) SaveStreak(ctx context.Context, rec goal.StreakRecord) (goal.StreakRecord, error) {
	next := rec
	next.Version = rec.Version + 1

	if rec.Version == 0 {
		_, err := q.exec(ctx, `INSERT INTO streaks (`+streakColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.GoalID, rec.UserID, rec.Type, rec.CurrentStreak, rec.LongestStreak, rec.TotalCompletions,
			nullDay(rec.LastActivityDate), rec.FreezeUsesRemaining, rec.LastDayFrozen, next.Version, formatTime(rec.UpdatedAt))
		if isUniqueViolation(err) {
			return goal.StreakRecord{}, goal.ErrConcurrentModification
		}
		if err != nil {
			return goal.StreakRecord{}, fmt.Errorf("insert streak: %w", err)
		}
		return next, nil
	}

	res, err := q.exec(ctx, `UPDATE streaks
		SET current_streak = ?, longest_streak = ?, total_completions = ?, last_activity_date = ?,
		    freeze_uses_remaining = ?, last_day_frozen = ?, version = ?, updated_at = ?
		WHERE goal_id = ? AND user_id = ? AND streak_type = ? AND version = ?`,
		rec.CurrentStreak, rec.LongestStreak, rec.TotalCompletions, nullDay(rec.LastActivityDate),
		rec.FreezeUsesRemaining, rec.LastDayFrozen, next.Version, formatTime(rec.UpdatedAt),
		rec.GoalID, rec.UserID, rec.Type, rec.Version)
	if err != nil {
		return goal.StreakRecord{}, fmt.Errorf("update streak: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return goal.StreakRecord{}, err
	}
	if n == 0 {
		return goal.StreakRecord{}, goal.ErrConcurrentModification
	}
	return next, nil
}

// =============================================================================
// FREEZES
// =============================================================================

type freezeRow struct {
	ID         string `db:"id"`
	GoalID     string `db:"goal_id"`
	UserID     string `db:"user_id"`
	StreakType string `db:"streak_type"`
	Day        string `db:"day"`
	UsedAt     string `db:"used_at"`
}

func (q *queries) RecordFreeze(ctx context.Context, f goal.FreezeUse) error {
	_, err := q.exec(ctx, `INSERT INTO freeze_uses (id, goal_id, user_id, streak_type, day, used_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.GoalID, f.UserID, f.StreakType, f.Day.String(), formatTime(f.UsedAt))
	if err != nil {
		return fmt.Errorf("insert freeze use: %w", err)
	}
	return nil
}

func (q *queries) ListFreezes(ctx context.Context, key goal.StreakKey) ([]goal.FreezeUse, error) {
	var rows []freezeRow
	if err := q.sel(ctx, &rows, `SELECT id, goal_id, user_id, streak_type, day, used_at FROM freeze_uses
		WHERE goal_id = ? AND user_id = ? AND streak_type = ? ORDER BY day, used_at`,
		key.GoalID, key.UserID, key.Type); err != nil {
		return nil, fmt.Errorf("list freezes: %w", err)
	}
	out := make([]goal.FreezeUse, 0, len(rows))
	for _, r := range rows {
		day, err := calendar.ParseDay(r.Day)
		if err != nil {
			return nil, err
		}
		used, err := parseTime(r.UsedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, goal.FreezeUse{
			ID:         r.ID,
			GoalID:     goal.GoalID(r.GoalID),
			UserID:     goal.UserID(r.UserID),
			StreakType: goal.StreakType(r.StreakType),
			Day:        day,
			UsedAt:     used,
		})
	}
	return out, nil
}

var _ goal.Store = (*queries)(nil)
