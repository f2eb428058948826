/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Goals:       GoalDTO, GoalDetailsDTO, PermissionsDTO, CreateGoalRequest,
               EditGoalRequest
  Activities:  ActivityDTO, ActivityRequest
  Members:     MemberDTO, InviteRequest
  Streaks:     StreakDTO, StreakChangeDTO, CompletionResultDTO, FreezeResultDTO

DATES:
  Calendar days are "YYYY-MM-DD"; timestamps are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/streak"
	"github.com/warp/streak-engine/tracker"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ActivityRequest struct {
	Title         string  `json:"title"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
	AssignedToAll bool    `json:"assigned_to_all"`
}

type CreateGoalRequest struct {
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Cadence    string            `json:"cadence,omitempty"`
	Sharing    string            `json:"sharing,omitempty"`
	StartDate  *calendar.Day     `json:"start_date,omitempty"`
	Activities []ActivityRequest `json:"activities"`
}

// EditGoalRequest changes only the fields present.
type EditGoalRequest struct {
	Title          *string       `json:"title,omitempty"`
	StartDate      *calendar.Day `json:"start_date,omitempty"`
	ClearStartDate bool          `json:"clear_start_date,omitempty"`
}

type InviteRequest struct {
	UserID string `json:"user_id"`
}

func (r ActivityRequest) toNewActivity() tracker.NewActivity {
	na := tracker.NewActivity{Title: r.Title, AssignedToAll: r.AssignedToAll}
	if r.AssignedTo != nil {
		u := goal.UserID(*r.AssignedTo)
		na.AssignedTo = &u
	}
	return na
}

func (r CreateGoalRequest) toNewGoal() tracker.NewGoal {
	ng := tracker.NewGoal{
		Title:     r.Title,
		Type:      goal.Type(r.Type),
		Cadence:   goal.Cadence(r.Cadence),
		Sharing:   goal.Sharing(r.Sharing),
		StartDate: r.StartDate,
	}
	for _, a := range r.Activities {
		ng.Activities = append(ng.Activities, a.toNewActivity())
	}
	return ng
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type GoalDTO struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Title        string        `json:"title"`
	Type         string        `json:"type"`
	Cadence      string        `json:"cadence,omitempty"`
	Sharing      string        `json:"sharing"`
	Status       string        `json:"status"`
	StoredStatus string        `json:"stored_status"`
	StartDate    *calendar.Day `json:"start_date,omitempty"`
	CreatedAt    string        `json:"created_at"`
	CompletedAt  *string       `json:"completed_at,omitempty"`
	UpdatedAt    string        `json:"updated_at"`
}

type ActivityDTO struct {
	ID            string  `json:"id"`
	GoalID        string  `json:"goal_id"`
	Title         string  `json:"title"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
	AssignedToAll bool    `json:"assigned_to_all"`
	CreatedAt     string  `json:"created_at"`
}

type MemberDTO struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Accepted bool   `json:"accepted"`
	JoinedAt string `json:"joined_at"`
}

type GoalDetailsDTO struct {
	Goal       GoalDTO       `json:"goal"`
	Activities []ActivityDTO `json:"activities"`
	Members    []MemberDTO   `json:"members"`
}

type PermissionsDTO struct {
	Status              string `json:"status"`
	CanEdit             bool   `json:"can_edit"`
	CanDelete           bool   `json:"can_delete"`
	CanUpdateActivities bool   `json:"can_update_activities"`
	EditDeadline        string `json:"edit_deadline,omitempty"`
}

type StreakDTO struct {
	GoalID              string        `json:"goal_id"`
	UserID              string        `json:"user_id,omitempty"`
	Type                string        `json:"streak_type"`
	CurrentStreak       int           `json:"current_streak"`
	LongestStreak       int           `json:"longest_streak"`
	TotalCompletions    int           `json:"total_completions"`
	LastActivityDate    *calendar.Day `json:"last_activity_date,omitempty"`
	FreezeUsesRemaining int           `json:"freeze_uses_remaining"`
	LastDayFrozen       bool          `json:"last_day_frozen"`
	Version             int           `json:"version"`
	UpdatedAt           string        `json:"updated_at,omitempty"`
}

type StreakChangeDTO struct {
	Streak  StreakDTO `json:"streak"`
	Outcome string    `json:"outcome"`
	Broke   bool      `json:"broke"`
}

type CompletionDTO struct {
	ID          string       `json:"id"`
	GoalID      string       `json:"goal_id"`
	ActivityID  string       `json:"activity_id"`
	UserID      string       `json:"user_id"`
	Day         calendar.Day `json:"day"`
	CompletedAt string       `json:"completed_at"`
}

type CompletionResultDTO struct {
	AlreadyCompleted bool              `json:"already_completed"`
	Completion       *CompletionDTO    `json:"completion,omitempty"`
	Changes          []StreakChangeDTO `json:"changes"`
}

type FreezeResultDTO struct {
	Remaining int       `json:"remaining"`
	Streak    StreakDTO `json:"streak"`
}

type SweepResultDTO struct {
	Promoted int      `json:"promoted"`
	Days     []string `json:"days"`
	Changes  int      `json:"changes"`
	Broken   int      `json:"broken"`
	Failures int      `json:"failures"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toGoalDTO(g goal.Goal, derived goal.Status) GoalDTO {
	dto := GoalDTO{
		ID:           string(g.ID),
		OwnerID:      string(g.OwnerID),
		Title:        g.Title,
		Type:         string(g.Type()),
		Cadence:      string(goal.CadenceOf(g.Kind)),
		Sharing:      string(g.Sharing),
		Status:       string(derived),
		StoredStatus: string(g.Status),
		StartDate:    g.StartDate,
		CreatedAt:    formatTime(g.CreatedAt),
		UpdatedAt:    formatTime(g.UpdatedAt),
	}
	if g.CompletedAt != nil {
		s := formatTime(*g.CompletedAt)
		dto.CompletedAt = &s
	}
	return dto
}

func toActivityDTO(a goal.Activity) ActivityDTO {
	dto := ActivityDTO{
		ID:            string(a.ID),
		GoalID:        string(a.GoalID),
		Title:         a.Title,
		AssignedToAll: a.AssignedToAll,
		CreatedAt:     formatTime(a.CreatedAt),
	}
	if a.AssignedTo != nil {
		s := string(*a.AssignedTo)
		dto.AssignedTo = &s
	}
	return dto
}

func toMemberDTO(m goal.Member) MemberDTO {
	return MemberDTO{
		UserID:   string(m.UserID),
		Role:     string(m.Role),
		Accepted: m.Accepted,
		JoinedAt: formatTime(m.JoinedAt),
	}
}

func toGoalDetailsDTO(d tracker.GoalDetails) GoalDetailsDTO {
	out := GoalDetailsDTO{
		Goal:       toGoalDTO(d.Goal, d.Status),
		Activities: make([]ActivityDTO, 0, len(d.Activities)),
		Members:    make([]MemberDTO, 0, len(d.Members)),
	}
	for _, a := range d.Activities {
		out.Activities = append(out.Activities, toActivityDTO(a))
	}
	for _, m := range d.Members {
		out.Members = append(out.Members, toMemberDTO(m))
	}
	return out
}

func toPermissionsDTO(p tracker.Permissions) PermissionsDTO {
	dto := PermissionsDTO{
		Status:              string(p.Status),
		CanEdit:             p.CanEdit,
		CanDelete:           p.CanDelete,
		CanUpdateActivities: p.CanUpdateActivities,
	}
	if !p.EditDeadline.IsZero() {
		dto.EditDeadline = formatTime(p.EditDeadline)
	}
	return dto
}

func toStreakDTO(r goal.StreakRecord) StreakDTO {
	dto := StreakDTO{
		GoalID:              string(r.GoalID),
		UserID:              string(r.UserID),
		Type:                string(r.Type),
		CurrentStreak:       r.CurrentStreak,
		LongestStreak:       r.LongestStreak,
		TotalCompletions:    r.TotalCompletions,
		LastActivityDate:    r.LastActivityDate,
		FreezeUsesRemaining: r.FreezeUsesRemaining,
		LastDayFrozen:       r.LastDayFrozen,
		Version:             r.Version,
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTime(r.UpdatedAt)
	}
	return dto
}

func toChangeDTOs(changes []streak.Change) []StreakChangeDTO {
	out := make([]StreakChangeDTO, 0, len(changes))
	for _, c := range changes {
		out = append(out, StreakChangeDTO{
			Streak:  toStreakDTO(c.Record),
			Outcome: string(c.Outcome),
			Broke:   c.Broke,
		})
	}
	return out
}

func toCompletionResultDTO(res tracker.CompletionResult) CompletionResultDTO {
	dto := CompletionResultDTO{
		AlreadyCompleted: res.AlreadyCompleted,
		Changes:          toChangeDTOs(res.Changes),
	}
	if res.Completion.ID != "" {
		c := res.Completion
		dto.Completion = &CompletionDTO{
			ID:          c.ID,
			GoalID:      string(c.GoalID),
			ActivityID:  string(c.ActivityID),
			UserID:      string(c.UserID),
			Day:         c.Day,
			CompletedAt: formatTime(c.CompletedAt),
		}
	}
	return dto
}
