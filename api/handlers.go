/*
handlers.go - HTTP API handlers for the goal and streak engine

PURPOSE:
  Exposes the tracker service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to tracker.Service for every operation.

ENDPOINTS:
  Goals:
    POST   /api/goals                       Create goal with activities
    GET    /api/goals?status=active         List goals by stored status
    GET    /api/goals/{id}                  Goal, activities and members
    PATCH  /api/goals/{id}                  Edit title/start date (edit window)
    DELETE /api/goals/{id}                  Delete (delete window)
    GET    /api/goals/{id}/permissions      canEdit/canDelete/canUpdateActivities
    POST   /api/goals/{id}/pause            Pause (owner)
    POST   /api/goals/{id}/resume           Resume (owner)
    POST   /api/goals/{id}/complete         Complete (owner, terminal)

  Members and activities:
    POST   /api/goals/{id}/members          Invite a user
    POST   /api/goals/{id}/members/accept   Accept the caller's invitation
    POST   /api/goals/{id}/activities       Add an activity

  Streaks:
    POST   /api/activities/{id}/complete    Record today's completion
    DELETE /api/activities/{id}/complete    Retract today's completion
    POST   /api/goals/{id}/freeze           Spend a freeze on today
    GET    /api/goals/{id}/streaks          Every record of the goal
    GET    /api/goals/{id}/streak           One record (?user_id=, ?shared=true)

  Admin:
    POST   /api/admin/sweep                 Run the lifecycle/missed-day sweep

IDENTITY:
  The caller is read from the X-User-ID header (see middleware.go). A
  missing header surfaces as goal.ErrNotAuthenticated from the tracker.

ERROR HANDLING:
  Errors are returned as JSON with a status chosen by statusFor:
  - 400: Invalid goal shape, malformed body
  - 401: Not authenticated
  - 403: Not assigned, not permitted
  - 404: Goal, activity, streak or completion not found
  - 409: Edit/delete window closed, invalid transition, concurrent modification
  - 422: No freeze remaining, freeze not needed, activities locked
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/jobs"
	"github.com/warp/streak-engine/tracker"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Tracker *tracker.Service
	Sweeper *jobs.Sweeper // nil disables /api/admin/sweep
	Logger  *slog.Logger
}

// NewHandler creates a handler over svc. sw may be nil.
func NewHandler(svc *tracker.Service, sw *jobs.Sweeper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Tracker: svc, Sweeper: sw, Logger: logger}
}

// =============================================================================
// GOAL HANDLERS
// =============================================================================

// CreateGoal creates a goal owned by the caller.
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req CreateGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := h.Tracker.CreateGoal(r.Context(), UserFrom(r.Context()), req.toNewGoal())
	if err != nil {
		h.fail(w, r, "Failed to create goal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalDetailsDTO(d))
}

// ListGoals lists goals by stored status (default active).
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	status := goal.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = goal.StatusActive
	}

	goals, err := h.Tracker.ListGoals(r.Context(), status)
	if err != nil {
		h.fail(w, r, "Failed to list goals", err)
		return
	}

	g := h.Tracker.Guard()
	now := h.Tracker.Now()
	dtos := make([]GoalDTO, len(goals))
	for i, gl := range goals {
		dtos[i] = toGoalDTO(gl, g.DeriveStatus(gl, now))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGoal returns a goal with its activities and members.
func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Tracker.GetGoal(r.Context(), goalParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get goal", err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDetailsDTO(d))
}

// EditGoal applies the fields present in the body.
func (h *Handler) EditGoal(w http.ResponseWriter, r *http.Request) {
	var req EditGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.Tracker.EditGoal(r.Context(), UserFrom(r.Context()), goalParam(r), tracker.GoalEdit{
		Title:          req.Title,
		StartDate:      req.StartDate,
		ClearStartDate: req.ClearStartDate,
	})
	if err != nil {
		h.fail(w, r, "Failed to edit goal", err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(g, h.Tracker.Guard().DeriveStatus(g, h.Tracker.Now())))
}

// DeleteGoal deletes a goal and everything under it.
func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.DeleteGoal(r.Context(), UserFrom(r.Context()), goalParam(r)); err != nil {
		h.fail(w, r, "Failed to delete goal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPermissions reports what the lifecycle guard allows right now.
func (h *Handler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	p, err := h.Tracker.Permissions(r.Context(), goalParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get permissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toPermissionsDTO(p))
}

func (h *Handler) PauseGoal(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.Tracker.Pause)
}

func (h *Handler) ResumeGoal(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.Tracker.Resume)
}

func (h *Handler) CompleteGoal(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", h.Tracker.CompleteGoal)
}

type transitionFunc func(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (goal.Goal, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn transitionFunc) {
	g, err := fn(r.Context(), UserFrom(r.Context()), goalParam(r))
	if err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to %s goal", action), err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalDTO(g, h.Tracker.Guard().DeriveStatus(g, h.Tracker.Now())))
}

// =============================================================================
// MEMBER AND ACTIVITY HANDLERS
// =============================================================================

// InviteMember invites a user to the goal.
func (h *Handler) InviteMember(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	m, err := h.Tracker.InviteMember(r.Context(), UserFrom(r.Context()), goalParam(r), goal.UserID(req.UserID))
	if err != nil {
		h.fail(w, r, "Failed to invite member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// AcceptMember accepts the caller's pending invitation.
func (h *Handler) AcceptMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Tracker.AcceptMember(r.Context(), UserFrom(r.Context()), goalParam(r))
	if err != nil {
		h.fail(w, r, "Failed to accept invitation", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

// AddActivity adds an activity to the goal.
func (h *Handler) AddActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Tracker.AddActivity(r.Context(), UserFrom(r.Context()), goalParam(r), req.toNewActivity())
	if err != nil {
		h.fail(w, r, "Failed to add activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityDTO(a))
}

// =============================================================================
// STREAK HANDLERS
// =============================================================================

// CompleteActivity records today's completion for the caller. A repeated
// call on the same day answers 200 with already_completed set.
func (h *Handler) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activityID := goal.ActivityID(chi.URLParam(r, "id"))

	a, err := h.Tracker.GetActivity(ctx, activityID)
	if err != nil {
		h.fail(w, r, "Failed to record completion", err)
		return
	}

	res, err := h.Tracker.RecordCompletion(ctx, UserFrom(ctx), a.GoalID, activityID)
	if err != nil {
		h.fail(w, r, "Failed to record completion", err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, toCompletionResultDTO(res))
}

// UncompleteActivity retracts today's completion. ?user_id= defaults to
// the caller; retracting for someone else requires goal ownership.
func (h *Handler) UncompleteActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := UserFrom(ctx)
	target := goal.UserID(r.URL.Query().Get("user_id"))
	if target == "" {
		target = caller
	}

	res, err := h.Tracker.Uncomplete(ctx, caller, goal.ActivityID(chi.URLParam(r, "id")), target)
	if err != nil {
		h.fail(w, r, "Failed to retract completion", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionResultDTO(res))
}

// UseFreeze spends one of the caller's freezes on today. A broken streak
// (current 0) cannot be frozen.
func (h *Handler) UseFreeze(w http.ResponseWriter, r *http.Request) {
	res, err := h.Tracker.UseFreeze(r.Context(), UserFrom(r.Context()), goalParam(r))
	if err != nil {
		h.fail(w, r, "Failed to use freeze", err)
		return
	}
	writeJSON(w, http.StatusOK, FreezeResultDTO{Remaining: res.Remaining, Streak: toStreakDTO(res.Record)})
}

// ListStreaks returns every record of the goal.
func (h *Handler) ListStreaks(w http.ResponseWriter, r *http.Request) {
	records, err := h.Tracker.ListStreaks(r.Context(), goalParam(r))
	if err != nil {
		h.fail(w, r, "Failed to list streaks", err)
		return
	}

	dtos := make([]StreakDTO, len(records))
	for i, rec := range records {
		dtos[i] = toStreakDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStreak returns one record: the shared one with ?shared=true, else the
// personal record of ?user_id= (default: the caller).
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := goal.UserID(q.Get("user_id"))

	shared := false
	if v := q.Get("shared"); v != "" {
		var err error
		if shared, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid shared flag", err)
			return
		}
	}
	switch {
	case shared:
		userID = ""
	case userID == "":
		userID = UserFrom(r.Context())
		if userID == "" {
			h.fail(w, r, "Failed to get streak", goal.ErrNotAuthenticated)
			return
		}
	}

	rec, err := h.Tracker.GetStreak(r.Context(), goalParam(r), userID)
	if err != nil {
		h.fail(w, r, "Failed to get streak", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreakDTO(rec))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs one sweep synchronously.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "Sweeper not configured", nil)
		return
	}

	rep := h.Sweeper.RunNow(r.Context())
	days := make([]string, len(rep.DaysSwept))
	for i, d := range rep.DaysSwept {
		days[i] = d.String()
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{
		Promoted: rep.Promoted,
		Days:     days,
		Changes:  rep.Changes,
		Broken:   rep.Broken,
		Failures: rep.Failures,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func goalParam(r *http.Request) goal.GoalID {
	return goal.GoalID(chi.URLParam(r, "id"))
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, goal.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case goal.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, goal.ErrNotAssigned), errors.Is(err, goal.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, goal.ErrEditWindowClosed),
		errors.Is(err, goal.ErrDeleteWindowClosed),
		errors.Is(err, goal.ErrInvalidTransition),
		errors.Is(err, goal.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, goal.ErrNoFreezeRemaining),
		errors.Is(err, goal.ErrFreezeNotNeeded),
		errors.Is(err, goal.ErrNoStreakToFreeze),
		errors.Is(err, goal.ErrActivitiesLocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, goal.ErrInvalidGoal):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged; the
// client sees only the message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "error", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
