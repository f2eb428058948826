package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type NewActivity struct {
	Title         string
	AssignedTo    *goal.UserID
	AssignedToAll bool
}

type NewGoal struct {
	Title      string
	Type       goal.Type
	Cadence    goal.Cadence
	Sharing    goal.Sharing
	StartDate  *calendar.Day
	Activities []NewActivity
}

// GoalEdit changes the fields that are set. ClearStartDate removes the
// start date.
type GoalEdit struct {
	Title          *string
	StartDate      *calendar.Day
	ClearStartDate bool
}

// Permissions is the lifecycle guard's answer for one goal at one instant.
type Permissions struct {
	Status              goal.Status
	CanEdit             bool
	CanDelete           bool
	CanUpdateActivities bool
	EditDeadline        time.Time
}

// GoalDetails is a goal with its derived status and child rows.
type GoalDetails struct {
	Goal       goal.Goal
	Status     goal.Status
	Activities []goal.Activity
	Members    []goal.Member
}

// =============================================================================
// QUERIES
// =============================================================================

// GetGoal returns the goal with its activities and members.
func (s *Service) GetGoal(ctx context.Context, goalID goal.GoalID) (GoalDetails, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return GoalDetails{}, err
	}
	activities, err := s.store.ListActivities(ctx, goalID)
	if err != nil {
		return GoalDetails{}, err
	}
	members, err := s.store.ListMembers(ctx, goalID)
	if err != nil {
		return GoalDetails{}, err
	}
	return GoalDetails{
		Goal:       g,
		Status:     s.guard.DeriveStatus(g, s.clock.Now()),
		Activities: activities,
		Members:    members,
	}, nil
}

// ListGoals returns goals by stored status.
func (s *Service) ListGoals(ctx context.Context, status goal.Status) ([]goal.Goal, error) {
	return s.store.ListGoalsByStatus(ctx, status)
}

// GetActivity returns one activity.
func (s *Service) GetActivity(ctx context.Context, activityID goal.ActivityID) (goal.Activity, error) {
	return s.store.GetActivity(ctx, activityID)
}

// Permissions evaluates deriveStatus, canEdit, canDelete and
// canUpdateActivities for the goal now.
func (s *Service) Permissions(ctx context.Context, goalID goal.GoalID) (Permissions, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return Permissions{}, err
	}
	now := s.clock.Now()
	return Permissions{
		Status:              s.guard.DeriveStatus(g, now),
		CanEdit:             s.guard.CanEdit(g, now),
		CanDelete:           s.guard.CanDelete(g, now),
		CanUpdateActivities: s.guard.CanUpdateActivities(g, now),
		EditDeadline:        s.guard.EditDeadline(g, now),
	}, nil
}

// =============================================================================
// GOAL LIFECYCLE
// =============================================================================

// CreateGoal creates a goal owned by userID, its activities and the owner's
// accepted membership.
func (s *Service) CreateGoal(ctx context.Context, userID goal.UserID, req NewGoal) (GoalDetails, error) {
	if userID == "" {
		return GoalDetails{}, goal.ErrNotAuthenticated
	}
	kind, err := goal.NewKind(req.Type, req.Cadence)
	if err != nil {
		return GoalDetails{}, err
	}
	sharing := req.Sharing
	if sharing == "" {
		sharing = goal.SharingSolo
	}

	now := s.clock.Now().UTC()
	g := goal.Goal{
		ID:        goal.GoalID(uuid.NewString()),
		OwnerID:   userID,
		Title:     req.Title,
		Kind:      kind,
		Sharing:   sharing,
		Status:    goal.StatusActive,
		StartDate: req.StartDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.guard.DeriveStatus(g, now) == goal.StatusPending {
		g.Status = goal.StatusPending
	}
	if err := g.Validate(len(req.Activities)); err != nil {
		return GoalDetails{}, err
	}

	activities := make([]goal.Activity, 0, len(req.Activities))
	for _, na := range req.Activities {
		a := goal.Activity{
			ID:            goal.ActivityID(uuid.NewString()),
			GoalID:        g.ID,
			Title:         na.Title,
			AssignedTo:    na.AssignedTo,
			AssignedToAll: na.AssignedToAll,
			CreatedAt:     now,
		}
		if err := a.Validate(); err != nil {
			return GoalDetails{}, err
		}
		activities = append(activities, a)
	}
	owner := goal.Member{GoalID: g.ID, UserID: userID, Role: goal.RoleOwner, Accepted: true, JoinedAt: now}

	err = s.inTx(ctx, "create_goal", func(tx goal.Store) error {
		if err := tx.CreateGoal(ctx, g); err != nil {
			return err
		}
		if err := tx.SaveMember(ctx, owner); err != nil {
			return err
		}
		for _, a := range activities {
			if err := tx.CreateActivity(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoalDetails{}, err
	}

	s.logger.InfoContext(ctx, "goal created", "goal_id", g.ID, "owner", userID, "type", g.Type(), "status", g.Status)
	return GoalDetails{Goal: g, Status: g.Status, Activities: activities, Members: []goal.Member{owner}}, nil
}

// EditGoal applies edit while the edit window is open.
func (s *Service) EditGoal(ctx context.Context, userID goal.UserID, goalID goal.GoalID, edit GoalEdit) (goal.Goal, error) {
	now := s.clock.Now().UTC()
	var before, after goal.Goal

	err := s.inTx(ctx, "edit_goal", func(tx goal.Store) error {
		g, err := s.ownedGoal(ctx, tx, goalID, userID)
		if err != nil {
			return err
		}
		if err := s.guard.CheckEdit(g, now); err != nil {
			return err
		}
		before = g

		if edit.Title != nil {
			g.Title = *edit.Title
		}
		if edit.ClearStartDate {
			g.StartDate = nil
		} else if edit.StartDate != nil {
			g.StartDate = edit.StartDate
		}
		switch s.guard.DeriveStatus(g, now) {
		case goal.StatusPending:
			g.Status = goal.StatusPending
		default:
			if g.Status == goal.StatusPending {
				g.Status = goal.StatusActive
			}
		}
		g.UpdatedAt = now

		activities, err := tx.ListActivities(ctx, g.ID)
		if err != nil {
			return err
		}
		if err := g.Validate(len(activities)); err != nil {
			return err
		}
		after = g
		return tx.UpdateGoal(ctx, g)
	})
	if err != nil {
		return goal.Goal{}, err
	}

	s.publish(ctx, statusEvent(before, after, now))
	return after, nil
}

// DeleteGoal removes the goal while the delete window is open.
func (s *Service) DeleteGoal(ctx context.Context, userID goal.UserID, goalID goal.GoalID) error {
	now := s.clock.Now()
	err := s.inTx(ctx, "delete_goal", func(tx goal.Store) error {
		g, err := s.ownedGoal(ctx, tx, goalID, userID)
		if err != nil {
			return err
		}
		if err := s.guard.CheckDelete(g, now); err != nil {
			return err
		}
		return tx.DeleteGoal(ctx, goalID)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "goal deleted", "goal_id", goalID, "by", userID)
	return nil
}

// Pause moves an active goal to paused.
func (s *Service) Pause(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (goal.Goal, error) {
	return s.transition(ctx, "pause_goal", userID, goalID, goal.StatusPaused)
}

// Resume moves a paused goal back to active.
func (s *Service) Resume(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (goal.Goal, error) {
	return s.transition(ctx, "resume_goal", userID, goalID, goal.StatusActive)
}

// CompleteGoal marks the goal completed. Completed is terminal.
func (s *Service) CompleteGoal(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (goal.Goal, error) {
	return s.transition(ctx, "complete_goal", userID, goalID, goal.StatusCompleted)
}

func (s *Service) transition(ctx context.Context, op string, userID goal.UserID, goalID goal.GoalID, to goal.Status) (goal.Goal, error) {
	now := s.clock.Now().UTC()
	var before, after goal.Goal

	err := s.inTx(ctx, op, func(tx goal.Store) error {
		g, err := s.ownedGoal(ctx, tx, goalID, userID)
		if err != nil {
			return err
		}
		next, err := s.guard.Transition(g, to, now)
		if err != nil {
			return err
		}
		before, after = g, next
		return tx.UpdateGoal(ctx, next)
	})
	if err != nil {
		return goal.Goal{}, err
	}

	s.publish(ctx, statusEvent(before, after, now))
	return after, nil
}

// PromoteDue activates every stored pending goal whose start day has
// arrived. It is called by the external sweep, not by users.
func (s *Service) PromoteDue(ctx context.Context) ([]goal.Goal, error) {
	now := s.clock.Now().UTC()
	pending, err := s.store.ListGoalsByStatus(ctx, goal.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending goals: %w", err)
	}

	var promoted []goal.Goal
	for _, candidate := range pending {
		if s.guard.DeriveStatus(candidate, now) == goal.StatusPending {
			continue
		}
		var before, after goal.Goal
		err := s.inTx(ctx, "promote_goal", func(tx goal.Store) error {
			g, err := tx.GetGoal(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if g.Status != goal.StatusPending {
				before, after = g, g
				return nil
			}
			next, err := s.guard.Transition(g, goal.StatusActive, now)
			if err != nil {
				return err
			}
			before, after = g, next
			return tx.UpdateGoal(ctx, next)
		})
		if err != nil {
			return promoted, fmt.Errorf("promote goal %s: %w", candidate.ID, err)
		}
		if evs := statusEvent(before, after, now); len(evs) > 0 {
			s.publish(ctx, evs)
			promoted = append(promoted, after)
		}
	}
	return promoted, nil
}

// =============================================================================
// MEMBERSHIP AND ACTIVITIES
// =============================================================================

// InviteMember invites invitee to the goal. Partner goals take exactly one
// partner.
func (s *Service) InviteMember(ctx context.Context, userID goal.UserID, goalID goal.GoalID, invitee goal.UserID) (goal.Member, error) {
	if invitee == "" {
		return goal.Member{}, fmt.Errorf("%w: invitee is required", goal.ErrInvalidGoal)
	}
	now := s.clock.Now().UTC()
	var m goal.Member

	err := s.inTx(ctx, "invite_member", func(tx goal.Store) error {
		g, err := s.ownedGoal(ctx, tx, goalID, userID)
		if err != nil {
			return err
		}
		if g.Sharing == goal.SharingSolo {
			return fmt.Errorf("%w: solo goals have no members", goal.ErrInvalidGoal)
		}
		members, err := tx.ListMembers(ctx, goalID)
		if err != nil {
			return err
		}
		role := goal.RoleMember
		if g.Sharing == goal.SharingPartner {
			role = goal.RolePartner
		}
		for _, existing := range members {
			if existing.UserID == invitee {
				m = existing
				return nil
			}
			if role == goal.RolePartner && existing.Role == goal.RolePartner {
				return fmt.Errorf("%w: goal already has a partner", goal.ErrInvalidGoal)
			}
		}
		m = goal.Member{GoalID: goalID, UserID: invitee, Role: role, JoinedAt: now}
		return tx.SaveMember(ctx, m)
	})
	return m, err
}

// AcceptMember accepts userID's pending invitation.
func (s *Service) AcceptMember(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (goal.Member, error) {
	if userID == "" {
		return goal.Member{}, goal.ErrNotAuthenticated
	}
	now := s.clock.Now().UTC()
	var m goal.Member

	err := s.inTx(ctx, "accept_member", func(tx goal.Store) error {
		if _, err := tx.GetGoal(ctx, goalID); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, goalID)
		if err != nil {
			return err
		}
		for _, existing := range members {
			if existing.UserID != userID {
				continue
			}
			m = existing
			if m.Accepted {
				return nil
			}
			m.Accepted = true
			m.JoinedAt = now
			return tx.SaveMember(ctx, m)
		}
		return fmt.Errorf("user %s has no invitation to goal %s: %w", userID, goalID, goal.ErrNotPermitted)
	})
	return m, err
}

// AddActivity adds an activity to a goal that is not completed.
func (s *Service) AddActivity(ctx context.Context, userID goal.UserID, goalID goal.GoalID, req NewActivity) (goal.Activity, error) {
	now := s.clock.Now().UTC()
	a := goal.Activity{
		ID:            goal.ActivityID(uuid.NewString()),
		GoalID:        goalID,
		Title:         req.Title,
		AssignedTo:    req.AssignedTo,
		AssignedToAll: req.AssignedToAll,
		CreatedAt:     now,
	}
	if err := a.Validate(); err != nil {
		return goal.Activity{}, err
	}

	err := s.inTx(ctx, "add_activity", func(tx goal.Store) error {
		g, err := s.ownedGoal(ctx, tx, goalID, userID)
		if err != nil {
			return err
		}
		if s.guard.DeriveStatus(g, now) == goal.StatusCompleted {
			return &goal.TransitionError{GoalID: g.ID, From: goal.StatusCompleted, To: goal.StatusCompleted}
		}
		activities, err := tx.ListActivities(ctx, goalID)
		if err != nil {
			return err
		}
		if err := g.Validate(len(activities) + 1); err != nil {
			return err
		}
		return tx.CreateActivity(ctx, a)
	})
	if err != nil {
		return goal.Activity{}, err
	}
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) ownedGoal(ctx context.Context, tx goal.Store, goalID goal.GoalID, userID goal.UserID) (goal.Goal, error) {
	if userID == "" {
		return goal.Goal{}, goal.ErrNotAuthenticated
	}
	g, err := tx.GetGoal(ctx, goalID)
	if err != nil {
		return goal.Goal{}, err
	}
	if g.OwnerID != userID {
		return goal.Goal{}, fmt.Errorf("user %s does not own goal %s: %w", userID, goalID, goal.ErrNotPermitted)
	}
	return g, nil
}
