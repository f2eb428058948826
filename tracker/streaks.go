package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/ledger"
	"github.com/warp/streak-engine/streak"
)

// CompletionResult is AlreadyCompleted, or Recorded with the streak changes
// the completion caused.
type CompletionResult struct {
	AlreadyCompleted bool
	Completion       goal.Completion
	Changes          []streak.Change
}

// FreezeResult reports the record after a freeze.
type FreezeResult struct {
	Remaining int
	Record    goal.StreakRecord
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// RecordCompletion logs that userID completed activityID of goalID now.
func (s *Service) RecordCompletion(ctx context.Context, userID goal.UserID, goalID goal.GoalID, activityID goal.ActivityID) (CompletionResult, error) {
	now := s.clock.Now()
	var res ledger.Result

	err := s.inTx(ctx, "record_completion", func(tx goal.Store) error {
		g, err := tx.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		res, err = s.ledger.Record(ctx, tx, g, userID, activityID, now)
		if err != nil {
			return err
		}
		if res.AlreadyCompleted {
			return errAlreadyCompleted
		}
		return nil
	})
	if errors.Is(err, errAlreadyCompleted) {
		s.metrics.CompletionsDuplicate.Inc()
		s.logger.DebugContext(ctx, "completion already recorded",
			"goal_id", goalID, "activity_id", activityID, "user_id", userID)
		return CompletionResult{AlreadyCompleted: true}, nil
	}
	if err != nil {
		return CompletionResult{}, err
	}

	s.metrics.CompletionsRecorded.Inc()
	s.publish(ctx, streakEvents(res.Changes, now))
	return CompletionResult{Completion: res.Completion, Changes: res.Changes}, nil
}

// Uncomplete retracts userID's completion of activityID for today. An empty
// userID retracts the caller's own.
func (s *Service) Uncomplete(ctx context.Context, callerID goal.UserID, activityID goal.ActivityID, userID goal.UserID) (CompletionResult, error) {
	now := s.clock.Now()
	var res ledger.Result

	err := s.inTx(ctx, "uncomplete", func(tx goal.Store) error {
		a, err := tx.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}
		g, err := tx.GetGoal(ctx, a.GoalID)
		if err != nil {
			return err
		}
		res, err = s.ledger.Uncomplete(ctx, tx, g, activityID, callerID, userID, now)
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}

	s.publish(ctx, streakEvents(res.Changes, now))
	return CompletionResult{Completion: res.Completion, Changes: res.Changes}, nil
}

// =============================================================================
// FREEZE
// =============================================================================

// UseFreeze spends one of userID's freezes on today for goalID.
func (s *Service) UseFreeze(ctx context.Context, userID goal.UserID, goalID goal.GoalID) (FreezeResult, error) {
	if userID == "" {
		return FreezeResult{}, goal.ErrNotAuthenticated
	}
	now := s.clock.Now()
	var change streak.Change

	err := s.inTx(ctx, "use_freeze", func(tx goal.Store) error {
		g, err := tx.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		if !s.guard.CanUpdateActivities(g, now) {
			return fmt.Errorf("goal %s: %w", g.ID, goal.ErrActivitiesLocked)
		}
		change, err = s.engine.UseFreeze(ctx, tx, g, userID, s.calendar.Today(now), now)
		return err
	})
	if err != nil {
		return FreezeResult{}, err
	}

	s.logger.InfoContext(ctx, "freeze used", "goal_id", goalID, "user_id", userID,
		"remaining", change.Record.FreezeUsesRemaining)
	s.publish(ctx, streakEvents([]streak.Change{change}, now))
	return FreezeResult{Remaining: change.Record.FreezeUsesRemaining, Record: change.Record}, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetStreak returns userID's personal record for the goal. An empty userID
// returns the goal's shared record (group or partner).
func (s *Service) GetStreak(ctx context.Context, goalID goal.GoalID, userID goal.UserID) (goal.StreakRecord, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return goal.StreakRecord{}, err
	}
	key := streak.PersonalKey(g, userID)
	if userID == "" {
		shared, ok := streak.SharedKey(g)
		if !ok {
			return goal.StreakRecord{}, fmt.Errorf("solo goal %s has no shared streak: %w", goalID, goal.ErrStreakNotFound)
		}
		key = shared
	}
	return s.store.GetStreak(ctx, key)
}

// ListStreaks returns every record of the goal.
func (s *Service) ListStreaks(ctx context.Context, goalID goal.GoalID) ([]goal.StreakRecord, error) {
	if _, err := s.store.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	return s.store.ListStreaks(ctx, goalID)
}

// =============================================================================
// MISSED DAYS
// =============================================================================

// ReportMissedDay tells the engine that day is over for goalID. Only active
// goals are evaluated; paused, pending and completed goals are skipped.
func (s *Service) ReportMissedDay(ctx context.Context, goalID goal.GoalID, day calendar.Day) ([]streak.Change, error) {
	now := s.clock.Now()
	var changes []streak.Change

	err := s.inTx(ctx, "missed_day", func(tx goal.Store) error {
		changes = nil
		g, err := tx.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		if s.guard.DeriveStatus(g, now) != goal.StatusActive {
			return nil
		}
		if g.StartDate != nil && day.Before(*g.StartDate) {
			return nil
		}
		changes, err = s.engine.OnMissedDay(ctx, tx, g, day, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, streakEvents(changes, now))
	return changes, nil
}
