/*
Package jobs runs the periodic work the engine needs from outside.

sweeper.go - Daily lifecycle and missed-day sweep

PURPOSE:
  Nothing in the engine happens on its own clock. The sweeper is the
  external caller that:
    1. Promotes stored pending goals whose start day has arrived.
    2. Reports every finished day to each active goal, so streaks without
       a completion on that day are broken and shared records are decided.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each day is reported at most once per process (lastSwept)
  - After downtime, catches up on at most MaxCatchUp finished days
  - Reporting a day twice is harmless: the engine leaves records already
    at zero, or already covering the day, unchanged

CONFIGURATION:
  - Interval:   How often to check (default: 15 minutes)
  - MaxCatchUp: Finished days reported after a gap (default: 7)

USAGE:
  sw := jobs.NewSweeper(svc, logger)
  sw.Start(ctx)
  // ... later
  sw.Stop()

SEE ALSO:
  - tracker/goals.go: PromoteDue
  - tracker/streaks.go: ReportMissedDay
*/
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/streak"
)

// Tracker is the part of tracker.Service the sweeper drives.
type Tracker interface {
	Now() time.Time
	Calendar() calendar.Calendar
	PromoteDue(ctx context.Context) ([]goal.Goal, error)
	ListGoals(ctx context.Context, status goal.Status) ([]goal.Goal, error)
	ReportMissedDay(ctx context.Context, goalID goal.GoalID, day calendar.Day) ([]streak.Change, error)
}

// Report summarizes one sweep.
type Report struct {
	Promoted   int
	DaysSwept  []calendar.Day
	GoalsSwept int
	Changes    int
	Broken     int
	Failures   int
}

// Sweeper promotes due goals and reports finished days.
type Sweeper struct {
	Tracker    Tracker
	Interval   time.Duration
	MaxCatchUp int
	Logger     *slog.Logger

	mu        sync.Mutex
	lastSwept *calendar.Day
	ticker    *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewSweeper(t Tracker, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Tracker:    t,
		Interval:   15 * time.Minute,
		MaxCatchUp: 7,
		Logger:     logger,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start runs a sweep now and then every Interval until Stop or ctx is done.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.ticker != nil {
		return
	}

	sw.ticker = time.NewTicker(sw.Interval)
	sw.stop = make(chan struct{})
	sw.wg.Add(1)
	go sw.run(ctx, sw.ticker, sw.stop)

	sw.Logger.Info("sweeper started", "interval", sw.Interval)
}

// Stop halts the background loop and waits for an in-flight sweep.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if sw.ticker == nil {
		sw.mu.Unlock()
		return
	}
	sw.ticker.Stop()
	close(sw.stop)
	sw.ticker = nil
	sw.mu.Unlock()

	sw.wg.Wait()
	sw.Logger.Info("sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer sw.wg.Done()

	sw.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			sw.RunNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// =============================================================================
// SWEEP
// =============================================================================

// RunNow performs one sweep at the tracker's current time.
func (sw *Sweeper) RunNow(ctx context.Context) Report {
	var rep Report

	promoted, err := sw.Tracker.PromoteDue(ctx)
	rep.Promoted = len(promoted)
	if err != nil {
		rep.Failures++
		sw.Logger.ErrorContext(ctx, "promote due goals", "error", err)
	}

	days := sw.pendingDays()
	if len(days) == 0 {
		sw.logReport(ctx, rep)
		return rep
	}

	active, err := sw.Tracker.ListGoals(ctx, goal.StatusActive)
	if err != nil {
		rep.Failures++
		sw.Logger.ErrorContext(ctx, "list active goals", "error", err)
		sw.logReport(ctx, rep)
		return rep
	}

	for _, day := range days {
		failed := false
		for _, g := range active {
			changes, err := sw.Tracker.ReportMissedDay(ctx, g.ID, day)
			if err != nil {
				failed = true
				rep.Failures++
				sw.Logger.ErrorContext(ctx, "report missed day",
					"goal_id", g.ID, "day", day.String(), "error", err)
				continue
			}
			rep.Changes += len(changes)
			for _, c := range changes {
				if c.Broke {
					rep.Broken++
				}
			}
		}
		if failed {
			break
		}
		rep.GoalsSwept += len(active)
		rep.DaysSwept = append(rep.DaysSwept, day)
		sw.markSwept(day)
	}

	sw.logReport(ctx, rep)
	return rep
}

// pendingDays lists finished days not yet reported, oldest first.
func (sw *Sweeper) pendingDays() []calendar.Day {
	yesterday := sw.Tracker.Calendar().Today(sw.Tracker.Now()).AddDays(-1)

	sw.mu.Lock()
	last := sw.lastSwept
	sw.mu.Unlock()

	from := yesterday
	if last != nil {
		if !last.Before(yesterday) {
			return nil
		}
		from = last.AddDays(1)
		if limit := yesterday.AddDays(1 - sw.MaxCatchUp); sw.MaxCatchUp > 0 && from.Before(limit) {
			from = limit
		}
	}

	var out []calendar.Day
	for d := from; !d.After(yesterday); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func (sw *Sweeper) markSwept(day calendar.Day) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.lastSwept = &day
}

// LastSwept returns the most recent day fully reported, if any.
func (sw *Sweeper) LastSwept() (calendar.Day, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.lastSwept == nil {
		return calendar.Day{}, false
	}
	return *sw.lastSwept, true
}

func (sw *Sweeper) logReport(ctx context.Context, rep Report) {
	if rep.Promoted == 0 && len(rep.DaysSwept) == 0 && rep.Failures == 0 {
		return
	}
	days := make([]string, len(rep.DaysSwept))
	for i, d := range rep.DaysSwept {
		days[i] = d.String()
	}
	sw.Logger.InfoContext(ctx, "sweep completed",
		"promoted", rep.Promoted, "days", days, "goals", rep.GoalsSwept,
		"changes", rep.Changes, "broken", rep.Broken, "failures", rep.Failures)
}
