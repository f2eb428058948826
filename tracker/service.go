/*
Package tracker is the service boundary of the goal and streak engine.

service.go - Transactions, retries and event publication

PURPOSE:
  Every public operation is one logical unit:

    load goal -> guard check -> ledger/engine writes -> commit -> publish

  The unit runs inside goal.TxStore.WithTx. Any error rolls back every write
  made through the transaction, so a failure after the ledger insert never
  leaves a completion without its streak update.

RETRIES:
  ErrConcurrentModification means another writer changed a StreakRecord
  between our read and our write. The whole unit is retried from the top
  (fresh reads) up to Rules.MaxAttempts times. Validation errors are never
  retried.

ALREADY COMPLETED:
  A duplicate completion returns success. The transaction is still rolled
  back (errAlreadyCompleted) so a store that aborted the transaction on the
  unique violation is never asked to commit it.

EVENTS:
  Collected while the unit runs, published only after WithTx returned nil.

SEE ALSO:
  - goals.go: Goal lifecycle, membership and activities
  - streaks.go: Completions, freezes, streak queries, missed days
*/
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/events"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/ledger"
	"github.com/warp/streak-engine/metrics"
	"github.com/warp/streak-engine/policy"
	"github.com/warp/streak-engine/streak"
)

var errAlreadyCompleted = errors.New("already completed")

// Config wires a Service. Only Store is required.
type Config struct {
	Store   goal.TxStore
	Rules   *policy.Rules
	Events  events.Publisher
	Metrics *metrics.Metrics
	Clock   calendar.Clock
	Logger  *slog.Logger
}

// Service implements the engine's external operations.
type Service struct {
	store       goal.TxStore
	guard       goal.Guard
	calendar    calendar.Calendar
	engine      *streak.Engine
	ledger      *ledger.Ledger
	events      events.Publisher
	metrics     *metrics.Metrics
	clock       calendar.Clock
	logger      *slog.Logger
	maxAttempts int
}

// New creates a Service. Missing optional dependencies get defaults: the
// default rules, the system clock, unregistered metrics and no subscribers.
func New(cfg Config) *Service {
	rules := policy.Default()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NewBus(logger)
	}

	guard := rules.Guard()
	engine := rules.Engine(logger)
	return &Service{
		store:       cfg.Store,
		guard:       guard,
		calendar:    rules.Calendar,
		engine:      engine,
		ledger:      ledger.New(guard, engine),
		events:      pub,
		metrics:     m,
		clock:       clock,
		logger:      logger,
		maxAttempts: rules.MaxAttempts,
	}
}

// Guard exposes the lifecycle rules in use.
func (s *Service) Guard() goal.Guard { return s.guard }

// Calendar is the calendar days are computed in.
func (s *Service) Calendar() calendar.Calendar { return s.calendar }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.clock.Now() }

// =============================================================================
// TRANSACTION + RETRY
// =============================================================================

// inTx runs fn in a transaction, retrying on concurrent modification. fn
// must not keep state between attempts except by assigning its results.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx goal.Store) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.store.WithTx(ctx, fn)
		if err == nil || !goal.IsRetryable(err) || attempt >= s.maxAttempts {
			return err
		}
		s.metrics.ConcurrentRetries.Inc()
		s.logger.WarnContext(ctx, "retrying after concurrent modification",
			"op", op, "attempt", attempt, "error", err)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Service) publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	s.events.Publish(ctx, evs...)
}

func streakEvents(changes []streak.Change, at time.Time) []events.Event {
	var out []events.Event
	for _, c := range changes {
		rec := c.Record
		base := events.Base{Type: events.TypeStreakUpdated, At: at, GoalID: rec.GoalID}
		out = append(out, events.StreakUpdated{
			Base:       base,
			UserID:     rec.UserID,
			StreakType: rec.Type,
			Current:    rec.CurrentStreak,
			Longest:    rec.LongestStreak,
			Total:      rec.TotalCompletions,
			Broke:      c.Broke,
			Outcome:    string(c.Outcome),
		})
		if c.Broke {
			base.Type = events.TypeStreakBroken
			out = append(out, events.StreakBroken{
				Base:       base,
				UserID:     rec.UserID,
				StreakType: rec.Type,
				Lost:       c.Previous.CurrentStreak,
				Longest:    rec.LongestStreak,
			})
		}
	}
	return out
}

// statusEvent compares stored statuses; promotion is a stored pending goal
// whose derived status already reads active.
func statusEvent(before, after goal.Goal, at time.Time) []events.Event {
	if before.Status == after.Status {
		return nil
	}
	return []events.Event{events.NewGoalStatusChanged(after.ID, before.Status, after.Status, at)}
}
