package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block for long.
type Handler func(ctx context.Context, e Event)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event)
}

// Bus fans events out to subscribers by type.
type Bus struct {
	mu     sync.RWMutex
	byType map[Type][]Handler
	all    []Handler
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{byType: make(map[Type][]Handler), logger: logger}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers evs in order. A panicking handler is logged and skipped;
// the remaining handlers still run.
func (b *Bus) Publish(ctx context.Context, evs ...Event) {
	for _, e := range evs {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.all)+len(b.byType[e.EventType()]))
		handlers = append(handlers, b.byType[e.EventType()]...)
		handlers = append(handlers, b.all...)
		b.mu.RUnlock()

		for _, h := range handlers {
			b.deliver(ctx, h, e)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				"event", e.EventType(), "goal_id", e.AggregateID(), "panic", fmt.Sprint(r))
		}
	}()
	h(ctx, e)
}

// LogHandler writes each event to logger at info level.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, e Event) {
		attrs := []any{"event", e.EventType(), "goal_id", e.AggregateID()}
		switch ev := e.(type) {
		case GoalStatusChanged:
			attrs = append(attrs, "from", ev.From, "to", ev.To)
		case StreakUpdated:
			attrs = append(attrs, "user_id", ev.UserID, "streak_type", ev.StreakType,
				"current", ev.Current, "longest", ev.Longest, "outcome", ev.Outcome, "broke", ev.Broke)
		case StreakBroken:
			attrs = append(attrs, "user_id", ev.UserID, "streak_type", ev.StreakType, "lost", ev.Lost)
		}
		logger.InfoContext(ctx, "domain event", attrs...)
	}
}

// =============================================================================
// RECORDER - Collects events (tests, debugging)
// =============================================================================

// Recorder stores every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle is a Handler.
func (r *Recorder) Handle(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Publisher = (*Bus)(nil)
