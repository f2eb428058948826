package events_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/events"
	"github.com/warp/streak-engine/goal"
)

var at = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func TestBus_DeliversByType(t *testing.T) {
	bus := events.NewBus(nil)
	var statuses, all events.Recorder
	bus.Subscribe(events.TypeGoalStatusChanged, statuses.Handle)
	bus.SubscribeAll(all.Handle)

	bus.Publish(context.Background(),
		events.NewGoalStatusChanged("g1", goal.StatusPending, goal.StatusActive, at),
		events.StreakUpdated{Base: events.Base{Type: events.TypeStreakUpdated, At: at, GoalID: "g1"}, Current: 1, Longest: 1},
	)

	require.Len(t, statuses.Events(), 1)
	ev, ok := statuses.Events()[0].(events.GoalStatusChanged)
	require.True(t, ok)
	assert.Equal(t, goal.StatusActive, ev.To)
	assert.Equal(t, "g1", ev.AggregateID())

	assert.Len(t, all.Events(), 2)
	assert.Len(t, all.OfType(events.TypeStreakUpdated), 1)
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	bus := events.NewBus(slog.New(slog.NewTextHandler(&buf, nil)))
	var rec events.Recorder

	bus.SubscribeAll(func(context.Context, events.Event) { panic("boom") })
	bus.SubscribeAll(rec.Handle)

	bus.Publish(context.Background(), events.NewGoalStatusChanged("g1", goal.StatusActive, goal.StatusPaused, at))

	assert.Len(t, rec.Events(), 1)
	assert.Contains(t, buf.String(), "event handler panicked")
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := events.LogHandler(slog.New(slog.NewTextHandler(&buf, nil)))

	h(context.Background(), events.StreakBroken{
		Base:       events.Base{Type: events.TypeStreakBroken, At: at, GoalID: "g1"},
		UserID:     "alice",
		StreakType: goal.StreakIndividual,
		Lost:       5,
	})

	out := buf.String()
	assert.Contains(t, out, "streak.broken")
	assert.Contains(t, out, "lost=5")
}

func TestRecorder_Reset(t *testing.T) {
	var rec events.Recorder
	rec.Handle(context.Background(), events.NewGoalStatusChanged("g1", goal.StatusActive, goal.StatusPaused, at))
	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestBase_Accessors(t *testing.T) {
	b := events.Base{Type: events.TypeStreakBroken, At: at, GoalID: "g7"}

	var e events.Event = events.StreakBroken{Base: b, Lost: 4, Longest: 6}
	assert.Equal(t, events.TypeStreakBroken, e.EventType())
	assert.True(t, e.OccurredAt().Equal(at))
	assert.Equal(t, "g7", e.AggregateID())
}
