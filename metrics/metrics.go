// Package metrics defines the Prometheus collectors for the HTTP layer and
// the streak engine.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/streak-engine/events"
)

// Metrics groups every collector. Create one per registry.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthRejections      *prometheus.CounterVec

	CompletionsRecorded  prometheus.Counter
	CompletionsDuplicate prometheus.Counter
	StreakUpdates        *prometheus.CounterVec
	StreakBroken         *prometheus.CounterVec
	FreezesUsed          prometheus.Counter
	ConcurrentRetries    prometheus.Counter
	GoalTransitions      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered (tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		AuthRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_rejections_total",
				Help: "Total number of unauthenticated or forbidden requests",
			},
			[]string{"reason"},
		),
		CompletionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "completions_recorded_total",
			Help: "Completions inserted into the ledger",
		}),
		CompletionsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "completions_duplicate_total",
			Help: "Completion requests answered with AlreadyCompleted",
		}),
		StreakUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_updates_total",
				Help: "Streak record changes by type and outcome",
			},
			[]string{"streak_type", "outcome"},
		),
		StreakBroken: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_broken_total",
				Help: "Running streaks that ended",
			},
			[]string{"streak_type"},
		),
		FreezesUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freezes_used_total",
			Help: "Freezes spent",
		}),
		ConcurrentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concurrent_retries_total",
			Help: "Transactions retried after a concurrent modification",
		}),
		GoalTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goal_transitions_total",
				Help: "Goal status transitions",
			},
			[]string{"from", "to"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.HTTPRequests, m.HTTPRequestDuration, m.AuthRejections,
			m.CompletionsRecorded, m.CompletionsDuplicate,
			m.StreakUpdates, m.StreakBroken, m.FreezesUsed,
			m.ConcurrentRetries, m.GoalTransitions,
		)
	}
	return m
}

// EventHandler counts published domain events.
func (m *Metrics) EventHandler() events.Handler {
	return func(_ context.Context, e events.Event) {
		switch ev := e.(type) {
		case events.StreakUpdated:
			m.StreakUpdates.WithLabelValues(string(ev.StreakType), ev.Outcome).Inc()
			if ev.Outcome == "frozen" {
				m.FreezesUsed.Inc()
			}
		case events.StreakBroken:
			m.StreakBroken.WithLabelValues(string(ev.StreakType)).Inc()
		case events.GoalStatusChanged:
			m.GoalTransitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
		}
	}
}

// StatusLabel renders an HTTP status code for the status label.
func StatusLabel(code int) string { return strconv.Itoa(code) }
