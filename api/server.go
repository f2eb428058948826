/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Identify:   X-User-ID header into the request context
  6. Monitor:    Prometheus request counters (when metrics are configured)
  7. RateLimit:  Per-caller token bucket on /api (when configured)

ROUTE GROUPS:
  /api/goals/*          Goal lifecycle, members, activities, streaks
  /api/activities/*     Completion and retraction
  /api/admin/*          Sweep trigger
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  Identity is trusted from the X-User-ID header. Authentication belongs to
  the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Identify, Monitor, RateLimiter
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/streak-engine/metrics"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer // serves /metrics when set
	RateLimiter    *RateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))
	r.Use(Identify)
	if opts.Metrics != nil {
		r.Use(Monitor(opts.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}

		// Goal routes
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.ListGoals)
			r.Post("/", h.CreateGoal)
			r.Get("/{id}", h.GetGoal)
			r.Patch("/{id}", h.EditGoal)
			r.Delete("/{id}", h.DeleteGoal)
			r.Get("/{id}/permissions", h.GetPermissions)
			r.Post("/{id}/pause", h.PauseGoal)
			r.Post("/{id}/resume", h.ResumeGoal)
			r.Post("/{id}/complete", h.CompleteGoal)
			r.Post("/{id}/members", h.InviteMember)
			r.Post("/{id}/members/accept", h.AcceptMember)
			r.Post("/{id}/activities", h.AddActivity)
			r.Post("/{id}/freeze", h.UseFreeze)
			r.Get("/{id}/streaks", h.ListStreaks)
			r.Get("/{id}/streak", h.GetStreak)
		})

		// Completion routes
		r.Route("/activities", func(r chi.Router) {
			r.Post("/{id}/complete", h.CompleteActivity)
			r.Delete("/{id}/complete", h.UncompleteActivity)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}
