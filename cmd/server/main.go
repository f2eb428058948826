/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the streak engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment (.env via godotenv), parse command-line flags
  2. Initialize logger (slog, optional Sentry fanout)
  3. Open SQL store and run migrations
  4. Load rules (POLICY_FILE or defaults)
  5. Wire metrics, event bus, tracker service and sweeper
  6. Configure HTTP router, start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port            HTTP server port (default: $PORT or 8080)
  --db-driver       sqlite3 or pgx (default: $DB_DRIVER)
  --db              Connection string (default: $DB_CONNECTION)
                    Use ":memory:" with sqlite3 for an in-memory database
  --policy          Rules YAML file (default: $POLICY_FILE)
  --sweep-interval  Run the embedded sweeper at this interval; 0 disables it
                    and leaves sweeping to cmd/sweep under cron

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection and flush Sentry

EXAMPLES:
  # Run with file database and a sweep every 15 minutes
  ./server --db=./data/streaks.db --sweep-interval=15m

  # Run against Postgres
  ./server --db-driver=pgx --db="postgres://app@localhost/streaks"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/warp/streak-engine/api"
	"github.com/warp/streak-engine/config"
	"github.com/warp/streak-engine/events"
	"github.com/warp/streak-engine/jobs"
	"github.com/warp/streak-engine/logger"
	"github.com/warp/streak-engine/metrics"
	"github.com/warp/streak-engine/policy"
	"github.com/warp/streak-engine/store/sqlstore"
	"github.com/warp/streak-engine/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	port := flags.String("port", cfg.Port, "HTTP server port")
	driver := flags.String("db-driver", cfg.DBDriver, "database driver (sqlite3 or pgx)")
	dsn := flags.String("db", cfg.DBConnection, "database connection string")
	policyFile := flags.String("policy", cfg.PolicyFile, "rules YAML file")
	sweepEvery := flags.Duration("sweep-interval", 0, "embedded sweep interval (0 disables)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
	defer logger.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlstore.Open(ctx, *driver, *dsn)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	rules := policy.Default()
	if *policyFile != "" {
		if rules, err = policy.Load(*policyFile); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	// Metrics and events
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	bus := events.NewBus(log)
	bus.SubscribeAll(events.LogHandler(log))
	bus.SubscribeAll(m.EventHandler())

	svc := tracker.New(tracker.Config{Store: store, Rules: &rules, Events: bus, Metrics: m, Logger: log})

	sweeper := jobs.NewSweeper(svc, log)
	if *sweepEvery > 0 {
		sweeper.Interval = *sweepEvery
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	opts := api.RouterOptions{AllowedOrigins: cfg.CORSOrigins, Metrics: m, Gatherer: reg}
	if cfg.RateLimited() {
		opts.RateLimiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		go opts.RateLimiter.Cleanup(ctx)
	}
	router := api.NewRouter(api.NewHandler(svc, sweeper, log), opts)

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errs := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "driver", *driver, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
