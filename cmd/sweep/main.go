// Command sweep runs one lifecycle and missed-day sweep and exits. Schedule
// it from cron shortly after midnight in the rules' timezone. The exit code
// is non-zero when any goal could not be swept.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/config"
	"github.com/warp/streak-engine/events"
	"github.com/warp/streak-engine/jobs"
	"github.com/warp/streak-engine/logger"
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

	flags := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	driver := flags.String("db-driver", cfg.DBDriver, "database driver (sqlite3 or pgx)")
	dsn := flags.String("db", cfg.DBConnection, "database connection string")
	policyFile := flags.String("policy", cfg.PolicyFile, "rules YAML file")
	day := flags.String("day", "", "sweep as if today were this day (YYYY-MM-DD)")
	timeout := flags.Duration("timeout", 5*time.Minute, "give up after this long")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
	defer logger.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

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

	var clock calendar.Clock = calendar.SystemClock{}
	if *day != "" {
		d, err := calendar.ParseDay(*day)
		if err != nil {
			return err
		}
		clock = calendar.NewFixedClock(rules.Calendar.StartOf(d))
	}

	bus := events.NewBus(log)
	bus.SubscribeAll(events.LogHandler(log))
	svc := tracker.New(tracker.Config{Store: store, Rules: &rules, Events: bus, Clock: clock, Logger: log})

	// A fresh process has no memory of earlier sweeps, so it reports only
	// yesterday. Repeating a day is harmless.
	rep := jobs.NewSweeper(svc, log).RunNow(ctx)
	if rep.Failures > 0 {
		return fmt.Errorf("sweep finished with %d failures", rep.Failures)
	}
	return nil
}
