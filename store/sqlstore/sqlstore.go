/*
Package sqlstore provides a SQL-backed goal.TxStore on SQLite or PostgreSQL.

PURPOSE:
  Same contract as store/memory, persisted. Queries are written once with
  "?" placeholders and rebound per driver by sqlx.

DRIVERS:
  sqlite3: github.com/mattn/go-sqlite3. One open connection; SQLite has a
           single writer and ":memory:" databases are per-connection.
  pgx:     github.com/jackc/pgx/v5/stdlib.

KEY TABLES:
  goals, goal_members, activities: Goal definitions
  completions:  Ledger. Primary key (activity_id, user_id, day) is the
                uniqueness rule; inserts use ON CONFLICT DO NOTHING so a
                duplicate never aborts a Postgres transaction.
  streaks:      One row per StreakKey with an optimistic version column.
  freeze_uses:  Spent freezes, replayed on rebuild.

COLUMN FORMATS:
  Days are "YYYY-MM-DD" text. Timestamps are fixed-width UTC text so they
  sort lexically on both engines.

MIGRATION:
  Embedded goose migrations under migrations/, applied by Open.

USAGE:
  st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, "./data/streaks.db")
  if err != nil {
      return err
  }
  defer st.Close()

SEE ALSO:
  - goal/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Fixed width keeps lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a goal.TxStore on a *sqlx.DB.
type Store struct {
	queries
	db *sqlx.DB
}

// Open connects, applies migrations and returns the store.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == DriverSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(db.DB, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{queries: queries{x: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// WithTx runs fn in a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(goal.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{x: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) || isBusy(err) {
			return fmt.Errorf("commit: %w", goal.ErrConcurrentModification)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isBusy reports lock contention (SQLite busy, Postgres serialization).
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// =============================================================================
// COLUMN CONVERSION
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDay(d *calendar.Day) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDay(ns sql.NullString) (*calendar.Day, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := calendar.ParseDay(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ goal.TxStore = (*Store)(nil)
