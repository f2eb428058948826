/*
calendar.go - Canonical day-boundary and period arithmetic

PURPOSE:
  Every component that needs "what day is it" or "how many days apart are
  these two dates" goes through this package. No component compares date
  strings or truncates timestamps on its own.

DAY BOUNDARY POLICY:
  A Calendar carries the location whose midnight starts a new day. The
  default is UTC. A completion logged at 23:30 UTC and one at 00:10 UTC
  belong to different days under the default calendar, whatever the
  client's local time was.

KEY TYPES:
  Day:         A civil date (no time, no zone). Ordered, indexable.
  Calendar:    Location + week start. Converts instants to Days and back.
  Granularity: Day or Week. Streak continuity is measured in these periods.
  Clock:       Source of "now" (SystemClock in production, FixedClock in tests).

INDEXES:
  Day.Index() counts days since 1970-01-01. Calendar.WeekIndex() counts
  weeks since the first configured week-start on or after the epoch. Gaps
  between two periods are plain integer subtraction of these indexes.

SEE ALSO:
  - streak/rule.go: Gap computation for the continuity rule
  - goal/lifecycle.go: Pending status and edit window use StartOf()
*/
package calendar

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// =============================================================================
// DAY - A civil date
// =============================================================================

// Day is a calendar date. The zero value is "no day".
// Internally it is held as UTC midnight so comparisons never involve zones.
type Day struct {
	t time.Time
}

// NewDay returns the day for the given date. Out-of-range values normalize
// the way time.Date does (March 32 is April 1).
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q (use YYYY-MM-DD): %w", s, err)
	}
	return Day{t: t}, nil
}

// MustParseDay is ParseDay for literals in tests and fixtures.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Day) Year() int              { return d.t.Year() }
func (d Day) Month() time.Month      { return d.t.Month() }
func (d Day) DayOfMonth() int        { return d.t.Day() }
func (d Day) Weekday() time.Weekday  { return d.t.Weekday() }
func (d Day) IsZero() bool           { return d.t.IsZero() }

// Index is the number of days since 1970-01-01 (negative before it).
func (d Day) Index() int {
	return int(d.t.Unix() / secondsPerDay)
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dayLayout)
}

// MarshalText encodes the day as YYYY-MM-DD.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a YYYY-MM-DD day. Empty input yields the zero Day.
func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

const secondsPerDay = 24 * 60 * 60

// DaysBetween returns to - from in whole days.
func DaysBetween(from, to Day) int { return to.Index() - from.Index() }

// =============================================================================
// GRANULARITY - The period a streak is measured in
// =============================================================================

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityWeek
)

func (g Granularity) String() string {
	switch g {
	case GranularityWeek:
		return "week"
	default:
		return "day"
	}
}

// =============================================================================
// CALENDAR - Day boundary and week start policy
// =============================================================================

// Calendar fixes where a day starts (Location) and where a week starts.
// The zero value is a UTC calendar with Sunday week start; use UTC() for the
// default policy (UTC, Monday).
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// UTC returns the default calendar: UTC midnight day boundary, Monday weeks.
func UTC() Calendar {
	return Calendar{Location: time.UTC, WeekStart: time.Monday}
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Today returns the calendar day containing the instant now.
func (c Calendar) Today(now time.Time) Day {
	local := now.In(c.location())
	return NewDay(local.Year(), local.Month(), local.Day())
}

// StartOf returns the instant the given day begins in this calendar.
func (c Calendar) StartOf(d Day) time.Time {
	return time.Date(d.Year(), d.Month(), d.DayOfMonth(), 0, 0, 0, 0, c.location())
}

// WeekStartOf returns the first day of the week containing d.
func (c Calendar) WeekStartOf(d Day) Day {
	offset := (int(d.Weekday()) - int(c.WeekStart) + 7) % 7
	return d.AddDays(-offset)
}

// WeekIndex numbers weeks so that consecutive weeks differ by exactly one.
func (c Calendar) WeekIndex(d Day) int {
	// 1970-01-01 was a Thursday; find the first week start on or after it.
	anchor := (int(c.WeekStart) - int(time.Thursday) + 7) % 7
	return floorDiv(c.WeekStartOf(d).Index()-anchor, 7)
}

// PeriodIndex returns the day or week index of d.
func (c Calendar) PeriodIndex(d Day, g Granularity) int {
	if g == GranularityWeek {
		return c.WeekIndex(d)
	}
	return d.Index()
}

// PreviousPeriod returns a day inside the period before the one containing d.
func (c Calendar) PreviousPeriod(d Day, g Granularity) Day {
	if g == GranularityWeek {
		return d.AddDays(-7)
	}
	return d.AddDays(-1)
}

// ClosesPeriod reports whether d is the last day of its period, i.e. the
// next day belongs to a different period.
func (c Calendar) ClosesPeriod(d Day, g Granularity) bool {
	return c.PeriodIndex(d.AddDays(1), g) != c.PeriodIndex(d, g)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
