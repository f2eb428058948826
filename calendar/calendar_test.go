package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/calendar"
)

func TestToday_UTCBoundary(t *testing.T) {
	cal := calendar.UTC()

	before := time.Date(2025, time.March, 10, 23, 59, 59, 0, time.UTC)
	after := time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-10", cal.Today(before).String())
	assert.Equal(t, "2025-03-11", cal.Today(after).String())
}

func TestToday_NonUTCInstantIsConvertedFirst(t *testing.T) {
	// GIVEN: A completion at 20:00 in UTC-5 (01:00 UTC the next day)
	// THEN: The UTC calendar files it under the next day
	est := time.FixedZone("EST", -5*60*60)
	now := time.Date(2025, time.March, 10, 20, 0, 0, 0, est)

	assert.Equal(t, "2025-03-11", calendar.UTC().Today(now).String())

	local := calendar.Calendar{Location: est, WeekStart: time.Monday}
	assert.Equal(t, "2025-03-10", local.Today(now).String())
}

func TestDayIndex_ConsecutiveDaysDifferByOne(t *testing.T) {
	d := calendar.NewDay(2024, time.February, 28)

	assert.Equal(t, 1, d.AddDays(1).Index()-d.Index())
	assert.Equal(t, "2024-02-29", d.AddDays(1).String(), "leap day")
	assert.Equal(t, 0, calendar.NewDay(1970, time.January, 1).Index())
	assert.Equal(t, -1, calendar.NewDay(1969, time.December, 31).Index())
	assert.Equal(t, 3, calendar.DaysBetween(d, d.AddDays(3)))
}

func TestWeekIndex_MondayStart(t *testing.T) {
	cal := calendar.UTC()

	sunday := calendar.MustParseDay("2025-03-09")
	monday := calendar.MustParseDay("2025-03-10")
	nextSunday := calendar.MustParseDay("2025-03-16")

	assert.Equal(t, 1, cal.WeekIndex(monday)-cal.WeekIndex(sunday))
	assert.Equal(t, cal.WeekIndex(monday), cal.WeekIndex(nextSunday))
	assert.Equal(t, monday, cal.WeekStartOf(nextSunday))
}

func TestWeekIndex_BeforeEpoch(t *testing.T) {
	cal := calendar.UTC()
	a := calendar.MustParseDay("1969-12-22") // Monday
	b := calendar.MustParseDay("1969-12-29") // Monday

	assert.Equal(t, 1, cal.WeekIndex(b)-cal.WeekIndex(a))
	assert.Equal(t, cal.WeekIndex(a), cal.WeekIndex(a.AddDays(6)))
}

func TestClosesPeriod(t *testing.T) {
	cal := calendar.UTC()
	sunday := calendar.MustParseDay("2025-03-16")

	assert.True(t, cal.ClosesPeriod(sunday, calendar.GranularityDay))
	assert.True(t, cal.ClosesPeriod(sunday, calendar.GranularityWeek))
	assert.False(t, cal.ClosesPeriod(sunday.AddDays(-1), calendar.GranularityWeek))
}

func TestStartOf_UsesCalendarLocation(t *testing.T) {
	tz := time.FixedZone("UTC+2", 2*60*60)
	cal := calendar.Calendar{Location: tz}

	start := cal.StartOf(calendar.MustParseDay("2025-06-01"))
	assert.Equal(t, time.Date(2025, time.May, 31, 22, 0, 0, 0, time.UTC), start.UTC())
}

func TestDay_TextRoundTrip(t *testing.T) {
	var d calendar.Day
	require.NoError(t, d.UnmarshalText([]byte("2025-01-31")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", string(b))

	assert.Error(t, d.UnmarshalText([]byte("31/01/2025")))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	clock := calendar.NewFixedClock(start)

	clock.Advance(5 * time.Hour)
	assert.Equal(t, start.Add(5*time.Hour), clock.Now())
}
