package streak

import (
	"sort"

	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
)

// Replay rebuilds a personal record from the ledger: every completion day and
// every freeze day, oldest first, then a missed-period check for the period
// before asOf.
//
// Identity fields, Version and FreezeUsesRemaining are taken from base; the
// counters are recomputed. Freezes on a day without a running record, or on
// a broken one, are ignored. A freeze and a completion on the same day apply
// freeze first, so the completion still counts.
func (r Rule) Replay(base goal.StreakRecord, completions []calendar.Day, freezes []calendar.Day, asOf calendar.Day) goal.StreakRecord {
	type entry struct {
		day    calendar.Day
		freeze bool
	}
	entries := make([]entry, 0, len(completions)+len(freezes))
	for _, d := range completions {
		entries = append(entries, entry{day: d})
	}
	for _, d := range freezes {
		entries = append(entries, entry{day: d, freeze: true})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].day.Equal(entries[j].day) {
			return entries[i].day.Before(entries[j].day)
		}
		return entries[i].freeze && !entries[j].freeze
	})

	var cur *goal.StreakRecord
	for _, e := range entries {
		if e.day.After(asOf) {
			break
		}
		if e.freeze {
			if cur != nil && !r.brokenBefore(cur, e.day) {
				if gap, ok := r.Gap(cur.LastActivityDate, e.day); !ok || gap > 0 {
					cur.LastActivityDate = dayPtr(e.day)
					cur.LastDayFrozen = true
				}
			}
			continue
		}
		next := r.Complete(cur, base.StreakKey, e.day).Record
		cur = &next
	}

	out := base
	out.CurrentStreak, out.LongestStreak, out.TotalCompletions = 0, 0, 0
	out.LastActivityDate = nil
	out.LastDayFrozen = false
	if cur == nil {
		return out
	}

	missed := r.Miss(cur, r.Calendar.PreviousPeriod(asOf, r.Granularity)).Record
	out.CurrentStreak = missed.CurrentStreak
	out.LongestStreak = missed.LongestStreak
	out.TotalCompletions = missed.TotalCompletions
	out.LastActivityDate = missed.LastActivityDate
	out.LastDayFrozen = missed.LastDayFrozen
	return out
}
