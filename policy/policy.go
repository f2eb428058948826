/*
Package policy provides YAML to Go rule conversion.

PURPOSE:
  The lifecycle windows, shared-streak thresholds, freeze allowance and
  calendar are product decisions that change without a code change. They
  live in one YAML file; this package turns it into the Go values the
  engine is built from.

YAML SCHEMA (every field optional, defaults shown):
  timezone: UTC            # IANA name; where a calendar day starts
  week_start: monday       # first day of a seasonal week
  edit_window: 5h
  delete_window: 24h
  freeze_allowance: 1      # freezes a new personal record starts with
  max_attempts: 3          # tries per operation on concurrent modification
  group:
    threshold: "0.80"      # decimal, inclusive
    min_members: 1
  partner:
    threshold: "1.00"
    min_members: 2

USAGE:
  rules, err := policy.Load("rules.yaml")
  guard  := rules.Guard()
  engine := rules.Engine(logger)
*/
package policy

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/streak-engine/calendar"
	"github.com/warp/streak-engine/goal"
	"github.com/warp/streak-engine/streak"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// RulesFile is the YAML representation of Rules.
type RulesFile struct {
	Timezone        string         `yaml:"timezone,omitempty"`
	WeekStart       string         `yaml:"week_start,omitempty"`
	EditWindow      string         `yaml:"edit_window,omitempty"`
	DeleteWindow    string         `yaml:"delete_window,omitempty"`
	FreezeAllowance *int           `yaml:"freeze_allowance,omitempty"`
	MaxAttempts     int            `yaml:"max_attempts,omitempty"`
	Group           *ThresholdFile `yaml:"group,omitempty"`
	Partner         *ThresholdFile `yaml:"partner,omitempty"`
}

// ThresholdFile is a shared-streak threshold. Threshold is a decimal string
// so "0.80" stays exact.
type ThresholdFile struct {
	Threshold  string `yaml:"threshold,omitempty"`
	MinMembers int    `yaml:"min_members,omitempty"`
}

// =============================================================================
// RULES
// =============================================================================

// Rules are the tunable constants of the engine.
type Rules struct {
	Calendar        calendar.Calendar
	EditWindow      time.Duration
	DeleteWindow    time.Duration
	FreezeAllowance int
	MaxAttempts     int
	Group           streak.Threshold
	Partner         streak.Threshold
}

// DefaultMaxAttempts bounds retries on ErrConcurrentModification.
const DefaultMaxAttempts = 3

// Default returns the built-in rules.
func Default() Rules {
	return Rules{
		Calendar:        calendar.UTC(),
		EditWindow:      goal.DefaultEditWindow,
		DeleteWindow:    goal.DefaultDeleteWindow,
		FreezeAllowance: streak.DefaultFreezeAllowance,
		MaxAttempts:     DefaultMaxAttempts,
		Group:           streak.GroupThreshold(),
		Partner:         streak.PartnerThreshold(),
	}
}

// Guard builds the lifecycle guard for these rules.
func (r Rules) Guard() goal.Guard {
	return goal.Guard{Calendar: r.Calendar, EditWindow: r.EditWindow, DeleteWindow: r.DeleteWindow}
}

// Engine builds a streak engine for these rules.
func (r Rules) Engine(logger *slog.Logger) *streak.Engine {
	e := streak.NewEngine(r.Calendar, logger)
	e.FreezeAllowance = r.FreezeAllowance
	e.GroupThreshold = r.Group
	e.PartnerThreshold = r.Partner
	return e
}

// =============================================================================
// PARSING
// =============================================================================

// Load reads rules from a YAML file. An empty path returns Default().
func Load(path string) (Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse converts YAML into Rules, starting from Default().
func Parse(data []byte) (Rules, error) {
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return Rules{}, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	return FromFile(rf)
}

// FromFile converts RulesFile to Rules and validates the result.
func FromFile(rf RulesFile) (Rules, error) {
	r := Default()

	if rf.Timezone != "" {
		loc, err := time.LoadLocation(rf.Timezone)
		if err != nil {
			return Rules{}, fmt.Errorf("timezone %q: %w", rf.Timezone, err)
		}
		r.Calendar.Location = loc
	}
	if rf.WeekStart != "" {
		wd, err := parseWeekday(rf.WeekStart)
		if err != nil {
			return Rules{}, err
		}
		r.Calendar.WeekStart = wd
	}

	var err error
	if r.EditWindow, err = parseDuration("edit_window", rf.EditWindow, r.EditWindow); err != nil {
		return Rules{}, err
	}
	if r.DeleteWindow, err = parseDuration("delete_window", rf.DeleteWindow, r.DeleteWindow); err != nil {
		return Rules{}, err
	}
	if rf.FreezeAllowance != nil {
		r.FreezeAllowance = *rf.FreezeAllowance
	}
	if rf.MaxAttempts != 0 {
		r.MaxAttempts = rf.MaxAttempts
	}
	if r.Group, err = parseThreshold("group", rf.Group, r.Group); err != nil {
		return Rules{}, err
	}
	if r.Partner, err = parseThreshold("partner", rf.Partner, r.Partner); err != nil {
		return Rules{}, err
	}

	return r, r.Validate()
}

// Validate checks the rules are usable.
func (r Rules) Validate() error {
	switch {
	case r.EditWindow < 0 || r.DeleteWindow < 0:
		return fmt.Errorf("policy: windows must not be negative")
	case r.FreezeAllowance < 0:
		return fmt.Errorf("policy: freeze_allowance must not be negative")
	case r.MaxAttempts < 1:
		return fmt.Errorf("policy: max_attempts must be at least 1")
	}
	for name, th := range map[string]streak.Threshold{"group": r.Group, "partner": r.Partner} {
		if th.Ratio.IsNegative() || th.Ratio.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("policy: %s threshold %s outside [0, 1]", name, th.Ratio)
		}
		if th.MinMembers < 1 {
			return fmt.Errorf("policy: %s min_members must be at least 1", name)
		}
	}
	return nil
}

// ToFile converts Rules back to their YAML form.
func (r Rules) ToFile() RulesFile {
	allowance := r.FreezeAllowance
	loc := "UTC"
	if r.Calendar.Location != nil {
		loc = r.Calendar.Location.String()
	}
	return RulesFile{
		Timezone:        loc,
		WeekStart:       strings.ToLower(r.Calendar.WeekStart.String()),
		EditWindow:      r.EditWindow.String(),
		DeleteWindow:    r.DeleteWindow.String(),
		FreezeAllowance: &allowance,
		MaxAttempts:     r.MaxAttempts,
		Group:           &ThresholdFile{Threshold: r.Group.Ratio.StringFixed(2), MinMembers: r.Group.MinMembers},
		Partner:         &ThresholdFile{Threshold: r.Partner.Ratio.StringFixed(2), MinMembers: r.Partner.MinMembers},
	}
}

// Marshal renders rules as YAML.
func (r Rules) Marshal() ([]byte, error) {
	return yaml.Marshal(r.ToFile())
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("policy: %s: %w", field, err)
	}
	return d, nil
}

func parseThreshold(field string, tf *ThresholdFile, def streak.Threshold) (streak.Threshold, error) {
	if tf == nil {
		return def, nil
	}
	th := def
	if tf.Threshold != "" {
		ratio, err := decimal.NewFromString(tf.Threshold)
		if err != nil {
			return streak.Threshold{}, fmt.Errorf("policy: %s.threshold: %w", field, err)
		}
		th.Ratio = ratio
	}
	if tf.MinMembers != 0 {
		th.MinMembers = tf.MinMembers
	}
	return th, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("policy: unknown week_start %q", s)
}
