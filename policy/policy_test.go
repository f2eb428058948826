package policy_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/streak-engine/policy"
)

func TestDefault(t *testing.T) {
	r := policy.Default()

	assert.Equal(t, 5*time.Hour, r.EditWindow)
	assert.Equal(t, 24*time.Hour, r.DeleteWindow)
	assert.Equal(t, 1, r.FreezeAllowance)
	assert.True(t, r.Group.Ratio.Equal(decimal.RequireFromString("0.8")))
	assert.Equal(t, 2, r.Partner.MinMembers)
	assert.Equal(t, time.Monday, r.Calendar.WeekStart)
	assert.NoError(t, r.Validate())
}

func TestParse_OverridesOnlyGivenFields(t *testing.T) {
	yml := `
timezone: Europe/Berlin
week_start: sunday
edit_window: 3h
freeze_allowance: 0
group:
  threshold: "0.75"
`
	r, err := policy.Parse([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", r.Calendar.Location.String())
	assert.Equal(t, time.Sunday, r.Calendar.WeekStart)
	assert.Equal(t, 3*time.Hour, r.EditWindow)
	assert.Equal(t, 24*time.Hour, r.DeleteWindow, "default kept")
	assert.Equal(t, 0, r.FreezeAllowance, "explicit zero is honored")
	assert.True(t, r.Group.Ratio.Equal(decimal.RequireFromString("0.75")))
	assert.Equal(t, 1, r.Group.MinMembers, "default kept")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"bad duration", "edit_window: soon"},
		{"bad weekday", "week_start: funday"},
		{"bad timezone", "timezone: Mars/Olympus"},
		{"threshold above one", "group:\n  threshold: \"1.5\""},
		{"threshold not a number", "partner:\n  threshold: most"},
		{"negative allowance", "freeze_allowance: -1"},
		{"not yaml", "group: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.Parse([]byte(tt.yml))
			assert.Error(t, err)
		})
	}
}

func TestMarshal_RoundTripsThroughFile(t *testing.T) {
	r := policy.Default()
	r.EditWindow = 2 * time.Hour

	data, err := r.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := policy.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, loaded.EditWindow)
	assert.True(t, loaded.Group.Ratio.Equal(r.Group.Ratio))
	assert.Equal(t, r.Calendar.WeekStart, loaded.Calendar.WeekStart)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	r, err := policy.Load("")
	require.NoError(t, err)
	assert.Equal(t, policy.Default().MaxAttempts, r.MaxAttempts)
}

func TestRules_GuardAndEngineCarrySettings(t *testing.T) {
	r := policy.Default()
	r.FreezeAllowance = 3
	r.DeleteWindow = time.Hour

	assert.Equal(t, time.Hour, r.Guard().DeleteWindow)
	assert.Equal(t, 3, r.Engine(nil).FreezeAllowance)
}
