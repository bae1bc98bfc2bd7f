package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROUND_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 12, cfg.Game.Thresholds.OpenBettingEnd)
	assert.Equal(t, 30, cfg.Game.Thresholds.CloseResult)
	assert.Equal(t, 35*time.Minute, cfg.Game.RoundDuration())
	assert.Equal(t, 9, cfg.Game.Window.OpenHour)
	assert.Equal(t, 22, cfg.Game.Window.CloseHour)
	assert.True(t, cfg.Game.StrictManualJodi)
	assert.NotNil(t, cfg.Game.Location)
	assert.Equal(t, "admin", cfg.SeedAdminUsername)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "/tmp/round.db")
	t.Setenv("MAX_STAKE", "250.50")
	t.Setenv("STRICT_MANUAL_JODI", "false")
	t.Setenv("OPEN_HOUR", "8")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("AUTH_FAILURE_WINDOW_SEC", "60")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.org ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite3:///tmp/round.db", cfg.DatabaseURL)
	assert.True(t, cfg.Game.MaxStake.Equal(decimal.RequireFromString("250.5")))
	assert.False(t, cfg.Game.StrictManualJodi)
	assert.Equal(t, 8, cfg.Game.Window.OpenHour)
	assert.Equal(t, time.UTC, cfg.Game.Location)
	assert.Equal(t, time.Minute, cfg.AuthFailureWindow)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "round.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds:
  open_betting_end: 5
  open_result: 6
  close_betting_end: 10
  close_result: 12
window:
  open_hour: 6
  close_hour: 23
round_duration_minutes: 15
max_stake: "500"
`), 0o644))
	t.Setenv("ROUND_CONFIG_FILE", path)
	t.Setenv("TIMING_CLOSE_RESULT", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Game.Thresholds.OpenBettingEnd)
	assert.Equal(t, 14, cfg.Game.Thresholds.CloseResult, "env wins over file")
	assert.Equal(t, 6, cfg.Game.Window.OpenHour)
	assert.Equal(t, 15*time.Minute, cfg.Game.RoundDuration())
	assert.True(t, cfg.Game.MaxStake.Equal(decimal.NewFromInt(500)))
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"thresholds not increasing": {"TIMING_OPEN_RESULT": "40"},
		"round shorter than close":  {"TIMING_ROUND_DURATION": "20"},
		"window inverted":           {"OPEN_HOUR": "22", "CLOSE_HOUR": "9"},
		"zero stake":                {"MAX_STAKE": "0"},
		"bad stake":                 {"MAX_STAKE": "lots"},
		"bad port":                  {"PORT": "eighty"},
		"port range":                {"PORT": "70000"},
		"bad driver":                {"DATABASE_DRIVER": "mysql"},
		"driver mismatch":           {"DATABASE_DRIVER": "postgres", "DATABASE_URL": "sqlite3://x.db"},
		"bad bool":                  {"STRICT_MANUAL_JODI": "perhaps"},
		"bad timezone":              {"TIMEZONE": "Mars/Olympus"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ROUND_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
