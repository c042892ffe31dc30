package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://medals@localhost:5432/medals")

	cfg, err := Load(missingEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "medal-engine", cfg.App.Name)
	assert.Equal(t, time.UTC.String(), cfg.App.Location.String())
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, []float64{60, 50}, cfg.Engine.ClubThresholds)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.SweepInterval)
	assert.Equal(t, "medal-engine:events", cfg.EventBus.RedisChannel)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.True(t, cfg.Database.Migrate)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://medals@db:5432/medals")
	t.Setenv("APP_TIMEZONE", "America/Los_Angeles")
	t.Setenv("APP_ENV", "production")
	t.Setenv("ENGINE_CLUB_THRESHOLDS", "40, 75,bogus")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "8")
	t.Setenv("SCHEDULER_SWEEP_INTERVAL", "2m")
	t.Setenv("REDIS_DISABLED", "true")

	cfg, err := Load(missingEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "America/Los_Angeles", cfg.App.Location.String())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []float64{75, 40}, cfg.Engine.ClubThresholds)
	assert.Equal(t, 8, cfg.Engine.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.SweepInterval)
	assert.True(t, cfg.Redis.Disabled)
}

func TestLoad_BuildsURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "engine")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(missingEnv(t))
	require.NoError(t, err)
	assert.Equal(t, "postgres://engine:secret@db:5432/medals?sslmode=disable", cfg.Database.URL)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"DATABASE_URL=postgres://file@localhost/medals\nSCHEDULER_RESULTS_HOUR=7\n",
	), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("DATABASE_URL")
		_ = os.Unsetenv("SCHEDULER_RESULTS_HOUR")
	})
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file@localhost/medals", cfg.Database.URL)
	assert.Equal(t, 7, cfg.Scheduler.ResultsHour)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("SCHEDULER_RESULTS_HOUR", "24")

	_, err := Load(missingEnv(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "APP_TIMEZONE")
	assert.Contains(t, err.Error(), "SCHEDULER_RESULTS_HOUR")
}
