package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.CompoundBase)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("SCORING_COMPOUND_BASE", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.CompoundBase)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9999\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("HTTP_PORT") })

	cfg := Load()
	assert.Equal(t, "9999", cfg.HTTPPort)
}
