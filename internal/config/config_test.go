package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/eldervoice_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.elevenlabs.io", cfg.ProviderBaseURL)
	assert.Equal(t, 0.5, cfg.VADThreshold)
	assert.Equal(t, 800, cfg.SilenceDurationMs)
	assert.Equal(t, 600, cfg.MaxCallDurationSeconds)
	assert.Equal(t, 30, cfg.SchedulerIntervalSeconds)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "not-a-number")
	t.Setenv("TEST_FLOAT", "0.75")
	t.Setenv("TEST_BOOL", "yes")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("TEST_INT_BAD", 7))
	assert.Equal(t, 7, getEnvInt("TEST_INT_MISSING", 7))
	assert.Equal(t, 0.75, getEnvFloat("TEST_FLOAT", 0.5))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("TEST_BOOL_MISSING", false))
}

func TestValidateRequiresDatabase(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
