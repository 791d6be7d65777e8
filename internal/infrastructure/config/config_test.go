package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoEnvOverride(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 15*time.Minute, cfg.DefaultTTL)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_EnvVarsOverrideDefaults(t *testing.T) {
	t.Setenv("KERNEL_ENVIRONMENT", "production")
	t.Setenv("KERNEL_SERVER_PORT", "9999")
	t.Setenv("KERNEL_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.False(t, cfg.RateLimit.Enabled)
}
