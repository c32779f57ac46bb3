package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 412, cfg.Browser.ViewportWidth)
	assert.Equal(t, 915, cfg.Browser.ViewportHeight)
	assert.Equal(t, 3, cfg.Pool.Capacity)
	assert.Equal(t, 60*time.Second, cfg.Pool.TrimInterval)
	assert.Equal(t, 50, cfg.Pool.TrimThresholdMB)
	assert.Equal(t, []string{"temp_", "cache_"}, cfg.Pool.TransientPrefixes)
	assert.Equal(t, 10*time.Minute, cfg.Tabs.HibernateAfter)
	assert.True(t, cfg.Tabs.RestoreTabs)
	assert.True(t, cfg.Auth.Enabled)
	assert.Empty(t, cfg.Webhook.URL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TABHOST_PORT", "9090")
	t.Setenv("TABHOST_POOL_CAPACITY", "6")
	t.Setenv("TABHOST_TRIM_INTERVAL", "90s")
	t.Setenv("TABHOST_MEM_THRESHOLD", "0.75")
	t.Setenv("TABHOST_TRANSIENT_PREFIXES", " tmp_ , ,scratch_")
	t.Setenv("TABHOST_API_KEYS", "a,b")
	t.Setenv("TABHOST_STEALTH", "true")
	t.Setenv("TABHOST_HIBERNATE_AFTER", "0s")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Pool.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Pool.TrimInterval)
	assert.InDelta(t, 0.75, cfg.Pool.MemThreshold, 1e-9)
	assert.Equal(t, []string{"tmp_", "scratch_"}, cfg.Pool.TransientPrefixes)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Browser.Stealth)
	assert.Zero(t, cfg.Tabs.HibernateAfter)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TABHOST_PORT", "eighty")
	t.Setenv("TABHOST_TRIM_INTERVAL", "soon")
	t.Setenv("TABHOST_HEADLESS", "maybe")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Pool.TrimInterval)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	t.Setenv("TABHOST_API_KEYS", "k")
	require.NoError(t, Load().Validate())

	cfg := Load()
	cfg.Pool.Capacity = 0
	cfg.Pool.MemThreshold = 1.5
	cfg.Auth.APIKeys = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TABHOST_POOL_CAPACITY")
	assert.Contains(t, err.Error(), "TABHOST_MEM_THRESHOLD")
	assert.Contains(t, err.Error(), "TABHOST_API_KEYS")

	cfg = Load()
	cfg.Auth.Enabled = false
	cfg.Auth.APIKeys = nil
	assert.NoError(t, cfg.Validate())
}
