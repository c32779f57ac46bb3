// Package config loads tabhost settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Tabs      TabsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Webhook   WebhookConfig
	Download  DownloadConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Chrome instance behind the engines.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for every engine.
	Proxy string

	// ViewportWidth and ViewportHeight size every engine, in CSS pixels.
	ViewportWidth  int // default: 412
	ViewportHeight int // default: 915

	// Stealth injects anti-detection scripts into every page.
	Stealth bool // default: false

	// BlockAds drops requests to known ad and tracker hosts.
	BlockAds bool // default: false
}

// PoolConfig tunes the engine pool and its optimizer.
type PoolConfig struct {
	// Capacity is the maximum number of idle engines kept for reuse.
	Capacity int // default: 3

	// TrimInterval is how often each engine is considered for trimming.
	TrimInterval time.Duration // default: 60s

	// TrimThresholdMB is the estimated footprint above which an engine is trimmed.
	TrimThresholdMB int // default: 50

	// PostLoadTrimDelay is the wait between a page load and its trim.
	PostLoadTrimDelay time.Duration // default: 2s

	// WakeImageDelay defers image loading after a wake.
	WakeImageDelay time.Duration // default: 300ms

	// MaintenanceInterval is how often heap pressure is sampled.
	MaintenanceInterval time.Duration // default: 10s

	// MemThreshold is the heap fraction (0.0-1.0) above which idle engines are shed.
	MemThreshold float64 // default: 0.9

	// TransientPrefixes are the localStorage key prefixes swept by a trim.
	TransientPrefixes []string // default: ["temp_", "cache_"]
}

// TabsConfig controls tab persistence and auto-hibernation.
type TabsConfig struct {
	// DBPath is the SQLite file holding tab records.
	DBPath string // default: "tabhost.db"

	// HibernateAfter is the idle time before a tab is hibernated. 0 disables.
	HibernateAfter time.Duration // default: 10m

	// SweepInterval is how often idle tabs are looked for.
	SweepInterval time.Duration // default: 1m

	// RestoreTabs reopens persisted tabs at startup.
	RestoreTabs bool // default: true

	// NavTimeout bounds a navigation without an explicit timeout.
	NavTimeout time.Duration // default: 30s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 20

	// Burst is the maximum burst size per API key.
	Burst int // default: 40
}

// CacheConfig controls the snapshot cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached snapshots.
	MaxEntries int // default: 500
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// WebhookConfig controls lifecycle event delivery. An empty URL disables it.
type WebhookConfig struct {
	URL    string
	Secret string
}

// DownloadConfig controls tab downloads.
type DownloadConfig struct {
	// MaxMB caps a downloaded body.
	MaxMB int // default: 50

	// Timeout bounds a whole download.
	Timeout time.Duration // default: 60s
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("TABHOST_HOST", "0.0.0.0"),
			Port: envIntOr("TABHOST_PORT", 8080),
			Mode: envOr("TABHOST_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("TABHOST_HEADLESS", true),
			NoSandbox:      envBoolOr("TABHOST_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("TABHOST_BROWSER_BIN"),
			Proxy:          os.Getenv("TABHOST_PROXY"),
			ViewportWidth:  envIntOr("TABHOST_VIEWPORT_WIDTH", 412),
			ViewportHeight: envIntOr("TABHOST_VIEWPORT_HEIGHT", 915),
			Stealth:        envBoolOr("TABHOST_STEALTH", false),
			BlockAds:       envBoolOr("TABHOST_BLOCK_ADS", false),
		},
		Pool: PoolConfig{
			Capacity:            envIntOr("TABHOST_POOL_CAPACITY", 3),
			TrimInterval:        envDurationOr("TABHOST_TRIM_INTERVAL", 60*time.Second),
			TrimThresholdMB:     envIntOr("TABHOST_TRIM_THRESHOLD_MB", 50),
			PostLoadTrimDelay:   envDurationOr("TABHOST_POST_LOAD_TRIM_DELAY", 2*time.Second),
			WakeImageDelay:      envDurationOr("TABHOST_WAKE_IMAGE_DELAY", 300*time.Millisecond),
			MaintenanceInterval: envDurationOr("TABHOST_MAINTENANCE_INTERVAL", 10*time.Second),
			MemThreshold:        envFloatOr("TABHOST_MEM_THRESHOLD", 0.9),
			TransientPrefixes:   envSliceOr("TABHOST_TRANSIENT_PREFIXES", []string{"temp_", "cache_"}),
		},
		Tabs: TabsConfig{
			DBPath:         envOr("TABHOST_DB_PATH", "tabhost.db"),
			HibernateAfter: envDurationOr("TABHOST_HIBERNATE_AFTER", 10*time.Minute),
			SweepInterval:  envDurationOr("TABHOST_SWEEP_INTERVAL", time.Minute),
			RestoreTabs:    envBoolOr("TABHOST_RESTORE_TABS", true),
			NavTimeout:     envDurationOr("TABHOST_NAV_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("TABHOST_AUTH_ENABLED", true),
			APIKeys: envSliceOr("TABHOST_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("TABHOST_RATE_RPS", 20),
			Burst:             envIntOr("TABHOST_RATE_BURST", 40),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("TABHOST_CACHE_MAX_ENTRIES", 500),
		},
		Log: LogConfig{
			Level:  envOr("TABHOST_LOG_LEVEL", "info"),
			Format: envOr("TABHOST_LOG_FORMAT", "json"),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("TABHOST_WEBHOOK_URL"),
			Secret: os.Getenv("TABHOST_WEBHOOK_SECRET"),
		},
		Download: DownloadConfig{
			MaxMB:   envIntOr("TABHOST_DOWNLOAD_MAX_MB", 50),
			Timeout: envDurationOr("TABHOST_DOWNLOAD_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate reports every setting that would stop the service from working.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "TABHOST_PORT out of range: %d", c.Server.Port)
	check(c.Browser.ViewportWidth > 0 && c.Browser.ViewportHeight > 0,
		"viewport must be positive: %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	check(c.Pool.Capacity > 0, "TABHOST_POOL_CAPACITY must be positive: %d", c.Pool.Capacity)
	check(c.Pool.TrimInterval > 0, "TABHOST_TRIM_INTERVAL must be positive")
	check(c.Pool.TrimThresholdMB > 0, "TABHOST_TRIM_THRESHOLD_MB must be positive")
	check(c.Pool.MaintenanceInterval > 0, "TABHOST_MAINTENANCE_INTERVAL must be positive")
	check(c.Pool.MemThreshold > 0 && c.Pool.MemThreshold <= 1,
		"TABHOST_MEM_THRESHOLD must be in (0, 1]: %v", c.Pool.MemThreshold)
	check(c.Tabs.SweepInterval > 0, "TABHOST_SWEEP_INTERVAL must be positive")
	check(c.Tabs.HibernateAfter >= 0, "TABHOST_HIBERNATE_AFTER must not be negative")
	check(c.Tabs.DBPath != "", "TABHOST_DB_PATH must be set")
	check(!c.Auth.Enabled || len(c.Auth.APIKeys) > 0, "TABHOST_AUTH_ENABLED needs TABHOST_API_KEYS")
	check(c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst > 0, "rate limit must be positive")
	check(c.Download.MaxMB > 0, "TABHOST_DOWNLOAD_MAX_MB must be positive")

	return errors.Join(errs...)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
