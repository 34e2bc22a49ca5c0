// Package config loads the typed configuration surface SPEC_FULL.md §6
// enumerates: YAML as the primary source, with environment variables
// overriding individual keys for local development and deployment secrets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig is the gateway/ratelimit + gateway/router surface.
type RateLimitConfig struct {
	Enabled             bool                        `yaml:"enabled"`
	Providers           map[string]ProviderRateLimit `yaml:"provider"`
	Policy              string                       `yaml:"policy"`
	ProviderCooldownSec int                          `yaml:"provider_cooldown_sec"`
}

// ProviderRateLimit is one provider's entry under rate_limit.provider.<name>.
type ProviderRateLimit struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
}

// QuotaConfig is the gateway/quota surface.
type QuotaConfig struct {
	WindowDays   int    `yaml:"window_days"`
	DefaultLimit int64  `yaml:"default_limit"`
	Enforcement  string `yaml:"enforcement"` // soft | hard
}

// RetryConfig is the gateway/retry backoff policy surface.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay"` // duration string, e.g. "500ms"
	MaxDelay     string  `yaml:"max_delay"`
	Factor       float64 `yaml:"factor"`
	Jitter       bool    `yaml:"jitter"`
}

// BreakerConfig is the gateway/router circuit breaker surface.
type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"` // duration string
}

// HITLConfig is the hitl package's review-expiry surface.
type HITLConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

// ShadowConfig is the versioning package's shadow-run and divergence
// monitor surface.
type ShadowConfig struct {
	SampleRate          float64 `yaml:"sample_rate"`
	DivergenceThreshold float64 `yaml:"divergence_threshold"`
	Window              int     `yaml:"window"`
}

// StoreConfig selects the checkpoint persistence backend, per SPEC_FULL.md
// §4.2's three supported backends.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory | sqlite | mysql
	DSN     string `yaml:"dsn"`     // sqlite file path, or mysql DSN
}

// Config is the complete configuration surface SPEC_FULL.md §6 names, the
// single entry point every component reads its settings from.
type Config struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Quota     QuotaConfig     `yaml:"quota"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	HITL      HITLConfig      `yaml:"hitl"`
	Shadow    ShadowConfig    `yaml:"shadow"`
	Store     StoreConfig     `yaml:"store"`
}

// Default returns the configuration the system runs with when no file is
// supplied: rate limiting and quota enforcement on, conservative retry and
// breaker defaults, and a disabled shadow runner (sample_rate 0).
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Enabled:             true,
			Policy:              "primary",
			ProviderCooldownSec: 30,
		},
		Quota: QuotaConfig{
			WindowDays:   30,
			DefaultLimit: 1_000_000,
			Enforcement:  "soft",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: "500ms",
			MaxDelay:     "10s",
			Factor:       2.0,
			Jitter:       true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  "30s",
		},
		HITL: HITLConfig{
			DefaultTimeoutSeconds: 3600,
		},
		Shadow: ShadowConfig{
			SampleRate:          0,
			DivergenceThreshold: 0.85,
			Window:              50,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
	}
}

// Load reads YAML configuration from path, starting from Default() so any
// key the file omits keeps its default, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
