package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env / .env.local into the process environment if
// present, the same "local dev convenience" godotenv gives the teacher's
// own configuration loader. Missing files are not an error.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// applyEnvOverrides lets deployment-time environment variables override
// individual YAML keys, named AGENTFLOW_<SECTION>_<KEY> per SPEC_FULL.md
// §6's configuration table. A variable that's unset or fails to parse for
// its field's type leaves the YAML (or default) value untouched.
func applyEnvOverrides(cfg *Config) {
	overrideBool("AGENTFLOW_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	overrideString("AGENTFLOW_RATE_LIMIT_POLICY", &cfg.RateLimit.Policy)
	overrideInt("AGENTFLOW_RATE_LIMIT_PROVIDER_COOLDOWN_SEC", &cfg.RateLimit.ProviderCooldownSec)

	overrideInt("AGENTFLOW_QUOTA_WINDOW_DAYS", &cfg.Quota.WindowDays)
	overrideInt64("AGENTFLOW_QUOTA_DEFAULT_LIMIT", &cfg.Quota.DefaultLimit)
	overrideString("AGENTFLOW_QUOTA_ENFORCEMENT", &cfg.Quota.Enforcement)

	overrideInt("AGENTFLOW_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	overrideString("AGENTFLOW_RETRY_INITIAL_DELAY", &cfg.Retry.InitialDelay)
	overrideString("AGENTFLOW_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)
	overrideFloat64("AGENTFLOW_RETRY_FACTOR", &cfg.Retry.Factor)
	overrideBool("AGENTFLOW_RETRY_JITTER", &cfg.Retry.Jitter)

	overrideUint32("AGENTFLOW_BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	overrideString("AGENTFLOW_BREAKER_RECOVERY_TIMEOUT", &cfg.Breaker.RecoveryTimeout)

	overrideInt("AGENTFLOW_HITL_DEFAULT_TIMEOUT_SECONDS", &cfg.HITL.DefaultTimeoutSeconds)

	overrideFloat64("AGENTFLOW_SHADOW_SAMPLE_RATE", &cfg.Shadow.SampleRate)
	overrideFloat64("AGENTFLOW_SHADOW_DIVERGENCE_THRESHOLD", &cfg.Shadow.DivergenceThreshold)
	overrideInt("AGENTFLOW_SHADOW_WINDOW", &cfg.Shadow.Window)

	overrideString("AGENTFLOW_STORE_BACKEND", &cfg.Store.Backend)
	overrideString("AGENTFLOW_STORE_DSN", &cfg.Store.DSN)
}

func overrideString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func overrideBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseBool(v); err == nil {
		*dst = parsed
	}
}

func overrideInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	}
}

func overrideInt64(key string, dst *int64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = parsed
	}
}

func overrideUint32(key string, dst *uint32) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
		*dst = uint32(parsed)
	}
}

func overrideFloat64(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = parsed
	}
}
