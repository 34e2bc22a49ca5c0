package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_ProducesSaneStartingValues(t *testing.T) {
	cfg := Default()
	if !cfg.RateLimit.Enabled {
		t.Error("expected rate limiting enabled by default")
	}
	if cfg.Quota.Enforcement != "soft" {
		t.Errorf("expected soft enforcement by default, got %s", cfg.Quota.Enforcement)
	}
	if cfg.Shadow.SampleRate != 0 {
		t.Errorf("expected shadow runner disabled by default, got sample_rate %f", cfg.Shadow.SampleRate)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory store backend by default, got %s", cfg.Store.Backend)
	}
}

func TestLoad_YAMLOverridesDefaultsAndFillsOmittedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	yamlContent := `
rate_limit:
  policy: cost_weighted
  provider:
    openai:
      rate_per_sec: 5
quota:
  enforcement: hard
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.Policy != "cost_weighted" {
		t.Errorf("expected cost_weighted policy, got %s", cfg.RateLimit.Policy)
	}
	if cfg.RateLimit.Providers["openai"].RatePerSec != 5 {
		t.Errorf("expected openai rate_per_sec 5, got %+v", cfg.RateLimit.Providers["openai"])
	}
	if cfg.Quota.Enforcement != "hard" {
		t.Errorf("expected hard enforcement, got %s", cfg.Quota.Enforcement)
	}
	// retry wasn't in the YAML at all; it should keep Default()'s values.
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected retry defaults preserved, got %+v", cfg.Retry)
	}
}

func TestLoad_EnvOverridesWinOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	if err := os.WriteFile(path, []byte("quota:\n  default_limit: 1000\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("AGENTFLOW_QUOTA_DEFAULT_LIMIT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Quota.DefaultLimit != 9999 {
		t.Errorf("expected env override to win, got %d", cfg.Quota.DefaultLimit)
	}
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	if _, err := Load("/nonexistent/agentflow.yaml"); err == nil {
		t.Error("expected an error loading a nonexistent config file")
	}
}
