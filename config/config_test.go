package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 100, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Executor.MaxRecursionDepth)
	assert.Equal(t, 20, cfg.Planner.MaxRefinementHistory)
	assert.InDelta(t, 0.6, cfg.Planner.MinRefinementConfidence, 1e-9)
}

func TestThresholds_For(t *testing.T) {
	th := DefaultConfig().Discovery.Thresholds

	assert.InDelta(t, 0.5, th.For("click"), 1e-9)
	assert.InDelta(t, 0.7, th.For("type"), 1e-9)
	assert.InDelta(t, 0.7, th.For("hover"), 1e-9)
	assert.InDelta(t, 0.7, th.For("verify"), 1e-9)
	assert.InDelta(t, 0.6, th.For("navigate"), 1e-9)
	assert.InDelta(t, 0.6, th.For("unknown"), 1e-9)
}

func TestLoader_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	content := `
log:
  level: debug
retry:
  max_retries: 5
  backoff: linear
cache:
  ttl: 10m
discovery:
  thresholds:
    click: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "linear", cfg.Retry.Backoff)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.InDelta(t, 0.4, cfg.Discovery.Thresholds.Click, 1e-9)
	// Untouched sections keep defaults.
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.InDelta(t, 0.7, cfg.Discovery.Thresholds.Type, 1e-9)
}

func TestLoader_MissingFileIgnored(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/kestrel.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("KESTREL_RETRY_MAX_RETRIES", "7")
	t.Setenv("KESTREL_BREAKER_TIMEOUT", "90s")
	t.Setenv("KESTREL_BROWSER_HEADLESS", "false")
	t.Setenv("KESTREL_DISCOVERY_THRESHOLDS_VERIFY", "0.85")
	t.Setenv("KESTREL_LLM_MODEL", "gpt-4o")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Breaker.Timeout)
	assert.False(t, cfg.Browser.Headless)
	assert.InDelta(t, 0.85, cfg.Discovery.Thresholds.Verify, 1e-9)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: from-file\n"), 0o644))
	t.Setenv("KESTREL_LLM_MODEL", "from-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.Model)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.LLM.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}
