package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
providers:
  anthropic:
    api_key_env: ANTHROPIC_API_KEY
  openai:
    api_key_env: OPENAI_API_KEY
  ollama:
    host: http://localhost:11434
models:
  claude-sonnet:
    provider: anthropic
    context_window: 200000
    input_price_per_mtok: 3.0
    output_price_per_mtok: 15.0
    fallbacks: [gpt-4o, local-llama]
  gpt-4o:
    provider: openai
    context_window: 128000
    input_price_per_mtok: 2.5
    output_price_per_mtok: 10.0
  local-llama:
    provider: ollama
    context_window: 32768
retry:
  max_retries: 5
  base_delay: 500ms
breaker:
  threshold: 3
  reset_timeout: 1m
checkpoint:
  default_timeout: 10m
dispatch:
  poll_interval: 15s
  opportunistic_probability: 0.1
context_warn_fraction: 0.9
`

func TestParse_FullDocument(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Providers["anthropic"].APIKeyEnv)
	assert.Equal(t, "http://localhost:11434", cfg.Providers["ollama"].Host)

	sonnet := cfg.Models["claude-sonnet"]
	assert.Equal(t, "anthropic", sonnet.Provider)
	assert.Equal(t, 200000, sonnet.ContextWindow)
	assert.Equal(t, []string{"gpt-4o", "local-llama"}, sonnet.Fallbacks)

	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 3, cfg.Breaker.Threshold)
	assert.Equal(t, time.Minute, cfg.Breaker.ResetTimeout.Std())
	assert.Equal(t, 10*time.Minute, cfg.Checkpoint.DefaultTimeout.Std())
	assert.Equal(t, 15*time.Second, cfg.Dispatch.PollInterval.Std())
	assert.InDelta(t, 0.9, cfg.ContextWarnFraction, 1e-9)
}

func TestParse_DefaultsSurviveSparseDocument(t *testing.T) {
	cfg, err := Parse([]byte("providers:\n  ollama:\n    host: http://localhost:11434\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Checkpoint.PollInterval.Std())
	assert.InDelta(t, 0.8, cfg.ContextWarnFraction, 1e-9)
}

func TestParse_RejectsUnknownProviderReference(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  anthropic: {}
models:
  mystery:
    provider: nowhere
    context_window: 1000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestParse_RejectsDanglingFallback(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  anthropic: {}
models:
  claude-sonnet:
    provider: anthropic
    context_window: 1000
    fallbacks: [missing]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback")
}

func TestParse_RejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("retry:\n  base_delay: soonish\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestParse_RejectsOutOfRangeFraction(t *testing.T) {
	_, err := Parse([]byte("context_warn_fraction: 1.5\n"))
	require.Error(t, err)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenthub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Models, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGatewayConversions(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	models := cfg.GatewayModels()
	require.Contains(t, models, "claude-sonnet")
	assert.Equal(t, "anthropic", models["claude-sonnet"].Provider)
	assert.Equal(t, []string{"gpt-4o", "local-llama"}, models["claude-sonnet"].Fallbacks)

	retry := cfg.GatewayRetry()
	assert.Equal(t, 5, retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, retry.BaseDelay)
	assert.InDelta(t, 0.2, retry.JitterFraction, 1e-9)
}

func TestProviderConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("AGENTHUB_TEST_KEY", "sk-test")
	p := ProviderConfig{APIKeyEnv: "AGENTHUB_TEST_KEY"}
	assert.Equal(t, "sk-test", p.APIKey())
	assert.Empty(t, ProviderConfig{}.APIKey())
}
