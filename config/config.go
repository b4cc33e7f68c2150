// Package config loads the hub configuration from YAML: provider
// credentials, the model routing table with pricing, retry and circuit
// breaker tuning, and the checkpoint and dispatch knobs. Load applies
// defaults first, then validates cross-references (model providers,
// fallback chains) so wiring errors surface at startup instead of on
// the first request.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agenthub/gateway"
)

// Duration wraps time.Duration for YAML decoding ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig holds credentials for one model provider.
type ProviderConfig struct {
	// APIKeyEnv names the environment variable carrying the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// Host is the base URL for self-hosted providers (ollama).
	Host string `yaml:"host"`
}

// APIKey resolves the key from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ModelConfig is one entry in the routing table.
type ModelConfig struct {
	Provider           string   `yaml:"provider"`
	ContextWindow      int      `yaml:"context_window"`
	InputPricePerMTok  float64  `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64  `yaml:"output_price_per_mtok"`
	Fallbacks          []string `yaml:"fallbacks"`
}

// RetryConfig tunes per-model retry behavior.
type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay"`
	Multiplier     float64  `yaml:"multiplier"`
	MaxDelay       Duration `yaml:"max_delay"`
	JitterFraction float64  `yaml:"jitter_fraction"`
}

// BreakerConfig tunes the circuit breaker registry.
type BreakerConfig struct {
	Threshold    int      `yaml:"threshold"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// CheckpointConfig tunes the approval manager.
type CheckpointConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	DefaultTimeout Duration `yaml:"default_timeout"`
}

// DispatchConfig tunes the dispatcher's poll loop.
type DispatchConfig struct {
	PollInterval             Duration `yaml:"poll_interval"`
	OpportunisticProbability float64  `yaml:"opportunistic_probability"`
	OpportunisticAgent       string   `yaml:"opportunistic_agent"`
}

// Config is the root configuration document.
type Config struct {
	Providers           map[string]ProviderConfig `yaml:"providers"`
	Models              map[string]ModelConfig    `yaml:"models"`
	Retry               RetryConfig               `yaml:"retry"`
	Breaker             BreakerConfig             `yaml:"breaker"`
	Checkpoint          CheckpointConfig          `yaml:"checkpoint"`
	Dispatch            DispatchConfig            `yaml:"dispatch"`
	ContextWarnFraction float64                   `yaml:"context_warn_fraction"`
}

// Default returns a config with every tuning knob at its default.
func Default() Config {
	return Config{
		Providers: map[string]ProviderConfig{},
		Models:    map[string]ModelConfig{},
		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      Duration(time.Second),
			Multiplier:     2.0,
			MaxDelay:       Duration(60 * time.Second),
			JitterFraction: 0.2,
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: Duration(30 * time.Second),
		},
		Checkpoint: CheckpointConfig{
			PollInterval:   Duration(500 * time.Millisecond),
			DefaultTimeout: Duration(30 * time.Minute),
		},
		Dispatch: DispatchConfig{
			PollInterval:             Duration(30 * time.Second),
			OpportunisticProbability: 0.05,
		},
		ContextWarnFraction: gateway.DefaultContextWarnFraction,
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-references and value ranges.
func (c Config) Validate() error {
	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q: provider is required", name)
		}
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}
		if m.ContextWindow <= 0 {
			return fmt.Errorf("model %q: context_window must be positive", name)
		}
		for _, fb := range m.Fallbacks {
			if _, ok := c.Models[fb]; !ok {
				return fmt.Errorf("model %q: fallback %q is not defined", name, fb)
			}
			if fb == name {
				return fmt.Errorf("model %q: fallback references itself", name)
			}
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if j := c.Retry.JitterFraction; j < 0 || j >= 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0, 1)")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive")
	}
	if c.ContextWarnFraction <= 0 || c.ContextWarnFraction > 1 {
		return fmt.Errorf("context_warn_fraction must be in (0, 1]")
	}
	if p := c.Dispatch.OpportunisticProbability; p < 0 || p > 1 {
		return fmt.Errorf("dispatch.opportunistic_probability must be in [0, 1]")
	}
	return nil
}

// GatewayModels converts the routing table to the gateway's form.
func (c Config) GatewayModels() map[string]gateway.ModelConfig {
	models := make(map[string]gateway.ModelConfig, len(c.Models))
	for name, m := range c.Models {
		models[name] = gateway.ModelConfig{
			Provider:           m.Provider,
			ContextWindow:      m.ContextWindow,
			InputPricePerMTok:  m.InputPricePerMTok,
			OutputPricePerMTok: m.OutputPricePerMTok,
			Fallbacks:          m.Fallbacks,
		}
	}
	return models
}

// GatewayRetry converts the retry section to the gateway's form.
func (c Config) GatewayRetry() gateway.RetryConfig {
	return gateway.RetryConfig{
		MaxRetries:     c.Retry.MaxRetries,
		BaseDelay:      c.Retry.BaseDelay.Std(),
		Multiplier:     c.Retry.Multiplier,
		MaxDelay:       c.Retry.MaxDelay.Std(),
		JitterFraction: c.Retry.JitterFraction,
	}
}
