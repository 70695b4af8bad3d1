// Package config loads codemesh configuration from YAML (or JSON, which is
// accepted as YAML) and resolves the list of external agents.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/codemesh/registry"
)

// Environment variables consulted by LoadAgents when the configuration names
// no agents.
const (
	EnvAgentsFile = "CODEMESH_AGENTS_FILE"
	EnvConfigPath = "A2A_CONFIG_PATH"
	EnvAgents     = "A2A_AGENTS"
)

// Config represents the complete codemesh configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Delegation DelegationConfig `yaml:"delegation"`
	Model      ModelConfig      `yaml:"model"`
	Log        LogConfig        `yaml:"log"`

	// ExternalAgents lists agents inline. ExternalAgentsFile is read when the
	// inline list is empty; relative paths resolve against the config file.
	ExternalAgents     []registry.ExternalAgentDescriptor `yaml:"external_agents"`
	ExternalAgentsFile string                             `yaml:"external_agents_file"`
}

// EngineConfig bounds a run.
type EngineConfig struct {
	// MaxRetries is the retry budget per task.
	MaxRetries int `yaml:"max_retries"`
	// MaxTurns bounds the dispatches of one run.
	MaxTurns int `yaml:"max_turns"`
	// MaxConcurrentRuns bounds runs executing in parallel.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// TimeoutsConfig holds Go duration strings such as "90s" or "2m".
type TimeoutsConfig struct {
	Reasoning  time.Duration `yaml:"reasoning"`
	Discovery  time.Duration `yaml:"discovery"`
	Delegation time.Duration `yaml:"delegation"`
}

// DelegationConfig tunes the delegation client.
type DelegationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ModelConfig selects the reasoning engine.
type ModelConfig struct {
	// Provider is one of mock, openai or anthropic.
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	BaseURL     string  `yaml:"base_url"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Supported model providers.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxRetries:        2,
			MaxTurns:          50,
			MaxConcurrentRuns: 4,
		},
		Timeouts: TimeoutsConfig{
			Reasoning:  60 * time.Second,
			Discovery:  10 * time.Second,
			Delegation: 120 * time.Second,
		},
		Delegation: DelegationConfig{
			PollInterval: time.Second,
		},
		Model: ModelConfig{
			Provider:    ProviderMock,
			Temperature: 0.2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must not be negative")
	}
	if c.Engine.MaxTurns <= 0 {
		return errors.New("engine.max_turns must be positive")
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		return errors.New("engine.max_concurrent_runs must be positive")
	}
	if c.Timeouts.Reasoning < 0 || c.Timeouts.Discovery < 0 || c.Timeouts.Delegation < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Delegation.PollInterval <= 0 {
		return errors.New("delegation.poll_interval must be positive")
	}
	switch c.Model.Provider {
	case ProviderMock, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("model.provider %q is not supported", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return errors.New("model.temperature must be between 0 and 2")
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}
	for i, d := range c.ExternalAgents {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("external_agents[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults. The result is validated.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.ExternalAgentsFile != "" && !filepath.IsAbs(cfg.ExternalAgentsFile) {
		cfg.ExternalAgentsFile = filepath.Join(filepath.Dir(path), cfg.ExternalAgentsFile)
	}
	return cfg, nil
}

// Parse decodes configuration data on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type agentsFile struct {
	ExternalAgents []registry.ExternalAgentDescriptor `yaml:"external_agents"`
}

// LoadAgentsFile reads a document of the form {"external_agents": [...]}.
func LoadAgentsFile(path string) ([]registry.ExternalAgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents file %s: %w", path, err)
	}
	return f.ExternalAgents, nil
}

// ParseAgents decodes an inline list such as
// [{"name":"translator","base_url":"http://localhost:9999"}].
func ParseAgents(data string) ([]registry.ExternalAgentDescriptor, error) {
	var descs []registry.ExternalAgentDescriptor
	if err := yaml.Unmarshal([]byte(data), &descs); err != nil {
		return nil, fmt.Errorf("failed to parse agents: %w", err)
	}
	return descs, nil
}

// LoadAgents resolves the external agent list. The first non-empty source
// wins: inline external_agents, external_agents_file, then the
// CODEMESH_AGENTS_FILE, A2A_CONFIG_PATH and A2A_AGENTS environment variables.
// No source at all yields an empty list.
func (c *Config) LoadAgents() ([]registry.ExternalAgentDescriptor, error) {
	return c.loadAgents(os.Getenv)
}

func (c *Config) loadAgents(getenv func(string) string) ([]registry.ExternalAgentDescriptor, error) {
	if len(c.ExternalAgents) > 0 {
		return c.ExternalAgents, nil
	}
	if c.ExternalAgentsFile != "" {
		return LoadAgentsFile(c.ExternalAgentsFile)
	}
	for _, env := range []string{EnvAgentsFile, EnvConfigPath} {
		if path := getenv(env); path != "" {
			return LoadAgentsFile(path)
		}
	}
	if inline := getenv(EnvAgents); inline != "" {
		descs, err := ParseAgents(inline)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvAgents, err)
		}
		return descs, nil
	}
	return nil, nil
}
