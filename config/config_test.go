package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codemesh/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Engine.MaxRetries)
	assert.Equal(t, 50, cfg.Engine.MaxTurns)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentRuns)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Reasoning)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Discovery)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Delegation)
	assert.Equal(t, time.Second, cfg.Delegation.PollInterval)
	assert.Equal(t, ProviderMock, cfg.Model.Provider)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  max_retries: 3
timeouts:
  reasoning: 90s
  delegation: 2m
model:
  provider: anthropic
  name: claude-sonnet
external_agents:
  - name: translator
    base_url: http://localhost:9999
    auth_token: secret
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 50, cfg.Engine.MaxTurns, "unset keys keep defaults")
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Reasoning)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Delegation)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Discovery)
	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, []registry.ExternalAgentDescriptor{
		{Name: "translator", BaseURL: "http://localhost:9999", AuthToken: "secret"},
	}, cfg.ExternalAgents)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"engine":{"max_turns":10},"log":{"level":"debug","format":"json"}}`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Engine.MaxTurns)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "negative retries", mutate: func(c *Config) { c.Engine.MaxRetries = -1 }},
		{name: "zero turns", mutate: func(c *Config) { c.Engine.MaxTurns = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Engine.MaxConcurrentRuns = 0 }},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeouts.Discovery = -time.Second }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Delegation.PollInterval = 0 }},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "llama" }},
		{name: "temperature", mutate: func(c *Config) { c.Model.Temperature = 3 }},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "agent without name", mutate: func(c *Config) {
			c.ExternalAgents = []registry.ExternalAgentDescriptor{{BaseURL: "http://x"}}
		}},
		{name: "agent with bad url", mutate: func(c *Config) {
			c.ExternalAgents = []registry.ExternalAgentDescriptor{{Name: "a", BaseURL: "ftp://x"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("engine: [1, 2"))
	assert.Error(t, err)

	_, err = Parse([]byte("timeouts:\n  reasoning: soon\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("engine:\n  max_retries: -2\n"))
	assert.ErrorContains(t, err, "max_retries")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_ResolvesAgentsFileRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agents.json", `{"external_agents":[{"name":"a","base_url":"http://a:1"},{"name":"b","base_url":"http://b:2"}]}`)
	path := writeFile(t, dir, "codemesh.yaml", "external_agents_file: agents.json\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "agents.json"), cfg.ExternalAgentsFile)

	descs, err := cfg.loadAgents(func(string) string { return "" })
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "b", descs[1].Name)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadAgents_Precedence(t *testing.T) {
	dir := t.TempDir()
	fileA := writeFile(t, dir, "a.json", `{"external_agents":[{"name":"from-codemesh-env","base_url":"http://a"}]}`)
	fileB := writeFile(t, dir, "b.json", `{"external_agents":[{"name":"from-a2a-env","base_url":"http://b"}]}`)

	env := map[string]string{
		EnvAgentsFile: fileA,
		EnvConfigPath: fileB,
		EnvAgents:     `[{"name":"from-inline-env","base_url":"http://c"}]`,
	}
	getenv := func(k string) string { return env[k] }

	cfg := DefaultConfig()
	cfg.ExternalAgents = []registry.ExternalAgentDescriptor{{Name: "inline", BaseURL: "http://i"}}
	descs, err := cfg.loadAgents(getenv)
	require.NoError(t, err)
	assert.Equal(t, "inline", descs[0].Name)

	cfg = DefaultConfig()
	descs, err = cfg.loadAgents(getenv)
	require.NoError(t, err)
	assert.Equal(t, "from-codemesh-env", descs[0].Name)

	delete(env, EnvAgentsFile)
	descs, err = cfg.loadAgents(getenv)
	require.NoError(t, err)
	assert.Equal(t, "from-a2a-env", descs[0].Name)

	delete(env, EnvConfigPath)
	descs, err = cfg.loadAgents(getenv)
	require.NoError(t, err)
	assert.Equal(t, "from-inline-env", descs[0].Name)

	delete(env, EnvAgents)
	descs, err = cfg.loadAgents(getenv)
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestLoadAgents_BadInlineEnv(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.loadAgents(func(k string) string {
		if k == EnvAgents {
			return `[{"name":`
		}
		return ""
	})
	assert.ErrorContains(t, err, EnvAgents)
}
