package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/codemesh"
	"github.com/hupe1980/codemesh/agent"
	"github.com/hupe1980/codemesh/config"
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/delegation"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
	"github.com/hupe1980/codemesh/model"
	anthropicmodel "github.com/hupe1980/codemesh/model/anthropic"
	openaimodel "github.com/hupe1980/codemesh/model/openai"
	"github.com/hupe1980/codemesh/registry"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg     *config.Config
	logger  *logging.StructuredLogger
	metrics *metrics.Metrics
	mesh    *codemesh.Mesh
}

func loadConfig(flags globalFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(flags.configPath); err != nil {
			return nil, err
		}
	}
	if flags.agentsPath != "" {
		cfg.ExternalAgents = nil
		cfg.ExternalAgentsFile = flags.agentsPath
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

func newApp(ctx context.Context, flags globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newAppFromConfig(ctx, cfg, nil)
}

// newAppFromConfig wires every component from cfg. llm overrides the
// configured provider when set.
func newAppFromConfig(ctx context.Context, cfg *config.Config, llm model.Model) (*app, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: appName,
	})
	m := metrics.New(prometheus.NewRegistry())

	descs, err := cfg.LoadAgents()
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if llm == nil {
		if llm, err = buildModel(cfg.Model); err != nil {
			return nil, err
		}
	}

	mesh, err := codemesh.New(ctx, llm, func(o *codemesh.Options) {
		o.EngineConfig.MaxConcurrentRuns = cfg.Engine.MaxConcurrentRuns
		o.EngineConfig.MaxTurns = cfg.Engine.MaxTurns
		o.Agents = descs
		o.Discovery = func(o *registry.Options) { o.FetchTimeout = cfg.Timeouts.Discovery }
		o.Delegation = func(o *delegation.Options) {
			o.Timeout = cfg.Timeouts.Delegation
			o.PollInterval = cfg.Delegation.PollInterval
		}
		o.MaxRetries = cfg.Engine.MaxRetries
		o.Workers = func(o *agent.Options) { o.ReasoningTimeout = cfg.Timeouts.Reasoning }
		o.Logger = logger
		o.Metrics = m
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, metrics: m, mesh: mesh}, nil
}

func buildModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		return model.NewMockModel("mock", config.ProviderMock), nil
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Name != "" {
				o.Model = anthropic.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
		}), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// run executes request, printing turns as they arrive and the final report.
func (a *app) run(ctx context.Context, request string, out io.Writer) error {
	runID, turns, results, err := a.mesh.Invoke(ctx, request)
	if err != nil {
		return err
	}
	defer a.mesh.Engine().Purge(runID)

	p := newPrinter(out)
	for turn := range turns {
		p.turn(turn)
	}
	res := <-results

	if res.State == nil || res.State.Report == nil {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("run %s produced no report", runID)
	}
	p.report(*res.State.Report)

	if res.Err != nil {
		return res.Err
	}
	if res.State.OverallStatus == core.StatusFailed {
		return errRunFailed
	}
	return nil
}
