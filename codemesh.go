// Package codemesh provides a high-level façade that wires the internal worker
// team, external agent discovery, delegation and the run engine from a small
// set of options. Most applications interact with this package by:
//  1. Creating a Mesh via New() with a reasoning model and optional agents
//  2. Running requests asynchronously (Invoke) or synchronously (InvokeSync)
//  3. Reading the FinalReport from the returned state
//
// Every unset dependency gets an in-memory or no-op default that is safe for
// local development and tests.
package codemesh

import (
	"context"

	"github.com/hupe1980/codemesh/agent"
	"github.com/hupe1980/codemesh/artifact"
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/delegation"
	"github.com/hupe1980/codemesh/engine"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
	"github.com/hupe1980/codemesh/registry"
)

// Options configures a Mesh.
type Options struct {
	// Engine configuration (run concurrency, turn budget, buffers).
	EngineConfig engine.Config

	// Agents are discovered once in New. A failing agent is kept as
	// unhealthy and never fails New.
	Agents    []registry.ExternalAgentDescriptor
	Discovery func(o *registry.Options)

	// Delegation tunes the delegation client (timeout, poll interval).
	Delegation func(o *delegation.Options)

	// MaxRetries is the retry budget per task shared by internal validation
	// and external delegation.
	MaxRetries int

	// Workers tunes the internal team (reasoning timeout, instructions).
	Workers func(o *agent.Options)

	// Validator checks produced outputs. Nil asks the reasoning model.
	Validator agent.Validator

	// Artifacts defaults to an in-memory store.
	Artifacts artifact.Store

	// Logger defaults to a discarding logger.
	Logger  *logging.StructuredLogger
	Metrics *metrics.Metrics
}

// Mesh is the high-level façade over engine.Engine.
type Mesh struct {
	opts   Options
	engine *engine.Engine
}

// New discovers the configured agents and builds the worker team and engine.
// It only fails when ctx ends during discovery.
func New(ctx context.Context, llm model.Model, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		MaxRetries:   recovery.DefaultMaxRetries,
		Artifacts:    artifact.NewInMemoryStore(),
		Logger:       logging.Discard(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg, err := registry.Discover(ctx, opts.Agents, func(o *registry.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		if opts.Discovery != nil {
			opts.Discovery(o)
		}
	})
	if err != nil {
		return nil, err
	}

	machine := recovery.New(func(o *recovery.Options) {
		o.MaxRetries = opts.MaxRetries
		o.Logger = opts.Logger.WithComponent("recovery")
		o.Metrics = opts.Metrics
	})

	workers := agent.NewTeam(llm, reg, opts.Validator, func(o *agent.Options) {
		if opts.Workers != nil {
			opts.Workers(o)
		}
		o.Machine = machine
		o.Artifacts = opts.Artifacts
		o.Logger = opts.Logger.WithComponent("agent")
	})

	client := delegation.NewClient(func(o *delegation.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		if opts.Delegation != nil {
			opts.Delegation(o)
		}
	})
	delegate := delegation.NewWorker(client, reg, func(o *delegation.WorkerOptions) {
		o.Machine = machine
		o.Logger = opts.Logger.WithComponent("delegation")
	})

	e := engine.New(workers, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Registry = reg
		o.Delegation = delegate
		o.Artifacts = opts.Artifacts
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	return &Mesh{opts: opts, engine: e}, nil
}

// Engine returns the underlying engine.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// Registry returns the discovery result.
func (m *Mesh) Registry() *registry.Registry { return m.engine.Registry() }

// RegisterCallback attaches a lifecycle callback to subsequent runs.
func (m *Mesh) RegisterCallback(cb engine.Callback) { m.engine.RegisterCallback(cb) }

// Invoke starts a run and returns its id, the turn stream and the result
// channel.
func (m *Mesh) Invoke(ctx context.Context, request string) (string, <-chan core.Turn, <-chan engine.RunResult, error) {
	return m.engine.Invoke(ctx, request)
}

// InvokeSync runs request to completion. The returned state carries the
// FinalReport even when the error is non-nil.
func (m *Mesh) InvokeSync(ctx context.Context, request string) (*core.WorkflowState, error) {
	return m.engine.InvokeSync(ctx, request)
}

// Cancel stops a running run.
func (m *Mesh) Cancel(runID string) error { return m.engine.Cancel(runID) }
