package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/codemesh/artifact"
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/delegation"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
	"github.com/hupe1980/codemesh/registry"
	"github.com/hupe1980/codemesh/router"
)

// Config defines tuning parameters for the Engine.
type Config struct {
	// MaxConcurrentRuns bounds the runs executing at the same time. Further
	// runs wait for a slot. Zero or less means DefaultConfig's value.
	MaxConcurrentRuns int

	// MaxTurns bounds the dispatches of a single run.
	MaxTurns int

	// TurnBufferSize sets the buffer of the per-run turn channel.
	TurnBufferSize int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxConcurrentRuns: 4,
	MaxTurns:          router.DefaultMaxTurns,
	TurnBufferSize:    64,
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	Config Config

	// Registry is shared read-only by every run. Nil means no external agents.
	Registry *registry.Registry

	// Delegation handles External hints. When nil and Registry is set, a
	// delegation worker with default settings is created.
	Delegation *delegation.Worker

	// Artifacts receives worker outputs; purged by Purge. Defaults to an
	// in-memory store.
	Artifacts artifact.Store

	Logger  *logging.StructuredLogger
	Metrics *metrics.Metrics
}

// RunResult is delivered once per run on the channel returned by Invoke.
type RunResult struct {
	State *core.WorkflowState
	Err   error
}

// Engine runs independent requests in parallel. Each run gets its own
// WorkflowState and router; workers, the registry and the artifact store are
// shared.
type Engine struct {
	config     Config
	workers    []core.Worker
	registry   *registry.Registry
	delegation *delegation.Worker
	artifacts  artifact.Store
	logger     *logging.StructuredLogger
	metrics    *metrics.Metrics
	callbacks  *CallbackManager
	sem        *semaphore.Weighted

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New creates an Engine dispatching to workers.
func New(workers []core.Worker, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig,
		Artifacts: artifact.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.MaxConcurrentRuns <= 0 {
		opts.Config.MaxConcurrentRuns = DefaultConfig.MaxConcurrentRuns
	}
	if opts.Config.TurnBufferSize <= 0 {
		opts.Config.TurnBufferSize = DefaultConfig.TurnBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Delegation == nil && opts.Registry != nil {
		opts.Delegation = delegation.NewWorker(
			delegation.NewClient(func(o *delegation.Options) {
				o.Logger = opts.Logger
				o.Metrics = opts.Metrics
			}),
			opts.Registry,
		)
	}

	return &Engine{
		config:     opts.Config,
		workers:    workers,
		registry:   opts.Registry,
		delegation: opts.Delegation,
		artifacts:  opts.Artifacts,
		logger:     opts.Logger.WithComponent("engine"),
		metrics:    opts.Metrics,
		callbacks:  NewCallbackManager(),
		sem:        semaphore.NewWeighted(int64(opts.Config.MaxConcurrentRuns)),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// RegisterCallback attaches a lifecycle callback to every subsequent run.
func (e *Engine) RegisterCallback(cb Callback) { e.callbacks.RegisterCallback(cb) }

// Registry returns the shared discovery registry (may be nil).
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Artifacts returns the artifact store.
func (e *Engine) Artifacts() artifact.Store { return e.artifacts }

// Invoke starts a run for request and returns immediately. Turns are streamed
// as they are logged; the result channel yields exactly one RunResult and is
// closed afterwards. The turn channel is closed before the result is sent.
func (e *Engine) Invoke(ctx context.Context, request string) (string, <-chan core.Turn, <-chan RunResult, error) {
	if request == "" {
		return "", nil, nil, errors.New("request must not be empty")
	}
	if len(e.workers) == 0 {
		return "", nil, nil, errors.New("no workers registered")
	}

	runID := util.NewID()
	turnsCh := make(chan core.Turn, e.config.TurnBufferSize)
	resultCh := make(chan RunResult, 1)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.activeRuns[runID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.activeRuns, runID)
			e.mu.Unlock()
			close(resultCh)
		}()

		state, err := e.run(runCtx, runID, request, turnsCh)
		close(turnsCh)
		resultCh <- RunResult{State: state, Err: err}
	}()

	return runID, turnsCh, resultCh, nil
}

// InvokeSync runs request to completion and returns the final state. Turns
// are discarded; register an after_turn callback to observe them.
func (e *Engine) InvokeSync(ctx context.Context, request string) (*core.WorkflowState, error) {
	_, turns, results, err := e.Invoke(ctx, request)
	if err != nil {
		return nil, err
	}
	for range turns {
	}
	res := <-results
	return res.State, res.Err
}

// Cancel stops a running run. The run still finishes with a report.
func (e *Engine) Cancel(runID string) error {
	e.mu.RLock()
	cancel, exists := e.activeRuns[runID]
	e.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

// ActiveRuns returns the number of runs started and not yet finished.
func (e *Engine) ActiveRuns() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.activeRuns)
}

// Purge drops the artifacts of a finished run.
func (e *Engine) Purge(runID string) {
	if e.artifacts != nil {
		e.artifacts.Purge(runID)
	}
}

func (e *Engine) run(ctx context.Context, runID, request string, turnsCh chan<- core.Turn) (*core.WorkflowState, error) {
	logger := e.logger.WithRun(runID)
	state := core.NewWorkflowState(runID, request)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		logger.Warn("Run canceled while waiting for a slot", "error", err)
		state.OverallStatus = core.StatusFailed
		state.RoutingHint = core.Terminal()
		return state, err
	}
	defer e.sem.Release(1)

	e.fire(ctx, CallbackBeforeRun, &CallbackContext{RunID: runID, State: state.Clone()})
	logger.Info("Run started", "request", request)

	seen := 0
	emit := func(s *core.WorkflowState) {
		for ; seen < len(s.Log); seen++ {
			turn := s.Log[seen]
			e.fire(ctx, CallbackAfterTurn, &CallbackContext{RunID: runID, Turn: &turn})
			select {
			case turnsCh <- turn:
			case <-ctx.Done():
			}
		}
	}

	r := router.New(e.workers, func(o *router.Options) {
		o.Registry = e.registry
		o.Delegation = e.delegation
		o.MaxTurns = e.config.MaxTurns
		o.OnAdvance = emit
		o.Logger = e.logger
		o.Metrics = e.metrics
	})

	final, err := r.Run(ctx, state)
	emit(final)

	if err != nil {
		e.fire(ctx, CallbackOnError, &CallbackContext{RunID: runID, State: final.Clone(), Err: err})
	}
	e.fire(ctx, CallbackAfterRun, &CallbackContext{RunID: runID, State: final.Clone(), Err: err})
	logger.Info("Run finished", "overall_status", string(final.OverallStatus), "turns", r.Turns(), "error", err)
	return final, err
}

func (e *Engine) fire(ctx context.Context, t CallbackType, cbCtx *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), t, cbCtx); err != nil {
		e.logger.WithRun(cbCtx.RunID).Warn("Callback failed", "error", err)
	}
}
