// Package router drives a run: it resolves routing hints to workers, applies
// the default chain when no hint is given, and hands the workflow state to
// exactly one worker per turn.
//
// Default chain:
//
//	planner → architect → coder → tester → error_recovery (last validation failed) | aggregator
//	error_recovery → tester
//	external agent → next open external task | tester
//	aggregator → terminal
//
// External hints are checked against the registry before any network call.
// An unknown or unhealthy agent fails the affected tasks and the chain
// continues. An unregistered internal worker is a programming fault and
// aborts the run with core.ErrUnroutable.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/delegation"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
	"github.com/hupe1980/codemesh/registry"
)

// DefaultMaxTurns bounds the number of dispatches per run.
const DefaultMaxTurns = 50

// Turn budget and abort reasons recorded on tasks left open.
const (
	ReasonTurnBudget = "turn budget exhausted"
	ReasonCanceled   = "run canceled"
	ReasonAborted    = "run aborted"
)

// Options configures a Router.
type Options struct {
	Registry   *registry.Registry
	Delegation *delegation.Worker
	MaxTurns   int
	// OnAdvance is called with the state after every step of Run, including
	// the final one.
	OnAdvance func(state *core.WorkflowState)
	Logger    *logging.StructuredLogger
	Metrics   *metrics.Metrics
}

// Router owns the workflow state of one run. It is not safe for concurrent
// use; build one Router per run.
type Router struct {
	workers    map[core.WorkerID]core.Worker
	registry   *registry.Registry
	delegation *delegation.Worker
	maxTurns   int
	onAdvance  func(state *core.WorkflowState)
	logger     *logging.StructuredLogger
	metrics    *metrics.Metrics

	turns int
	last  core.RouteTarget
}

// New creates a Router with a static dispatch table built from workers.
func New(workers []core.Worker, optFns ...func(o *Options)) *Router {
	opts := Options{MaxTurns: DefaultMaxTurns}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	table := make(map[core.WorkerID]core.Worker, len(workers))
	for _, w := range workers {
		table[w.ID()] = w
	}
	return &Router{
		workers:    table,
		registry:   opts.Registry,
		delegation: opts.Delegation,
		maxTurns:   opts.MaxTurns,
		onAdvance:  opts.OnAdvance,
		logger:     opts.Logger.WithComponent("router"),
		metrics:    opts.Metrics,
	}
}

// Turns returns the number of dispatches performed so far.
func (r *Router) Turns() int { return r.turns }

// Run advances the state until a Terminal hint. On cancellation or an
// unroutable target the open tasks are failed and the aggregator, when
// registered, still produces a report.
func (r *Router) Run(ctx context.Context, state *core.WorkflowState) (*core.WorkflowState, error) {
	logger := r.logger.WithRun(state.RunID)
	for !state.RoutingHint.IsTerminal() {
		next, err := r.Advance(ctx, state)
		if next != nil {
			state = next
		}
		if err == nil {
			r.observe(state)
			continue
		}

		reason := ReasonAborted
		if ctx.Err() != nil {
			reason = ReasonCanceled
			state.Canceled = true
		}
		logger.Error("Run stopped", "reason", reason, "error", err)
		failOpen(state, nil, reason)
		r.summarize(ctx, state)
		r.finish(state)
		r.observe(state)
		return state, err
	}
	r.finish(state)
	return state, nil
}

func (r *Router) observe(state *core.WorkflowState) {
	if r.onAdvance != nil {
		r.onAdvance(state)
	}
}

// Advance performs one dispatch step.
func (r *Router) Advance(ctx context.Context, state *core.WorkflowState) (*core.WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return state, err
	}

	target := state.RoutingHint
	if target.IsTerminal() {
		r.finish(state)
		return state, nil
	}
	if target.IsZero() {
		target = r.defaultNext(state)
	}

	if r.turns >= r.maxTurns && target != core.Internal(core.WorkerAggregator) && !target.IsTerminal() {
		r.logger.WithRun(state.RunID).Warn("Turn budget exhausted", "max_turns", r.maxTurns)
		failOpen(state, nil, ReasonTurnBudget)
		target = core.Internal(core.WorkerAggregator)
	}

	if target.IsTerminal() {
		state.RoutingHint = target
		r.finish(state)
		return state, nil
	}

	worker, err := r.resolve(state, target)
	if err != nil {
		return state, err
	}
	if worker == nil {
		// routing failure already recorded on the affected tasks
		r.last = target
		state.RoutingHint = core.NoHint()
		return state, nil
	}

	return r.dispatch(ctx, state, target, worker)
}

func (r *Router) resolve(state *core.WorkflowState, target core.RouteTarget) (core.Worker, error) {
	switch target.Kind() {
	case core.RouteInternal:
		w, ok := r.workers[target.Worker()]
		if !ok {
			return nil, &core.RoutingError{Target: target, Err: core.ErrUnroutable}
		}
		return w, nil
	case core.RouteExternal:
		entry, ok := r.registry.Lookup(target.Agent())
		switch {
		case !ok:
			r.failRouting(state, target, core.ErrUnknownExternalAgent)
			return nil, nil
		case !entry.Healthy:
			r.failRouting(state, target, core.ErrAgentUnavailable)
			return nil, nil
		case r.delegation == nil:
			return nil, &core.RoutingError{Target: target, Err: core.ErrUnroutable}
		}
		return r.delegation.For(target.Agent()), nil
	default:
		return nil, &core.RoutingError{Target: target, Err: core.ErrUnroutable}
	}
}

// failRouting fails the open tasks assigned to an agent that cannot be reached.
func (r *Router) failRouting(state *core.WorkflowState, target core.RouteTarget, reason error) {
	tasks := failOpen(state, &target, reason.Error())
	for _, t := range tasks {
		rerr := &core.RoutingError{Target: target, TaskID: t.ID, Err: reason}
		r.logger.WithRun(state.RunID).Warn("Routing failed", "target", target.String(), "task_id", t.ID, "error", rerr)
	}
	state.AppendTurn(target, "", fmt.Sprintf("routing failed: %s", reason))
}

func (r *Router) dispatch(ctx context.Context, state *core.WorkflowState, target core.RouteTarget, worker core.Worker) (*core.WorkflowState, error) {
	switch target.Worker() {
	case core.WorkerPlanner:
		state.OverallStatus = core.StatusPlanning
	case core.WorkerErrorRecovery:
		state.OverallStatus = core.StatusRecovering
	default:
		state.OverallStatus = core.StatusExecuting
	}

	start := time.Now()
	next, hint, err := worker.Execute(ctx, state)
	if next != nil {
		state = next
	}
	elapsed := time.Since(start)
	r.turns++
	r.last = target

	r.metrics.ObserveDispatch(target.Name(), target.Kind().String(), elapsed)
	r.logger.WithRun(state.RunID).LogDispatch(target.String(), elapsed, hint.String(), err)

	if err != nil {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		failed := failHeld(state, target, err.Error())
		state.AppendTurn(target, "", fmt.Sprintf("worker error: %v (%d task(s) failed)", err, len(failed)))
		hint = core.NoHint()
	}

	state.RoutingHint = hint
	return state, nil
}

// defaultNext applies the default chain to the last dispatched target.
func (r *Router) defaultNext(state *core.WorkflowState) core.RouteTarget {
	if r.last.IsExternal() {
		if t, ok := state.FirstOpenExternal(); ok {
			return t.AssignedTo
		}
		return core.Internal(core.WorkerTester)
	}
	switch r.last.Worker() {
	case "":
		if r.last.IsZero() {
			return core.Internal(core.WorkerPlanner)
		}
		return core.Terminal()
	case core.WorkerPlanner:
		return core.Internal(core.WorkerArchitect)
	case core.WorkerArchitect:
		return core.Internal(core.WorkerCoder)
	case core.WorkerCoder:
		return core.Internal(core.WorkerTester)
	case core.WorkerTester:
		if state.LastValidationFailed {
			return core.Internal(core.WorkerErrorRecovery)
		}
		return core.Internal(core.WorkerAggregator)
	case core.WorkerErrorRecovery:
		return core.Internal(core.WorkerTester)
	case core.WorkerAggregator:
		return core.Terminal()
	default:
		// custom workers hand back to the tester
		return core.Internal(core.WorkerTester)
	}
}

func (r *Router) summarize(ctx context.Context, state *core.WorkflowState) {
	agg, ok := r.workers[core.WorkerAggregator]
	if !ok || state.Report != nil {
		return
	}
	next, _, err := agg.Execute(context.WithoutCancel(ctx), state)
	if err != nil {
		r.logger.WithRun(state.RunID).Warn("Aggregation after abort failed", "error", err)
		return
	}
	if next != nil {
		*state = *next
	}
}

func (r *Router) finish(state *core.WorkflowState) {
	state.RoutingHint = core.Terminal()
	status := core.StatusFailed
	if state.AllCompleted() {
		status = core.StatusCompleted
	}
	state.OverallStatus = status
	if state.Report != nil {
		state.Report.OverallStatus = status
	}
}

// failOpen fails every open task, or only those assigned to target when set.
func failOpen(state *core.WorkflowState, target *core.RouteTarget, reason string) []*core.Task {
	var failed []*core.Task
	for _, t := range state.Tasks() {
		if !t.IsOpen() || (target != nil && t.AssignedTo != *target) {
			continue
		}
		if err := t.Fail(reason); err == nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// failHeld fails the in-progress tasks a failing worker was holding. Tasks
// waiting on recovery belong to the retry machine and are left alone.
func failHeld(state *core.WorkflowState, target core.RouteTarget, reason string) []*core.Task {
	var failed []*core.Task
	for _, t := range state.TasksFor(target, nil) {
		if t.Status != core.TaskInProgress || t.Recovery == core.RecoveryRetryPending {
			continue
		}
		if err := t.Fail(reason); err == nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// IsAbort reports whether err stopped a run because of an unroutable target.
func IsAbort(err error) bool { return errors.Is(err, core.ErrUnroutable) }
