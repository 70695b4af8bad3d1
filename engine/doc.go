// Package engine runs user requests end to end.
//
// Each call to Invoke creates a fresh WorkflowState and router for the
// request and executes it on its own goroutine. Workers, the discovery
// registry and the artifact store are shared by all runs; the registry is
// immutable after discovery, so no locking is needed around it.
//
// # Concurrency
//
// At most Config.MaxConcurrentRuns runs execute at the same time; further
// runs wait for a slot (golang.org/x/sync/semaphore). Within a run exactly
// one worker holds the state at a time.
//
// # Cancellation
//
// Cancel(runID) cancels the run context. The router checks it before every
// dispatch, delegations in flight send the protocol cancel to the remote
// agent, open tasks are failed and the aggregator still produces a report.
//
// # Observing runs
//
// Invoke streams every turn log entry on a channel and delivers the final
// state as a RunResult. Callbacks (before_run, after_turn, after_run,
// on_error) give the same information to code that does not own the channels:
//
//	eng := engine.New(agent.NewTeam(llm, reg, nil), func(o *engine.Options) {
//		o.Registry = reg
//	})
//	eng.RegisterCallback(engine.NewLoggingCallback(engine.CallbackAfterTurn, log.Println))
//	state, err := eng.InvokeSync(ctx, "build a todo CLI in Go")
package engine
