package core

import "context"

// Worker is the contract every pipeline step implements, whether it runs
// locally or delegates to an external agent.
//
// Execute receives the state for exactly one turn and must return it. A worker
// mutates only the tasks it owns, appends to the turn log, and proposes the
// next hint; it never invokes another worker. A zero RouteTarget asks the
// router to apply its default chain. A returned error fails the tasks the
// worker holds in progress; it does not abort the run.
type Worker interface {
	ID() WorkerID
	Execute(ctx context.Context, state *WorkflowState) (*WorkflowState, RouteTarget, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc struct {
	Name WorkerID
	Fn   func(ctx context.Context, state *WorkflowState) (*WorkflowState, RouteTarget, error)
}

// ID returns the worker id.
func (w WorkerFunc) ID() WorkerID { return w.Name }

// Execute calls Fn.
func (w WorkerFunc) Execute(ctx context.Context, state *WorkflowState) (*WorkflowState, RouteTarget, error) {
	return w.Fn(ctx, state)
}
