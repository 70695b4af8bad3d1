package testutil

import (
	"github.com/hupe1980/codemesh/core"
)

// StateBuilder helps construct workflow states with fluent chaining for tests.
// Example:
//
//	st := NewStateBuilder("run-1", "build a todo app").
//	    Task("t1", "write api", core.Internal(core.WorkerCoder)).
//	    Hint(core.Internal(core.WorkerCoder)).
//	    Build()
type StateBuilder struct {
	runID   string
	request string
	plan    string
	tasks   []*core.Task
	hint    core.RouteTarget
	status  core.OverallStatus
	tech    []string
}

// NewStateBuilder creates a new builder for a state with the given run id and request.
func NewStateBuilder(runID, request string) *StateBuilder {
	return &StateBuilder{runID: runID, request: request}
}

// Plan sets the plan summary (chainable).
func (b *StateBuilder) Plan(p string) *StateBuilder { b.plan = p; return b }

// Task appends a pending task (chainable).
func (b *StateBuilder) Task(id, content string, assignedTo core.RouteTarget, tags ...string) *StateBuilder {
	b.tasks = append(b.tasks, core.NewTask(id, content, assignedTo, tags...))
	return b
}

// WithTask appends a prepared task (chainable).
func (b *StateBuilder) WithTask(t *core.Task) *StateBuilder {
	b.tasks = append(b.tasks, t)
	return b
}

// Hint sets the routing hint (chainable).
func (b *StateBuilder) Hint(h core.RouteTarget) *StateBuilder { b.hint = h; return b }

// Status sets the overall status (chainable).
func (b *StateBuilder) Status(s core.OverallStatus) *StateBuilder { b.status = s; return b }

// Tech adds technology context labels (chainable).
func (b *StateBuilder) Tech(items ...string) *StateBuilder {
	b.tech = append(b.tech, items...)
	return b
}

// Build returns a *core.WorkflowState with the configured tasks in order.
func (b *StateBuilder) Build() *core.WorkflowState {
	s := core.NewWorkflowState(b.runID, b.request)
	s.Plan = b.plan
	s.RoutingHint = b.hint
	if b.status != "" {
		s.OverallStatus = b.status
	}
	for _, t := range b.tasks {
		s.AddTask(t)
	}
	if len(b.tech) > 0 {
		s.AddTechContext(b.tech...)
	}
	return s
}

// TaskBuilder provides a fluent helper for constructing tasks in a given
// lifecycle position.
//
//	task := NewTaskBuilder("t1").Content("x").External("translator").InProgress().Build()
type TaskBuilder struct {
	task *core.Task
}

// NewTaskBuilder creates a pending task assigned to the coder.
func NewTaskBuilder(id string) *TaskBuilder {
	return &TaskBuilder{task: core.NewTask(id, "task "+id, core.Internal(core.WorkerCoder))}
}

// Content sets the task content (chainable).
func (b *TaskBuilder) Content(c string) *TaskBuilder { b.task.Content = c; return b }

// Internal assigns the task to an internal worker (chainable).
func (b *TaskBuilder) Internal(id core.WorkerID) *TaskBuilder {
	b.task.AssignedTo = core.Internal(id)
	return b
}

// External assigns the task to an external agent (chainable).
func (b *TaskBuilder) External(agent string) *TaskBuilder {
	b.task.AssignedTo = core.External(agent)
	return b
}

// Tags sets the capability tags (chainable).
func (b *TaskBuilder) Tags(tags ...string) *TaskBuilder {
	b.task.CapabilityTags = core.NormalizeTags(tags)
	return b
}

// InProgress moves the task to in_progress (chainable).
func (b *TaskBuilder) InProgress() *TaskBuilder { _ = b.task.Start(); return b }

// Completed moves the task to completed with the given result (chainable).
func (b *TaskBuilder) Completed(result string) *TaskBuilder {
	_ = b.task.Start()
	_ = b.task.Complete(result)
	return b
}

// Failed moves the task to failed with the given reason (chainable).
func (b *TaskBuilder) Failed(reason string) *TaskBuilder { _ = b.task.Fail(reason); return b }

// Output records produced output awaiting validation (chainable).
func (b *TaskBuilder) Output(out string) *TaskBuilder {
	_ = b.task.Start()
	b.task.Revision++
	b.task.Result = out
	b.task.Recovery = core.RecoveryValidating
	return b
}

// RetryPending records a failed validation of the current output that awaits
// a fix (chainable).
func (b *TaskBuilder) RetryPending(reason string) *TaskBuilder {
	_ = b.task.Start()
	b.task.FailedRevision = b.task.Revision
	b.task.RetryCount++
	b.task.LastError = reason
	b.task.Recovery = core.RecoveryRetryPending
	return b
}

// Exhausted fails the task after retries ran out (chainable).
func (b *TaskBuilder) Exhausted(retries int, reason string) *TaskBuilder {
	_ = b.task.Start()
	_ = b.task.Fail(reason)
	b.task.RetryCount = retries
	b.task.Recovery = core.RecoveryExhausted
	return b
}

// Build returns the task.
func (b *TaskBuilder) Build() *core.Task { return b.task }
