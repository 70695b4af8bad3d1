package delegation

import (
	"context"
	"fmt"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/recovery"
	"github.com/hupe1980/codemesh/registry"
)

// WorkerID is the id under which delegated turns are logged.
const WorkerID core.WorkerID = "delegation"

const envelopeTemplate = `Original request: {{.request}}

Specific task: {{.task}}{{if .plan}}

Overall plan: {{.plan}}{{end}}{{if .last_error}}

Previous attempt failed: {{.last_error}}{{end}}`

// Worker adapts a Client to the worker contract. Bind it to an agent with For.
type Worker struct {
	client   *Client
	registry *registry.Registry
	machine  *recovery.Machine
	logger   logging.Logger
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Machine *recovery.Machine
	Logger  logging.Logger
}

// NewWorker creates a Worker delegating through client to agents in reg.
func NewWorker(client *Client, reg *registry.Registry, optFns ...func(o *WorkerOptions)) *Worker {
	opts := WorkerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Machine == nil {
		opts.Machine = recovery.New()
	}
	return &Worker{
		client:   client,
		registry: reg,
		machine:  opts.Machine,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// For returns a worker delegating to the named agent.
func (w *Worker) For(agent string) core.Worker {
	return core.WorkerFunc{
		Name: WorkerID,
		Fn: func(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
			return w.execute(ctx, s, agent)
		},
	}
}

func (w *Worker) execute(ctx context.Context, s *core.WorkflowState, agent string) (*core.WorkflowState, core.RouteTarget, error) {
	actor := core.External(agent)
	task := w.nextTask(s, actor)
	if task == nil {
		s.AppendTurn(actor, "", "no open task for agent")
		return s, core.NoHint(), nil
	}

	entry, ok := w.registry.Lookup(agent)
	if !ok {
		_ = task.Fail(core.ErrUnknownExternalAgent.Error())
		s.AppendTurn(actor, task.ID, task.Result)
		return s, core.NoHint(), nil
	}

	if err := task.Start(); err != nil {
		return s, core.NoHint(), err
	}

	text, err := util.RenderTemplate(envelopeTemplate, map[string]any{
		"request":    s.Request,
		"task":       task.Content,
		"plan":       s.Plan,
		"last_error": task.LastError,
	})
	if err != nil {
		return s, core.NoHint(), fmt.Errorf("render delegation message: %w", err)
	}

	res := w.client.DelegateMessage(ctx, task, entry, text)
	task.CorrelationID = res.CorrelationID
	task.RemoteTaskID = res.RemoteTaskID

	if ctx.Err() != nil {
		_ = task.Fail(res.Text)
		s.AppendTurn(actor, task.ID, "delegation canceled")
		return s, core.NoHint(), ctx.Err()
	}

	if err := w.machine.Produced(task, res.Text); err != nil {
		return s, core.NoHint(), err
	}

	if res.Status == core.TaskCompleted {
		if err := w.machine.Accept(task); err != nil {
			return s, core.NoHint(), err
		}
		s.AppendTurn(actor, task.ID, "delegated task completed")
		return s, core.NoHint(), nil
	}

	outcome := w.machine.Fail(task, task.Revision, res.Text)
	w.logger.Warn("Delegated task failed", "agent", agent, "task_id", task.ID, "reason", res.Text, "outcome", outcome.String())
	s.AppendTurn(actor, task.ID, fmt.Sprintf("delegated task failed: %s", res.Text))
	if outcome == recovery.RetryPending {
		// keep the remote diagnostic as the visible result while a fix is due
		task.Result = res.Text
	}
	return s, recovery.Route(outcome), nil
}

func (w *Worker) nextTask(s *core.WorkflowState, actor core.RouteTarget) *core.Task {
	tasks := s.TasksFor(actor, func(t *core.Task) bool {
		return t.IsOpen() && t.Recovery != core.RecoveryRetryPending
	})
	if len(tasks) == 0 {
		return nil
	}
	return tasks[0]
}
