package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/codemesh/artifact"
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
)

// DefaultReasoningTimeout bounds a single reasoning-engine call.
const DefaultReasoningTimeout = 60 * time.Second

// Options configures the internal workers. Use functional options with the
// New* constructors to override defaults.
type Options struct {
	Instruction      Instruction
	ReasoningTimeout time.Duration
	// Machine is shared by producers, the tester and error recovery so retry
	// budgets are counted in one place.
	Machine   *recovery.Machine
	Artifacts artifact.Store
	Logger    logging.Logger
}

const taskPromptTemplate = `Original request: {{.request}}
{{if .plan}}
Overall plan: {{.plan}}
{{end}}{{if .tech}}
Technology: {{join ", " .tech}}
{{end}}
Task: {{.task}}`

// base bundles identity and the reasoning plumbing shared by the workers.
type base struct {
	id          core.WorkerID
	llm         model.Model
	instruction Instruction
	timeout     time.Duration
	machine     *recovery.Machine
	artifacts   artifact.Store
	logger      logging.Logger
}

func newBase(id core.WorkerID, llm model.Model, defaultInstruction string, optFns []func(o *Options)) base {
	opts := Options{
		Instruction:      NewInstructionFromText(defaultInstruction),
		ReasoningTimeout: DefaultReasoningTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Instruction.IsZero() {
		opts.Instruction = NewInstructionFromText(defaultInstruction)
	}
	if opts.ReasoningTimeout <= 0 {
		opts.ReasoningTimeout = DefaultReasoningTimeout
	}
	if opts.Machine == nil {
		opts.Machine = recovery.New()
	}
	return base{
		id:          id,
		llm:         llm,
		instruction: opts.Instruction,
		timeout:     opts.ReasoningTimeout,
		machine:     opts.Machine,
		artifacts:   opts.Artifacts,
		logger:      logging.OrNoOp(opts.Logger),
	}
}

// ID returns the worker id.
func (b *base) ID() core.WorkerID { return b.id }

func (b *base) actor() core.RouteTarget { return core.Internal(b.id) }

// think runs one bounded reasoning call.
func (b *base) think(ctx context.Context, s *core.WorkflowState, prompt string) (string, error) {
	instructions, err := b.instruction.Resolve(s)
	if err != nil {
		return "", fmt.Errorf("resolve instruction: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return model.Complete(ctx, b.llm, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
}

func taskPrompt(s *core.WorkflowState, task string) (string, error) {
	return util.RenderTemplate(taskPromptTemplate, map[string]any{
		"request": s.Request,
		"plan":    s.Plan,
		"tech":    s.TechContext,
		"task":    task,
	})
}

// produceOwned produces output for every pending task assigned to the worker.
func (b *base) produceOwned(ctx context.Context, s *core.WorkflowState) (int, error) {
	pending := s.TasksFor(b.actor(), func(t *core.Task) bool { return t.Status == core.TaskPending })
	for _, t := range pending {
		prompt, err := taskPrompt(s, t.Content)
		if err != nil {
			return 0, fmt.Errorf("render prompt for task %s: %w", t.ID, err)
		}
		if err := b.produce(ctx, s, t, prompt); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// produce records model output for t as a fresh revision awaiting validation.
// A failed or timed-out reasoning call counts as a failed revision and feeds
// the retry machine; only cancellation of the run is returned.
func (b *base) produce(ctx context.Context, s *core.WorkflowState, t *core.Task, prompt string) error {
	if err := t.Start(); err != nil {
		return err
	}
	out, err := b.think(ctx, s, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := fmt.Sprintf("reasoning failed: %v", err)
		t.Revision++
		outcome := b.machine.Fail(t, t.Revision, reason)
		b.logger.Warn("Reasoning failed", "worker", string(b.id), "task_id", t.ID, "outcome", outcome.String(), "error", err)
		s.AppendTurn(b.actor(), t.ID, reason)
		return nil
	}
	if err := b.machine.Produced(t, out); err != nil {
		return err
	}
	b.save(s, t)
	s.AppendTurn(b.actor(), t.ID, fmt.Sprintf("produced revision %d", t.Revision))
	return nil
}

func (b *base) save(s *core.WorkflowState, t *core.Task) {
	if b.artifacts == nil {
		return
	}
	if err := b.artifacts.Save(s.RunID, t.ID, []byte(t.Result)); err != nil {
		b.logger.Warn("Saving artifact failed", "task_id", t.ID, "error", err)
	}
}
