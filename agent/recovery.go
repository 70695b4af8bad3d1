package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
)

const fixerInstruction = `You fix work that failed validation. Reply with the corrected,
complete output only.`

const fixPromptTemplate = `Task: {{.task}}

Previous output:
{{default "(none)" .output}}

Validation failure (attempt {{.attempt}}):
{{.error}}`

// ErrorRecovery fixes tasks waiting in retry_pending. Local tasks get a new
// revision from the model; delegated tasks are requeued and control goes back
// to their agent with the failure attached.
type ErrorRecovery struct {
	base
}

// NewErrorRecovery creates the error-recovery worker. Pass the same
// recovery.Machine as the tester through Options.Machine.
func NewErrorRecovery(llm model.Model, optFns ...func(o *Options)) *ErrorRecovery {
	return &ErrorRecovery{base: newBase(core.WorkerErrorRecovery, llm, fixerInstruction, optFns)}
}

// Execute implements core.Worker.
func (e *ErrorRecovery) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	var external core.RouteTarget
	exhausted := false
	fixed := 0

	for _, t := range s.Tasks() {
		if t.Recovery != core.RecoveryRetryPending || !t.IsOpen() {
			continue
		}

		if t.AssignedTo.IsExternal() {
			if e.machine.Requeue(t) {
				s.AppendTurn(e.actor(), t.ID, fmt.Sprintf("requeued for %s", t.AssignedTo.Agent()))
				if external.IsZero() {
					external = t.AssignedTo
				}
			}
			continue
		}

		prompt, err := util.RenderTemplate(fixPromptTemplate, map[string]any{
			"task":    t.Content,
			"output":  t.Result,
			"attempt": t.RetryCount,
			"error":   t.LastError,
		})
		if err != nil {
			return s, core.NoHint(), fmt.Errorf("render fix prompt for task %s: %w", t.ID, err)
		}

		out, err := e.think(ctx, s, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return s, core.NoHint(), ctx.Err()
			}
			t.Revision++
			outcome := e.machine.Fail(t, t.Revision, fmt.Sprintf("reasoning failed: %v", err))
			s.AppendTurn(e.actor(), t.ID, fmt.Sprintf("fix failed (%s): %v", outcome, err))
			exhausted = exhausted || outcome == recovery.Exhausted
			continue
		}

		e.machine.Resubmit(t, out)
		e.save(s, t)
		fixed++
		s.AppendTurn(e.actor(), t.ID, fmt.Sprintf("resubmitted revision %d", t.Revision))
	}

	s.LastValidationFailed = false
	e.logger.Info("Recovery pass finished", "run_id", s.RunID, "fixed", fixed, "exhausted", exhausted)

	switch {
	case exhausted:
		return s, core.Internal(core.WorkerAggregator), nil
	case !external.IsZero():
		return s, external, nil
	default:
		return s, core.NoHint(), nil
	}
}
