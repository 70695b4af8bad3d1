package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
)

const testerInstruction = `You are the tester of a software delivery team.
Write the tests the task asks for, with complete file contents.`

// Tester writes test tasks and validates every output awaiting validation.
type Tester struct {
	base
	validator Validator
}

// NewTester creates the tester. A nil validator reviews output with llm.
func NewTester(llm model.Model, v Validator, optFns ...func(o *Options)) *Tester {
	t := &Tester{base: newBase(core.WorkerTester, llm, testerInstruction, optFns)}
	if v == nil {
		v = NewModelValidator(llm, t.timeout)
	}
	t.validator = v
	return t
}

// Execute validates produced output. Failures go through the retry machine;
// an exhausted task sends control to the aggregator, remaining failures are
// signalled through LastValidationFailed.
func (t *Tester) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	if _, err := t.produceOwned(ctx, s); err != nil {
		return s, core.NoHint(), err
	}

	hint := core.NoHint()
	validated := 0
	for _, task := range s.Tasks() {
		if task.Recovery != core.RecoveryValidating || task.Status.IsTerminal() {
			continue
		}
		validated++

		err := t.validator.Validate(ctx, s, task)
		if err != nil && ctx.Err() != nil {
			return s, core.NoHint(), ctx.Err()
		}
		if err == nil {
			if err := t.machine.Accept(task); err != nil {
				return s, core.NoHint(), err
			}
			s.AppendTurn(t.actor(), task.ID, "validation passed")
			continue
		}

		reason := err.Error()
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		outcome := t.machine.Fail(task, task.Revision, reason)
		s.AppendTurn(t.actor(), task.ID, fmt.Sprintf("validation failed (%s): %s", outcome, reason))
		if outcome == recovery.Exhausted {
			hint = recovery.Route(outcome)
		}
	}

	s.LastValidationFailed = hasRetryPending(s)
	if validated == 0 {
		s.AppendTurn(t.actor(), "", "nothing to validate")
	}
	return s, hint, nil
}

func hasRetryPending(s *core.WorkflowState) bool {
	for _, t := range s.Tasks() {
		if t.Recovery == core.RecoveryRetryPending && t.IsOpen() {
			return true
		}
	}
	return false
}
