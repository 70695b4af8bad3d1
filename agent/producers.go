package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/model"
)

const architectInstruction = `You are the architect of a software delivery team.
Design the project structure, shared configuration and interfaces the task
asks for. Reply with the files and decisions, concise and concrete.`

const coderInstruction = `You are the coder of a software delivery team.
Implement the task. Reply with complete file contents, each preceded by its path.`

// Architect designs structure and shared configuration for its tasks.
type Architect struct {
	base
}

// NewArchitect creates the architect worker.
func NewArchitect(llm model.Model, optFns ...func(o *Options)) *Architect {
	return &Architect{base: newBase(core.WorkerArchitect, llm, architectInstruction, optFns)}
}

// Execute produces output for the pending architecture tasks.
func (a *Architect) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	n, err := a.produceOwned(ctx, s)
	if err != nil {
		return s, core.NoHint(), err
	}
	if n == 0 {
		s.AppendTurn(a.actor(), "", "no architecture tasks")
	}
	return s, core.NoHint(), nil
}

// Coder implements code tasks. After its own work it hands control to the
// first open externally assigned task, so delegated work runs before
// validation.
type Coder struct {
	base
}

// NewCoder creates the coder worker.
func NewCoder(llm model.Model, optFns ...func(o *Options)) *Coder {
	return &Coder{base: newBase(core.WorkerCoder, llm, coderInstruction, optFns)}
}

// Execute produces output for the pending code tasks.
func (c *Coder) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	n, err := c.produceOwned(ctx, s)
	if err != nil {
		return s, core.NoHint(), err
	}
	if n == 0 {
		s.AppendTurn(c.actor(), "", "no code tasks")
	}
	if t, ok := s.FirstOpenExternal(); ok {
		s.AppendTurn(c.actor(), t.ID, fmt.Sprintf("handing off to %s", t.AssignedTo.Agent()))
		return s, t.AssignedTo, nil
	}
	return s, core.NoHint(), nil
}
