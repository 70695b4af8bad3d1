package agent

import "github.com/hupe1980/codemesh/core"

// Provider supplies dynamic instruction text at runtime, derived from the
// workflow state (tech context, plan, ...).
type Provider interface {
	Instruction(*core.WorkflowState) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.WorkflowState) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(s *core.WorkflowState) (string, error) { return f(s) }

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.WorkflowState) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(s *core.WorkflowState) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(s)
	}
	return i.text, nil
}
