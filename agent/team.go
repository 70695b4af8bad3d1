package agent

import (
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
	"github.com/hupe1980/codemesh/registry"
)

// NewTeam builds the six internal workers sharing one retry machine. The
// Instruction option is ignored here; every worker keeps its own default.
func NewTeam(llm model.Model, reg *registry.Registry, v Validator, optFns ...func(o *Options)) []core.Worker {
	var shared Options
	for _, fn := range optFns {
		fn(&shared)
	}
	if shared.Machine == nil {
		shared.Machine = recovery.New(func(o *recovery.Options) { o.Logger = shared.Logger })
	}
	opt := func(o *Options) {
		o.ReasoningTimeout = shared.ReasoningTimeout
		o.Machine = shared.Machine
		o.Artifacts = shared.Artifacts
		o.Logger = shared.Logger
	}

	return []core.Worker{
		NewPlanner(llm, reg, opt),
		NewArchitect(llm, opt),
		NewCoder(llm, opt),
		NewTester(llm, v, opt),
		NewErrorRecovery(llm, opt),
		NewAggregator(llm, opt),
	}
}
