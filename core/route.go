package core

import (
	"encoding/json"
	"fmt"
)

// WorkerID identifies an internal worker registered in the router's dispatch table.
type WorkerID string

const (
	// WorkerPlanner breaks the user request into tasks.
	WorkerPlanner WorkerID = "planner"
	// WorkerArchitect designs project structure and shared configuration.
	WorkerArchitect WorkerID = "architect"
	// WorkerCoder implements code tasks.
	WorkerCoder WorkerID = "coder"
	// WorkerTester validates produced work and owns test tasks.
	WorkerTester WorkerID = "tester"
	// WorkerErrorRecovery fixes tasks whose validation failed.
	WorkerErrorRecovery WorkerID = "error_recovery"
	// WorkerAggregator reduces the final task set into a report.
	WorkerAggregator WorkerID = "aggregator"
)

// RouteKind discriminates the cases of a RouteTarget.
type RouteKind uint8

const (
	// RouteNone is the zero value: the worker proposed no hint and the
	// router applies its default chain.
	RouteNone RouteKind = iota
	// RouteInternal dispatches to a registered internal worker.
	RouteInternal
	// RouteExternal delegates to a discovered external agent.
	RouteExternal
	// RouteTerminal ends the run.
	RouteTerminal
)

// String returns the lowercase kind name.
func (k RouteKind) String() string {
	switch k {
	case RouteInternal:
		return "internal"
	case RouteExternal:
		return "external"
	case RouteTerminal:
		return "terminal"
	default:
		return "none"
	}
}

// RouteTarget is the closed set of places control can go next:
// Internal(worker), External(agent) or Terminal. The zero value means
// "no hint". Values can only be built through the constructors below.
type RouteTarget struct {
	kind RouteKind
	name string
}

// Internal targets a registered internal worker.
func Internal(id WorkerID) RouteTarget { return RouteTarget{kind: RouteInternal, name: string(id)} }

// External targets an external agent by its registry name.
func External(agent string) RouteTarget { return RouteTarget{kind: RouteExternal, name: agent} }

// Terminal ends the run.
func Terminal() RouteTarget { return RouteTarget{kind: RouteTerminal} }

// NoHint is the explicit zero RouteTarget.
func NoHint() RouteTarget { return RouteTarget{} }

// Kind reports which case the target is.
func (r RouteTarget) Kind() RouteKind { return r.kind }

// IsZero reports whether no hint was given.
func (r RouteTarget) IsZero() bool { return r.kind == RouteNone }

// IsInternal reports whether the target is an internal worker.
func (r RouteTarget) IsInternal() bool { return r.kind == RouteInternal }

// IsExternal reports whether the target is an external agent.
func (r RouteTarget) IsExternal() bool { return r.kind == RouteExternal }

// IsTerminal reports whether the target ends the run.
func (r RouteTarget) IsTerminal() bool { return r.kind == RouteTerminal }

// Worker returns the internal worker id; empty for other kinds.
func (r RouteTarget) Worker() WorkerID {
	if r.kind != RouteInternal {
		return ""
	}
	return WorkerID(r.name)
}

// Agent returns the external agent name; empty for other kinds.
func (r RouteTarget) Agent() string {
	if r.kind != RouteExternal {
		return ""
	}
	return r.name
}

// Name returns the worker id or agent name carried by the target.
func (r RouteTarget) Name() string { return r.name }

// String renders the target as kind(name), e.g. "internal(coder)".
func (r RouteTarget) String() string {
	switch r.kind {
	case RouteInternal, RouteExternal:
		return fmt.Sprintf("%s(%s)", r.kind, r.name)
	default:
		return r.kind.String()
	}
}

// MarshalJSON renders the target in its String form. Targets are never decoded
// from JSON; planners build them through the constructors.
func (r RouteTarget) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }
