package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/registry"
)

const plannerInstruction = `You are the planner of a software delivery team.
Break the user request into small, ordered tasks. Reply with JSON only:
{"summary": "...", "languages": ["..."], "frameworks": ["..."],
 "tasks": [{"content": "...", "assignee": "optional worker or agent name", "tags": ["..."]}]}`

const planPromptTemplate = `Request: {{.request}}

Internal workers: architect (architecture, design, structure, config), coder (code, implementation, refactor, bugfix), tester (test, testing, validation, qa).
{{if .agents}}External agents:
{{range .agents}}- {{.Name}}: {{join ", " .Capabilities}}
{{end}}{{end}}`

// PlannedTask is one task of a parsed plan.
type PlannedTask struct {
	Content  string   `json:"content"`
	Assignee string   `json:"assignee,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Plan is the document the planner asks the model for.
type Plan struct {
	Summary    string        `json:"summary"`
	Languages  []string      `json:"languages,omitempty"`
	Frameworks []string      `json:"frameworks,omitempty"`
	Tasks      []PlannedTask `json:"tasks"`
}

var planSchema = util.SchemaOf(Plan{})

// DefaultWorkerTags are the capability tags of the internal producers used
// for assignment at planning time.
var DefaultWorkerTags = map[core.WorkerID][]string{
	core.WorkerArchitect: {"architecture", "design", "structure", "config", "scaffold"},
	core.WorkerCoder:     {"code", "implementation", "refactor", "bugfix", "feature"},
	core.WorkerTester:    {"test", "testing", "validation", "qa"},
}

// Planner turns the request into planned tasks.
type Planner struct {
	base
	registry *registry.Registry
	tags     map[core.WorkerID][]string
}

// NewPlanner creates the planner. reg may be nil when no external agents are
// configured.
func NewPlanner(llm model.Model, reg *registry.Registry, optFns ...func(o *Options)) *Planner {
	return &Planner{
		base:     newBase(core.WorkerPlanner, llm, plannerInstruction, optFns),
		registry: reg,
		tags:     DefaultWorkerTags,
	}
}

// Execute plans the request once; a state that already holds tasks is left
// untouched.
func (p *Planner) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	if s.TaskCount() > 0 {
		s.AppendTurn(p.actor(), "", "plan already present")
		return s, core.NoHint(), nil
	}

	prompt, err := util.RenderTemplate(planPromptTemplate, map[string]any{
		"request": s.Request,
		"agents":  p.registry.Healthy(),
	})
	if err != nil {
		return s, core.NoHint(), fmt.Errorf("render plan prompt: %w", err)
	}

	out, err := p.think(ctx, s, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return s, core.NoHint(), ctx.Err()
		}
		t := core.NewTask(taskID(1), s.Request, core.Internal(core.WorkerCoder))
		_ = t.Fail(fmt.Sprintf("planning failed: %v", err))
		s.AddTask(t)
		s.AppendTurn(p.actor(), t.ID, t.Result)
		p.logger.Warn("Planning failed", "run_id", s.RunID, "error", err)
		return s, core.NoHint(), nil
	}

	plan, err := ParsePlan(out)
	if err != nil {
		p.logger.Warn("Plan not parseable, falling back to a single task", "run_id", s.RunID, "error", err)
		plan = &Plan{Summary: s.Request, Tasks: []PlannedTask{{Content: s.Request}}}
	}

	s.Plan = plan.Summary
	s.AddTechContext(plan.Languages...)
	s.AddTechContext(plan.Frameworks...)
	for i, pt := range plan.Tasks {
		t := core.NewTask(taskID(i+1), pt.Content, p.assign(pt), pt.Tags...)
		s.AddTask(t)
	}
	s.AppendTurn(p.actor(), "", fmt.Sprintf("planned %d task(s)", len(plan.Tasks)))
	return s, core.NoHint(), nil
}

// assign resolves a planned task to a target: an explicit assignee first,
// then internal worker tags, then the registry, then the coder.
func (p *Planner) assign(pt PlannedTask) core.RouteTarget {
	if name := strings.TrimSpace(pt.Assignee); name != "" {
		id := core.WorkerID(strings.ToLower(name))
		if _, ok := p.tags[id]; ok {
			return core.Internal(id)
		}
		if _, ok := p.registry.Lookup(name); ok {
			return core.External(name)
		}
	}

	best, bestScore := core.WorkerID(""), 0
	for _, id := range []core.WorkerID{core.WorkerArchitect, core.WorkerCoder, core.WorkerTester} {
		if score := core.IntersectTags(p.tags[id], pt.Tags); score > bestScore {
			best, bestScore = id, score
		}
	}
	if bestScore > 0 {
		return core.Internal(best)
	}

	if e, ok := p.registry.Match(pt.Tags); ok {
		return core.External(e.Name)
	}
	return core.Internal(core.WorkerCoder)
}

// ParsePlan extracts and validates a plan from model output. Markdown fences
// and surrounding prose are ignored.
func ParsePlan(text string) (*Plan, error) {
	raw := util.ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in plan output")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	tasks := plan.Tasks[:0]
	for _, t := range plan.Tasks {
		if strings.TrimSpace(t.Content) != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	plan.Tasks = tasks
	return &plan, nil
}

func taskID(n int) string { return fmt.Sprintf("task-%d", n) }
