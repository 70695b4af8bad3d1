package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/model"
)

// Fallback report lines for tasks that carry no text.
const (
	LineCompleted  = "task completed"
	LineFailed     = "task failed"
	LineNotStarted = "task not started"
	LineInProgress = "task in progress"
)

const aggregatorInstruction = `You write the closing summary of a software delivery run.
Two or three sentences, plain text.`

const narrativePromptTemplate = `Request: {{.request}}
Overall status: {{.status}}
{{range .tasks}}- [{{.Status}}] {{.Content}}
{{end}}`

// Summarize reduces the task set into a report. It never fails: tasks without
// text fall back to a generic line. Open tasks are counted as open; only
// pending ones read as not started.
func Summarize(s *core.WorkflowState) core.FinalReport {
	report := core.FinalReport{
		RunID:         s.RunID,
		Request:       s.Request,
		OverallStatus: core.StatusCompleted,
		Summary:       s.Plan,
	}
	for _, t := range s.Tasks() {
		line := strings.TrimSpace(t.Result)
		switch t.Status {
		case core.TaskCompleted:
			report.Completed++
			if line == "" {
				line = LineCompleted
			}
		case core.TaskFailed:
			report.Failed++
			if line == "" {
				line = LineFailed
			}
		default:
			report.Open++
			line = openLine(t)
		}
		if t.Status != core.TaskCompleted {
			report.OverallStatus = core.StatusFailed
		}
		report.Tasks = append(report.Tasks, core.TaskSummary{
			ID:         t.ID,
			Content:    t.Content,
			AssignedTo: t.AssignedTo,
			Status:     t.Status,
			RetryCount: t.RetryCount,
			Line:       line,
		})
	}
	return report
}

// openLine describes a task the run left open, keeping its last error or
// latest output.
func openLine(t *core.Task) string {
	if t.Status == core.TaskPending {
		return LineNotStarted
	}
	output := strings.TrimSpace(t.Result)
	switch {
	case t.Recovery == core.RecoveryRetryPending:
		return fmt.Sprintf("retry pending after attempt %d: %s", t.RetryCount, t.LastError)
	case t.LastError != "":
		return "in progress, last error: " + t.LastError
	case output != "":
		return "in progress: " + output
	}
	return LineInProgress
}

// Aggregator produces the final report and ends the run.
type Aggregator struct {
	base
	narrate bool
}

// NewAggregator creates the aggregator. With a non-nil llm it asks for a short
// narrative summary; a failing call keeps the plan summary. Canceled runs get
// no narrative.
func NewAggregator(llm model.Model, optFns ...func(o *Options)) *Aggregator {
	return &Aggregator{
		base:    newBase(core.WorkerAggregator, llm, aggregatorInstruction, optFns),
		narrate: llm != nil,
	}
}

// Execute implements core.Worker. It always returns Terminal.
func (a *Aggregator) Execute(ctx context.Context, s *core.WorkflowState) (*core.WorkflowState, core.RouteTarget, error) {
	report := Summarize(s)

	if a.artifacts != nil {
		if ids, err := a.artifacts.List(s.RunID); err == nil {
			report.Artifacts = ids
		}
	}

	if a.narrate && !s.Canceled && ctx.Err() == nil {
		if text, err := a.narrative(ctx, s, report); err != nil {
			a.logger.Warn("Narrative summary failed", "run_id", s.RunID, "error", err)
		} else if text = strings.TrimSpace(text); text != "" {
			report.Summary = text
		}
	}

	s.Report = &report
	s.AppendTurn(a.actor(), "", fmt.Sprintf("report: %d completed, %d failed, %d open", report.Completed, report.Failed, report.Open))
	return s, core.Terminal(), nil
}

func (a *Aggregator) narrative(ctx context.Context, s *core.WorkflowState, report core.FinalReport) (string, error) {
	prompt, err := util.RenderTemplate(narrativePromptTemplate, map[string]any{
		"request": report.Request,
		"status":  string(report.OverallStatus),
		"tasks":   report.Tasks,
	})
	if err != nil {
		return "", err
	}
	return a.think(ctx, s, prompt)
}
