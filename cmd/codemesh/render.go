package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/registry"
)

// printer renders run output with styles resolved for the target writer, so
// piping to a file yields plain text.
type printer struct {
	out io.Writer

	title     lipgloss.Style
	label     lipgloss.Style
	detail    lipgloss.Style
	completed lipgloss.Style
	failed    lipgloss.Style
	open      lipgloss.Style
	box       lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:       out,
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		label:     r.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true),
		detail:    r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		completed: r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		failed:    r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		open:      r.NewStyle().Foreground(lipgloss.Color("#F7B801")),
		box:       r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

func (p *printer) statusStyle(status string) lipgloss.Style {
	switch status {
	case string(core.TaskCompleted):
		return p.completed
	case string(core.TaskFailed):
		return p.failed
	default:
		return p.open
	}
}

func (p *printer) turn(t core.Turn) {
	fmt.Fprintf(p.out, "%s %s %s\n",
		p.detail.Render(fmt.Sprintf("%3d", t.Seq)),
		p.label.Render(t.Actor.String()),
		t.Message)
}

func (p *printer) report(r core.FinalReport) {
	var b strings.Builder
	b.WriteString(p.title.Render("Run "+r.RunID) + "\n")
	b.WriteString(p.label.Render("Request: ") + r.Request + "\n")
	if r.Summary != "" {
		b.WriteString(p.label.Render("Summary: ") + r.Summary + "\n")
	}
	b.WriteString("\n")
	for _, t := range r.Tasks {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			p.statusStyle(string(t.Status)).Render(fmt.Sprintf("%-11s", t.Status)),
			t.ID,
			p.detail.Render("("+t.AssignedTo.String()+")"),
			headline(t.Line, 96))
	}
	if len(r.Artifacts) > 0 {
		b.WriteString("\n" + p.label.Render("Artifacts: ") + strings.Join(r.Artifacts, ", ") + "\n")
	}
	fmt.Fprintf(&b, "\n%s %s  %s",
		p.label.Render("overall_status:"),
		p.statusStyle(string(r.OverallStatus)).Render(string(r.OverallStatus)),
		p.detail.Render(fmt.Sprintf("completed=%d failed=%d open=%d", r.Completed, r.Failed, r.Open)))

	fmt.Fprintln(p.out, p.box.Render(b.String()))
}

func renderAgents(out io.Writer, entries []registry.Entry) {
	p := newPrinter(out)
	if len(entries) == 0 {
		fmt.Fprintln(out, p.detail.Render("no external agents configured"))
		return
	}
	for _, e := range entries {
		health := p.completed.Render("healthy")
		if !e.Healthy {
			health = p.failed.Render("unhealthy")
		}
		fmt.Fprintf(out, "%s %s %s\n", p.label.Render(e.Name), health, p.detail.Render(e.BaseURL))
		if len(e.Capabilities) > 0 {
			fmt.Fprintf(out, "  capabilities: %s\n", strings.Join(e.Capabilities, ", "))
		}
		if e.LastError != nil {
			fmt.Fprintf(out, "  error: %v\n", e.LastError)
		}
	}
}

// headline returns the first line of s cut to max runes.
func headline(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
