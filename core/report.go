package core

// TaskSummary is one enumerated line of the final report.
type TaskSummary struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	AssignedTo RouteTarget `json:"assigned_to"`
	Status     TaskStatus  `json:"status"`
	RetryCount int         `json:"retry_count"`
	Line       string      `json:"line"`
}

// FinalReport is the aggregator's reduction of a run. It is produced even
// when some workers failed.
type FinalReport struct {
	RunID         string        `json:"run_id"`
	Request       string        `json:"request"`
	OverallStatus OverallStatus `json:"overall_status"`
	Summary       string        `json:"summary,omitempty"`
	Tasks         []TaskSummary `json:"tasks"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Open          int           `json:"open"`
	Artifacts     []string      `json:"artifacts,omitempty"`
}

// FailedTasks returns the summaries of tasks that did not complete.
func (r *FinalReport) FailedTasks() []TaskSummary {
	var out []TaskSummary
	for _, t := range r.Tasks {
		if t.Status != TaskCompleted {
			out = append(out, t)
		}
	}
	return out
}
