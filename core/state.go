package core

import "time"

// OverallStatus is the run-level status.
type OverallStatus string

const (
	// StatusPlanning is the initial status before the planner ran.
	StatusPlanning OverallStatus = "planning"
	// StatusExecuting covers architect, coder, tester and delegation turns.
	StatusExecuting OverallStatus = "executing"
	// StatusRecovering is set while the error-recovery worker holds the state.
	StatusRecovering OverallStatus = "recovering"
	// StatusCompleted means every task completed.
	StatusCompleted OverallStatus = "completed"
	// StatusFailed means at least one task did not complete.
	StatusFailed OverallStatus = "failed"
)

// Turn is one entry of the ordered run log.
type Turn struct {
	Seq     int         `json:"seq"`
	Actor   RouteTarget `json:"actor"`
	Message string      `json:"message"`
	TaskID  string      `json:"task_id,omitempty"`
	At      time.Time   `json:"at"`
}

// WorkflowState is the record threaded through the pipeline. The router owns
// it and lends it to exactly one worker per turn; workers return it and must
// not keep the pointer.
type WorkflowState struct {
	RunID         string        `json:"run_id"`
	Request       string        `json:"request"`
	Plan          string        `json:"plan,omitempty"`
	Log           []Turn        `json:"log"`
	TechContext   []string      `json:"tech_context,omitempty"`
	RoutingHint   RouteTarget   `json:"routing_hint"`
	OverallStatus OverallStatus `json:"overall_status"`
	// LastValidationFailed is set by the tester when its latest validation
	// pass recorded a failure with retries remaining.
	LastValidationFailed bool `json:"last_validation_failed"`
	// Canceled is set when the run's context ended before a terminal hint.
	Canceled bool         `json:"canceled,omitempty"`
	Report   *FinalReport `json:"report,omitempty"`

	tasks map[string]*Task
	order []string
}

// NewWorkflowState creates a state for a fresh request.
func NewWorkflowState(runID, request string) *WorkflowState {
	return &WorkflowState{
		RunID:         runID,
		Request:       request,
		OverallStatus: StatusPlanning,
		tasks:         map[string]*Task{},
	}
}

// AddTask appends a task in planning order. A task with an existing id
// replaces the stored one without changing its position.
func (s *WorkflowState) AddTask(t *Task) {
	if s.tasks == nil {
		s.tasks = map[string]*Task{}
	}
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
}

// Task returns the task with the given id.
func (s *WorkflowState) Task(id string) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns the tasks in planning order.
func (s *WorkflowState) Tasks() []*Task {
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// TaskCount returns the number of planned tasks.
func (s *WorkflowState) TaskCount() int { return len(s.order) }

// TasksFor returns the tasks assigned to target that satisfy the filter
// (nil filter accepts all), in planning order.
func (s *WorkflowState) TasksFor(target RouteTarget, filter func(*Task) bool) []*Task {
	var out []*Task
	for _, t := range s.Tasks() {
		if t.AssignedTo != target {
			continue
		}
		if filter != nil && !filter(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FirstOpenExternal returns the first pending or in-progress task assigned to
// an external agent that is not waiting on local recovery.
func (s *WorkflowState) FirstOpenExternal() (*Task, bool) {
	for _, t := range s.Tasks() {
		if t.AssignedTo.IsExternal() && t.IsOpen() && t.Recovery != RecoveryRetryPending {
			return t, true
		}
	}
	return nil, false
}

// AllCompleted reports whether every task completed.
func (s *WorkflowState) AllCompleted() bool {
	for _, t := range s.Tasks() {
		if t.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// AppendTurn adds an entry to the ordered log.
func (s *WorkflowState) AppendTurn(actor RouteTarget, taskID, message string) {
	s.Log = append(s.Log, Turn{
		Seq:     len(s.Log) + 1,
		Actor:   actor,
		Message: message,
		TaskID:  taskID,
		At:      time.Now(),
	})
}

// AddTechContext merges technology labels into the context set.
func (s *WorkflowState) AddTechContext(items ...string) {
	s.TechContext = NormalizeTags(append(append([]string(nil), s.TechContext...), items...))
}

// Clone returns a deep copy, used by the engine to publish snapshots without
// sharing the router-owned record.
func (s *WorkflowState) Clone() *WorkflowState {
	c := *s
	c.Log = append([]Turn(nil), s.Log...)
	c.TechContext = append([]string(nil), s.TechContext...)
	c.order = append([]string(nil), s.order...)
	c.tasks = make(map[string]*Task, len(s.tasks))
	for id, t := range s.tasks {
		c.tasks[id] = t.Clone()
	}
	if s.Report != nil {
		r := *s.Report
		r.Tasks = append([]TaskSummary(nil), s.Report.Tasks...)
		c.Report = &r
	}
	return &c
}

// StatusCounts tallies tasks per status.
func (s *WorkflowState) StatusCounts() map[TaskStatus]int {
	counts := map[TaskStatus]int{}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}
