package core

import (
	"fmt"
	"sort"
	"strings"
)

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	// TaskPending means the task was planned but no worker picked it up yet.
	TaskPending TaskStatus = "pending"
	// TaskInProgress means a worker (or a remote agent) holds the task.
	TaskInProgress TaskStatus = "in_progress"
	// TaskCompleted is terminal.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is terminal.
	TaskFailed TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool { return s == TaskCompleted || s == TaskFailed }

// RecoveryState tracks a task inside the retry machine. It is orthogonal to
// TaskStatus: while a task waits for a fix it stays in_progress.
type RecoveryState string

const (
	// RecoveryNone means the task never entered validation.
	RecoveryNone RecoveryState = ""
	// RecoveryValidating means output exists and awaits validation.
	RecoveryValidating RecoveryState = "validating"
	// RecoveryAccepted means validation passed.
	RecoveryAccepted RecoveryState = "accepted"
	// RecoveryRetryPending means validation failed and a fix is due.
	RecoveryRetryPending RecoveryState = "retry_pending"
	// RecoveryExhausted means the retry budget ran out.
	RecoveryExhausted RecoveryState = "exhausted"
)

// Task is a unit of planned work.
type Task struct {
	ID             string        `json:"id"`
	Content        string        `json:"content"`
	AssignedTo     RouteTarget   `json:"assigned_to"`
	Status         TaskStatus    `json:"status"`
	Result         string        `json:"result,omitempty"`
	RetryCount     int           `json:"retry_count"`
	CapabilityTags []string      `json:"capability_tags,omitempty"`
	Recovery       RecoveryState `json:"recovery,omitempty"`
	// Revision counts outputs produced for this task. Failures are recorded
	// once per revision.
	Revision int `json:"revision"`
	// FailedRevision is the last revision a validation failure was recorded for.
	FailedRevision int    `json:"failed_revision"`
	LastError      string `json:"last_error,omitempty"`
	// CorrelationID links the task to a delegation envelope (contextId).
	CorrelationID string `json:"correlation_id,omitempty"`
	// RemoteTaskID is the taskId the remote agent assigned, used for polling
	// and cancellation.
	RemoteTaskID string `json:"remote_task_id,omitempty"`
}

// NewTask builds a pending task.
func NewTask(id, content string, assignedTo RouteTarget, tags ...string) *Task {
	return &Task{
		ID:             id,
		Content:        content,
		AssignedTo:     assignedTo,
		Status:         TaskPending,
		CapabilityTags: NormalizeTags(tags),
	}
}

var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress},
	TaskInProgress: {TaskCompleted, TaskFailed},
}

// Transition moves the task to the next status. Only
// pending→in_progress→{completed|failed} is accepted; re-asserting the current
// non-terminal status is a no-op.
func (t *Task) Transition(to TaskStatus) error {
	if t.Status == to && !to.IsTerminal() {
		return nil
	}
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.ID, t.Status, to)
}

// Start moves a pending task to in_progress.
func (t *Task) Start() error { return t.Transition(TaskInProgress) }

// Complete marks the task completed with the given result.
func (t *Task) Complete(result string) error {
	if err := t.Transition(TaskCompleted); err != nil {
		return err
	}
	t.Result = result
	return nil
}

// Fail marks the task failed, starting it first when still pending so the
// monotonic path is preserved.
func (t *Task) Fail(reason string) error {
	if t.Status == TaskPending {
		if err := t.Start(); err != nil {
			return err
		}
	}
	if err := t.Transition(TaskFailed); err != nil {
		return err
	}
	t.Result = reason
	t.LastError = reason
	return nil
}

// IsOpen reports whether the task is still pending or in progress.
func (t *Task) IsOpen() bool { return !t.Status.IsTerminal() }

// HasTag reports whether the task carries the capability tag.
func (t *Task) HasTag(tag string) bool {
	tag = normalizeTag(tag)
	for _, c := range t.CapabilityTags {
		if c == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.CapabilityTags = append([]string(nil), t.CapabilityTags...)
	return &c
}

// NormalizeTags lowercases, trims, de-duplicates and sorts capability tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = normalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// IntersectTags returns the number of tags shared by a and b.
func IntersectTags(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[normalizeTag(tag)] = struct{}{}
	}
	n := 0
	for _, tag := range NormalizeTags(b) {
		if _, ok := set[tag]; ok {
			n++
		}
	}
	return n
}

func normalizeTag(tag string) string { return strings.ToLower(strings.TrimSpace(tag)) }
