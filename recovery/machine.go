// Package recovery implements the bounded retry state machine applied to
// produced work: validating → {accepted, retry_pending, exhausted}.
//
// A task enters validating when output exists for its current revision. A
// failed validation increments RetryCount once per revision; while the count
// stays within MaxRetries the task waits in retry_pending for the
// error-recovery worker, afterwards it fails with an ExhaustedRetryError.
package recovery

import (
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
)

// DefaultMaxRetries is used when no limit is configured.
const DefaultMaxRetries = 2

// Outcome is the result of recording a failure.
type Outcome int

const (
	// Duplicate means the failure for this revision was already recorded.
	Duplicate Outcome = iota
	// RetryPending means a fix is due; the error-recovery worker runs next.
	RetryPending
	// Exhausted means the task failed for good.
	Exhausted
)

// String returns the metric label of the outcome.
func (o Outcome) String() string {
	switch o {
	case RetryPending:
		return "retry_pending"
	case Exhausted:
		return "exhausted"
	default:
		return "duplicate"
	}
}

// Options configures a Machine.
type Options struct {
	MaxRetries int
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

// Machine applies the retry policy to tasks. It holds no per-task state, so a
// single Machine is shared by every worker of a run.
type Machine struct {
	maxRetries int
	logger     logging.Logger
	metrics    *metrics.Metrics
}

// New creates a Machine.
func New(optFns ...func(o *Options)) *Machine {
	opts := Options{
		MaxRetries: DefaultMaxRetries,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Machine{
		maxRetries: opts.MaxRetries,
		logger:     logging.OrNoOp(opts.Logger),
		metrics:    opts.Metrics,
	}
}

// MaxRetries returns the configured retry budget.
func (m *Machine) MaxRetries() int { return m.maxRetries }

// Produced records fresh output for a task: it starts the task if needed,
// bumps the revision and moves it into validating.
func (m *Machine) Produced(t *core.Task, output string) error {
	if err := t.Start(); err != nil {
		return err
	}
	t.Revision++
	t.Result = output
	t.Recovery = core.RecoveryValidating
	return nil
}

// Accept marks validated output as final.
func (m *Machine) Accept(t *core.Task) error {
	if err := t.Start(); err != nil {
		return err
	}
	if err := t.Complete(t.Result); err != nil {
		return err
	}
	t.Recovery = core.RecoveryAccepted
	m.metrics.ObserveRetry("accepted")
	return nil
}

// Fail records a validation or delegation failure for the given revision.
// Recording the same revision twice is a no-op and returns Duplicate.
func (m *Machine) Fail(t *core.Task, revision int, reason string) Outcome {
	if t.Status.IsTerminal() || (t.FailedRevision == revision && t.RetryCount > 0) {
		return Duplicate
	}
	if t.Status == core.TaskPending {
		_ = t.Start()
	}
	t.FailedRevision = revision
	t.RetryCount++
	t.LastError = reason

	if t.RetryCount <= m.maxRetries {
		t.Recovery = core.RecoveryRetryPending
		m.logger.Info("Task queued for recovery", "task_id", t.ID, "retry", t.RetryCount, "max_retries", m.maxRetries, "reason", reason)
		m.metrics.ObserveRetry(RetryPending.String())
		return RetryPending
	}

	exhausted := &core.ExhaustedRetryError{TaskID: t.ID, Attempts: t.RetryCount, LastReason: reason}
	_ = t.Fail(exhausted.Error())
	t.LastError = reason
	t.Recovery = core.RecoveryExhausted
	m.logger.Warn("Task exhausted retries", "task_id", t.ID, "attempts", t.RetryCount, "reason", reason)
	m.metrics.ObserveRetry(Exhausted.String())
	return Exhausted
}

// Resubmit moves a fixed task back into validating with a new revision.
func (m *Machine) Resubmit(t *core.Task, output string) {
	t.Revision++
	t.Result = output
	t.Recovery = core.RecoveryValidating
}

// Requeue hands a retry_pending task back to its owner for another attempt
// without producing output locally, as for delegated tasks.
func (m *Machine) Requeue(t *core.Task) bool {
	if t.Recovery != core.RecoveryRetryPending || t.Status.IsTerminal() {
		return false
	}
	t.Recovery = core.RecoveryNone
	return true
}

// Route returns where control goes after an outcome. Duplicate yields no hint.
func Route(o Outcome) core.RouteTarget {
	switch o {
	case RetryPending:
		return core.Internal(core.WorkerErrorRecovery)
	case Exhausted:
		return core.Internal(core.WorkerAggregator)
	default:
		return core.NoHint()
	}
}
