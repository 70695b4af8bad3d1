package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codemesh/core"
)

func newProducedTask(t *testing.T, m *Machine) *core.Task {
	t.Helper()
	task := core.NewTask("t1", "write handler", core.Internal(core.WorkerCoder))
	require.NoError(t, m.Produced(task, "func handler() {}"))
	return task
}

func TestMachine_Accept(t *testing.T) {
	m := New()
	task := newProducedTask(t, m)

	require.NoError(t, m.Accept(task))
	assert.Equal(t, core.TaskCompleted, task.Status)
	assert.Equal(t, core.RecoveryAccepted, task.Recovery)
	assert.Equal(t, "func handler() {}", task.Result)
}

func TestMachine_FailWithinBudget(t *testing.T) {
	m := New(func(o *Options) { o.MaxRetries = 2 })
	task := newProducedTask(t, m)

	out := m.Fail(task, task.Revision, "syntax error")
	assert.Equal(t, RetryPending, out)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, core.TaskInProgress, task.Status)
	assert.Equal(t, core.RecoveryRetryPending, task.Recovery)
	assert.Equal(t, core.Internal(core.WorkerErrorRecovery), Route(out))
}

func TestMachine_FailIsIdempotentPerRevision(t *testing.T) {
	m := New()
	task := newProducedTask(t, m)

	assert.Equal(t, RetryPending, m.Fail(task, task.Revision, "boom"))
	assert.Equal(t, Duplicate, m.Fail(task, task.Revision, "boom"))
	assert.Equal(t, 1, task.RetryCount)
	assert.True(t, Route(Duplicate).IsZero())
}

func TestMachine_ExhaustsAfterMaxRetries(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 3} {
		m := New(func(o *Options) { o.MaxRetries = maxRetries })
		task := newProducedTask(t, m)

		var out Outcome
		for i := 0; i <= maxRetries; i++ {
			out = m.Fail(task, task.Revision, "still broken")
			if out == RetryPending {
				assert.LessOrEqual(t, task.RetryCount, maxRetries)
				m.Resubmit(task, "attempted fix")
			}
		}

		assert.Equal(t, Exhausted, out, "max=%d", maxRetries)
		assert.Equal(t, core.TaskFailed, task.Status)
		assert.Equal(t, core.RecoveryExhausted, task.Recovery)
		assert.Equal(t, maxRetries+1, task.RetryCount)
		assert.Contains(t, task.Result, "still broken")
		assert.Contains(t, task.Result, "exhausted")
		assert.Equal(t, core.Internal(core.WorkerAggregator), Route(out))

		assert.Equal(t, Duplicate, m.Fail(task, task.Revision+1, "late"))
	}
}

func TestMachine_ResubmitBumpsRevision(t *testing.T) {
	m := New()
	task := newProducedTask(t, m)
	rev := task.Revision

	m.Fail(task, rev, "bad")
	m.Resubmit(task, "fixed")

	assert.Equal(t, rev+1, task.Revision)
	assert.Equal(t, core.RecoveryValidating, task.Recovery)
	assert.Equal(t, "fixed", task.Result)
	assert.Equal(t, RetryPending, m.Fail(task, task.Revision, "bad again"))
	assert.Equal(t, 2, task.RetryCount)
}

func TestNew_NegativeRetriesClamp(t *testing.T) {
	m := New(func(o *Options) { o.MaxRetries = -3 })
	assert.Equal(t, 0, m.MaxRetries())
}

func TestMachine_Requeue(t *testing.T) {
	m := New()
	task := newProducedTask(t, m)

	assert.False(t, m.Requeue(task))

	m.Fail(task, task.Revision, "remote failed")
	require.True(t, m.Requeue(task))
	assert.Equal(t, core.RecoveryNone, task.Recovery)
	assert.Equal(t, core.TaskInProgress, task.Status)
	assert.Equal(t, 1, task.RetryCount)
}
