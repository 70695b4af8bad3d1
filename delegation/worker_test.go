package delegation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/a2autil"
	"github.com/hupe1980/codemesh/internal/testutil"
	"github.com/hupe1980/codemesh/recovery"
	"github.com/hupe1980/codemesh/registry"
)

func TestWorker_CompletesTask(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "translator", func(f *testutil.FakeAgent) { f.ResultText = "bonjour" })
	reg := registry.New(entryFor(agent, false))
	w := NewWorker(fastClient(), reg)

	state := testutil.NewStateBuilder("run-1", "build a greeter").
		Plan("greeter with translations").
		Task("t1", "translate hello", core.External("translator")).
		Build()

	out, hint, err := w.For("translator").Execute(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, hint.IsZero())

	task, _ := out.Task("t1")
	assert.Equal(t, core.TaskCompleted, task.Status)
	assert.Equal(t, "bonjour", task.Result)
	assert.NotEmpty(t, task.CorrelationID)
	require.Len(t, out.Log, 1)
	assert.Equal(t, core.External("translator"), out.Log[0].Actor)

	var params a2a.MessageSendParams
	require.NoError(t, json.Unmarshal(agent.Requests()[0].Params, &params))
	text := a2autil.MessageText(params.Message)
	assert.Contains(t, text, "Original request: build a greeter")
	assert.Contains(t, text, "Specific task: translate hello")
	assert.Contains(t, text, "Overall plan: greeter with translations")
	assert.NotContains(t, text, "Previous attempt failed")
}

func TestWorker_FailureWithoutRetriesFailsTask(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "fx", func(f *testutil.FakeAgent) {
		f.FinalState = a2a.TaskStateFailed
		f.Reason = "rate limited"
	})
	machine := recovery.New(func(o *recovery.Options) { o.MaxRetries = 0 })
	w := NewWorker(fastClient(), registry.New(entryFor(agent, false)), func(o *WorkerOptions) { o.Machine = machine })

	state := testutil.NewStateBuilder("run-1", "convert").Task("t1", "convert 5 EUR", core.External("fx")).Build()

	out, hint, err := w.For("fx").Execute(context.Background(), state)
	require.NoError(t, err)

	task, _ := out.Task("t1")
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Contains(t, task.Result, "rate limited")
	assert.Equal(t, core.Internal(core.WorkerAggregator), hint)
}

func TestWorker_FailureWithinBudgetQueuesRecovery(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "fx", func(f *testutil.FakeAgent) {
		f.FinalState = a2a.TaskStateFailed
		f.Reason = "rate limited"
	})
	w := NewWorker(fastClient(), registry.New(entryFor(agent, false)))

	state := testutil.NewStateBuilder("run-1", "convert").Task("t1", "convert 5 EUR", core.External("fx")).Build()

	out, hint, err := w.For("fx").Execute(context.Background(), state)
	require.NoError(t, err)

	task, _ := out.Task("t1")
	assert.Equal(t, core.TaskInProgress, task.Status)
	assert.Equal(t, core.RecoveryRetryPending, task.Recovery)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, "rate limited", task.Result)
	assert.Equal(t, core.Internal(core.WorkerErrorRecovery), hint)

	// a waiting task is not picked again
	_, _, err = w.For("fx").Execute(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.Calls(a2autil.MethodSendMessage))
}

func TestWorker_UnknownAgentMakesNoCall(t *testing.T) {
	w := NewWorker(fastClient(), registry.New())
	state := testutil.NewStateBuilder("run-1", "x").Task("t1", "x", core.External("ghost")).Build()

	out, _, err := w.For("ghost").Execute(context.Background(), state)
	require.NoError(t, err)

	task, _ := out.Task("t1")
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Equal(t, "unknown external agent", task.Result)
}

func TestWorker_NoOpenTask(t *testing.T) {
	w := NewWorker(fastClient(), registry.New())
	state := testutil.NewStateBuilder("run-1", "x").Build()

	out, hint, err := w.For("any").Execute(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, hint.IsZero())
	assert.Len(t, out.Log, 1)
}

func TestWorker_RetryMessageCarriesLastError(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "fx")
	w := NewWorker(fastClient(), registry.New(entryFor(agent, false)))

	task := testutil.NewTaskBuilder("t1").Content("convert").External("fx").Build()
	task.LastError = "rate limited"
	state := testutil.NewStateBuilder("run-1", "x").WithTask(task).Build()

	_, _, err := w.For("fx").Execute(context.Background(), state)
	require.NoError(t, err)

	var params a2a.MessageSendParams
	require.NoError(t, json.Unmarshal(agent.Requests()[0].Params, &params))
	assert.Contains(t, a2autil.MessageText(params.Message), "Previous attempt failed: rate limited")
}
