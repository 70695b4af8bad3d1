package agent

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codemesh/artifact"
	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/testutil"
	"github.com/hupe1980/codemesh/model"
	"github.com/hupe1980/codemesh/recovery"
)

func sharedMachine(max int) (*recovery.Machine, func(o *Options)) {
	m := recovery.New(func(o *recovery.Options) { o.MaxRetries = max })
	return m, func(o *Options) { o.Machine = m }
}

func TestCoder_ProducesAndHandsOff(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.AddResponseContaining("implement add", "package main")
	store := artifact.NewInMemoryStore()
	c := NewCoder(llm, func(o *Options) { o.Artifacts = store })

	s := testutil.NewStateBuilder("run-1", "todo app").
		Plan("todo app").
		Tech("go").
		Task("t1", "implement add", core.Internal(core.WorkerCoder)).
		Task("t2", "translate ui", core.External("translator")).
		Build()

	_, hint, err := c.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, core.External("translator"), hint)

	t1, _ := s.Task("t1")
	assert.Equal(t, core.TaskInProgress, t1.Status)
	assert.Equal(t, core.RecoveryValidating, t1.Recovery)
	assert.Equal(t, "package main", t1.Result)
	assert.Equal(t, 1, t1.Revision)

	data, err := store.Get("run-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	prompt := llm.Requests()[0].Messages[0].Text
	assert.Contains(t, prompt, "Original request: todo app")
	assert.Contains(t, prompt, "Technology: go")
	assert.Contains(t, prompt, "Task: implement add")
	assert.Equal(t, coderInstruction, llm.Requests()[0].Instructions)
}

func TestCoder_ReasoningTimeoutIsRecoverable(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.FailWith(context.DeadlineExceeded)
	m, withMachine := sharedMachine(2)
	c := NewCoder(llm, withMachine)

	s := testutil.NewStateBuilder("run-1", "x").Task("t1", "implement", core.Internal(core.WorkerCoder)).Build()
	_, hint, err := c.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, hint.IsZero())

	t1, _ := s.Task("t1")
	assert.Equal(t, core.RecoveryRetryPending, t1.Recovery)
	assert.Equal(t, 1, t1.RetryCount)
	assert.Contains(t, t1.LastError, "reasoning failed")
	assert.Equal(t, 2, m.MaxRetries())
}

func TestArchitect_NoTasks(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	a := NewArchitect(llm)

	s := core.NewWorkflowState("run-1", "x")
	_, hint, err := a.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, hint.IsZero())
	assert.Empty(t, llm.Requests())
	require.Len(t, s.Log, 1)
	assert.Equal(t, "no architecture tasks", s.Log[0].Message)
}

func TestArchitect_DynamicInstruction(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	a := NewArchitect(llm, func(o *Options) {
		o.Instruction = NewInstructionFromFunc(func(s *core.WorkflowState) (string, error) {
			return "design for " + s.Request, nil
		})
	})

	s := testutil.NewStateBuilder("run-1", "cli").Task("t1", "layout", core.Internal(core.WorkerArchitect)).Build()
	_, _, err := a.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "design for cli", llm.Requests()[0].Instructions)
}

func TestTester_AcceptsAndRejects(t *testing.T) {
	m, withMachine := sharedMachine(2)
	v := ValidatorFunc(func(_ context.Context, _ *core.WorkflowState, task *core.Task) error {
		if task.ID == "bad" {
			return &core.ValidationError{TaskID: task.ID, Reason: "does not compile"}
		}
		return nil
	})
	tester := NewTester(model.NewMockModel("mock", "test"), v, withMachine)

	s := core.NewWorkflowState("run-1", "x")
	for _, id := range []string{"good", "bad"} {
		task := core.NewTask(id, id, core.Internal(core.WorkerCoder))
		require.NoError(t, m.Produced(task, "out"))
		s.AddTask(task)
	}

	_, hint, err := tester.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, hint.IsZero())
	assert.True(t, s.LastValidationFailed)

	good, _ := s.Task("good")
	assert.Equal(t, core.TaskCompleted, good.Status)
	bad, _ := s.Task("bad")
	assert.Equal(t, core.RecoveryRetryPending, bad.Recovery)
	assert.Equal(t, "does not compile", bad.LastError)

	// a second pass without a new revision records nothing
	_, _, err = tester.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, bad.RetryCount)
}

// MockValidator records Validate calls for expectation checks.
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, s *core.WorkflowState, t *core.Task) error {
	args := m.Called(ctx, s, t)
	return args.Error(0)
}

func TestTester_ValidatesOnlyValidatingTasks(t *testing.T) {
	m, withMachine := sharedMachine(2)
	v := new(MockValidator)
	v.On("Validate", mock.Anything, mock.Anything, mock.MatchedBy(func(task *core.Task) bool {
		return task.ID == "ready"
	})).Return(nil).Once()

	s := core.NewWorkflowState("run-1", "x")
	ready := core.NewTask("ready", "ready", core.Internal(core.WorkerCoder))
	require.NoError(t, m.Produced(ready, "out"))
	s.AddTask(ready)
	s.AddTask(core.NewTask("remote", "remote", core.External("translator")))

	tester := NewTester(model.NewMockModel("mock", "test"), v, withMachine)
	_, _, err := tester.Execute(context.Background(), s)
	require.NoError(t, err)

	v.AssertExpectations(t)
	v.AssertNumberOfCalls(t, "Validate", 1)
	assert.Equal(t, core.TaskCompleted, ready.Status)
	assert.False(t, s.LastValidationFailed)
}

func TestTester_ExhaustedRoutesToAggregator(t *testing.T) {
	_, withMachine := sharedMachine(0)
	v := ValidatorFunc(func(context.Context, *core.WorkflowState, *core.Task) error {
		return errors.New("validator crashed")
	})
	tester := NewTester(model.NewMockModel("mock", "test"), v, withMachine)

	s := core.NewWorkflowState("run-1", "x")
	task := core.NewTask("t1", "c", core.Internal(core.WorkerCoder))
	task.Recovery = core.RecoveryValidating
	s.AddTask(task)
	s.AddTask(core.NewTask("t2", "later", core.Internal(core.WorkerCoder)))

	_, hint, err := tester.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, core.Internal(core.WorkerAggregator), hint)
	assert.False(t, s.LastValidationFailed)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Contains(t, task.Result, "validator crashed")
}

func TestTester_ModelReview(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.AddResponseContaining("Output:\nbroken", "FAIL: missing main function")
	llm.AddResponseContaining("Output:\n", "PASS")
	_, withMachine := sharedMachine(2)
	tester := NewTester(llm, nil, withMachine)

	s := core.NewWorkflowState("run-1", "x")
	for id, out := range map[string]string{"a": "package main\nfunc main() {}", "b": "broken"} {
		task := core.NewTask(id, id, core.Internal(core.WorkerCoder))
		task.Result = out
		task.Recovery = core.RecoveryValidating
		s.AddTask(task)
	}

	_, _, err := tester.Execute(context.Background(), s)
	require.NoError(t, err)

	a, _ := s.Task("a")
	assert.Equal(t, core.TaskCompleted, a.Status)
	b, _ := s.Task("b")
	assert.Equal(t, "missing main function", b.LastError)
	assert.True(t, s.LastValidationFailed)
}

func TestErrorRecovery_ResubmitsAndRequeues(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.AddResponseContaining("Validation failure", "fixed code")
	m, withMachine := sharedMachine(2)
	fixer := NewErrorRecovery(llm, withMachine)

	s := core.NewWorkflowState("run-1", "x")
	s.LastValidationFailed = true

	local := core.NewTask("local", "implement", core.Internal(core.WorkerCoder))
	require.NoError(t, m.Produced(local, "broken code"))
	m.Fail(local, local.Revision, "does not compile")
	s.AddTask(local)

	remote := core.NewTask("remote", "translate", core.External("translator"))
	require.NoError(t, m.Produced(remote, "rate limited"))
	m.Fail(remote, remote.Revision, "rate limited")
	s.AddTask(remote)

	_, hint, err := fixer.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, core.External("translator"), hint)
	assert.False(t, s.LastValidationFailed)

	assert.Equal(t, core.RecoveryValidating, local.Recovery)
	assert.Equal(t, "fixed code", local.Result)
	assert.Equal(t, 2, local.Revision)
	assert.Equal(t, core.RecoveryNone, remote.Recovery)

	prompt := llm.Requests()[0].Messages[0].Text
	assert.Contains(t, prompt, "broken code")
	assert.Contains(t, prompt, "does not compile")
	assert.Contains(t, prompt, "attempt 1")

	ext, ok := s.FirstOpenExternal()
	require.True(t, ok)
	assert.Equal(t, "remote", ext.ID)
}

func TestErrorRecovery_FixFailureExhausts(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.FailWith(errors.New("overloaded"))
	m, withMachine := sharedMachine(1)
	fixer := NewErrorRecovery(llm, withMachine)

	s := core.NewWorkflowState("run-1", "x")
	task := core.NewTask("t1", "implement", core.Internal(core.WorkerCoder))
	require.NoError(t, m.Produced(task, "v1"))
	m.Fail(task, task.Revision, "bad")
	s.AddTask(task)

	_, hint, err := fixer.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, core.Internal(core.WorkerAggregator), hint)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Equal(t, 2, task.RetryCount)
}

func TestSummarize(t *testing.T) {
	s := testutil.NewStateBuilder("run-1", "todo").
		Plan("plan").
		WithTask(testutil.NewTaskBuilder("a").Completed("built it").Build()).
		WithTask(testutil.NewTaskBuilder("b").Completed("").Build()).
		WithTask(testutil.NewTaskBuilder("c").Failed("").Build()).
		WithTask(testutil.NewTaskBuilder("d").Build()).
		WithTask(testutil.NewTaskBuilder("e").InProgress().Output("draft").Build()).
		Build()

	r := Summarize(s)
	assert.Equal(t, core.StatusFailed, r.OverallStatus)
	assert.Equal(t, 2, r.Completed)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 2, r.Open)

	lines := map[string]string{}
	for _, ts := range r.Tasks {
		lines[ts.ID] = ts.Line
	}
	assert.Equal(t, map[string]string{
		"a": "built it",
		"b": LineCompleted,
		"c": LineFailed,
		"d": LineNotStarted,
		"e": "in progress: draft",
	}, lines)
	assert.Len(t, r.FailedTasks(), 3)
}

func TestSummarize_OpenTaskKeepsLastError(t *testing.T) {
	s := testutil.NewStateBuilder("run-1", "todo").
		WithTask(testutil.NewTaskBuilder("a").Exhausted(2, "tests still failing").Build()).
		WithTask(testutil.NewTaskBuilder("b").Output("func main() {}").RetryPending("lint error").Build()).
		WithTask(testutil.NewTaskBuilder("c").InProgress().Build()).
		Build()

	r := Summarize(s)
	assert.Equal(t, core.StatusFailed, r.OverallStatus)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 2, r.Open)

	lines := map[string]string{}
	for _, ts := range r.Tasks {
		lines[ts.ID] = ts.Line
	}
	assert.Equal(t, "tests still failing", lines["a"])
	assert.NotEqual(t, LineNotStarted, lines["b"])
	assert.Contains(t, lines["b"], "lint error")
	assert.Equal(t, "retry pending after attempt 1: lint error", lines["b"])
	assert.Equal(t, LineInProgress, lines["c"])
}

func TestSummarize_AllCompleted(t *testing.T) {
	s := testutil.NewStateBuilder("run-1", "todo").
		WithTask(testutil.NewTaskBuilder("a").Completed("ok").Build()).
		Build()
	assert.Equal(t, core.StatusCompleted, Summarize(s).OverallStatus)
}

func TestAggregator_CanceledRunSkipsNarrative(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Enqueue("should not be used")
	agg := NewAggregator(llm)

	s := testutil.NewStateBuilder("run-1", "todo").Plan("the plan").
		WithTask(testutil.NewTaskBuilder("a").Failed("run canceled").Build()).
		Build()
	s.Canceled = true

	_, hint, err := agg.Execute(context.WithoutCancel(context.Background()), s)
	require.NoError(t, err)
	assert.True(t, hint.IsTerminal())
	require.NotNil(t, s.Report)
	assert.Equal(t, "the plan", s.Report.Summary)
	assert.Empty(t, llm.Requests())
}

func TestAggregator_NarrativeFailureIgnored(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.FailWith(errors.New("down"))
	store := artifact.NewInMemoryStore()
	require.NoError(t, store.Save("run-1", "a", []byte("x")))
	agg := NewAggregator(llm, func(o *Options) { o.Artifacts = store })

	s := testutil.NewStateBuilder("run-1", "todo").Plan("the plan").
		WithTask(testutil.NewTaskBuilder("a").Completed("ok").Build()).
		Build()

	_, hint, err := agg.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, hint.IsTerminal())
	require.NotNil(t, s.Report)
	assert.Equal(t, "the plan", s.Report.Summary)
	assert.Equal(t, []string{"a"}, s.Report.Artifacts)
}

func TestAggregator_Narrative(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.Enqueue("  All done.  ")
	agg := NewAggregator(llm)

	s := testutil.NewStateBuilder("run-1", "todo").
		WithTask(testutil.NewTaskBuilder("a").Completed("ok").Build()).
		Build()
	_, _, err := agg.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "All done.", s.Report.Summary)
	assert.Contains(t, llm.Requests()[0].Messages[0].Text, "[completed] ")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		answer string
		reason string
	}{
		{answer: "PASS", reason: ""},
		{answer: "looks fine", reason: ""},
		{answer: "FAIL: no tests", reason: "no tests"},
		{answer: "fail - typo\nmore text", reason: "typo"},
		{answer: "FAIL", reason: "rejected by reviewer"},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			err := ParseVerdict("t1", tt.answer)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.True(t, core.IsRecoverable(err))
		})
	}
}

func TestCommandValidator(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	task := core.NewTask("t1", "c", core.Internal(core.WorkerCoder))

	ok := NewCommandValidator("sh", []string{"-c", `test "$CODEMESH_TASK_ID" = t1`})
	assert.NoError(t, ok.Validate(context.Background(), nil, task))

	failing := NewCommandValidator("sh", []string{"-c", "echo 'FAIL: TestAdd'; exit 1"})
	err := failing.Validate(context.Background(), nil, task)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "FAIL: TestAdd", verr.Reason)

	truncated := NewCommandValidator("sh", []string{"-c", "echo 0123456789; exit 3"}, func(o *CommandValidatorOptions) { o.MaxOutput = 4 })
	err = truncated.Validate(context.Background(), nil, task)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "6789", verr.Reason)

	missing := NewCommandValidator("definitely-not-a-command-xyz", nil, func(o *CommandValidatorOptions) { o.Timeout = time.Second })
	err = missing.Validate(context.Background(), nil, task)
	require.Error(t, err)
	assert.False(t, errors.As(err, &verr))
}
