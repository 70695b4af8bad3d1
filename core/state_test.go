package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowState_TasksKeepPlanningOrder(t *testing.T) {
	s := NewWorkflowState("run-1", "build a login page")
	assert.Equal(t, StatusPlanning, s.OverallStatus)

	s.AddTask(NewTask("b", "second id, first planned", Internal(WorkerArchitect)))
	s.AddTask(NewTask("a", "first id, second planned", Internal(WorkerCoder)))
	s.AddTask(NewTask("c", "external", External("fx")))

	ids := []string{}
	for _, task := range s.Tasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	s.AddTask(NewTask("b", "replaced", Internal(WorkerArchitect)))
	assert.Equal(t, 3, s.TaskCount())
	b, ok := s.Task("b")
	require.True(t, ok)
	assert.Equal(t, "replaced", b.Content)

	ext, ok := s.FirstOpenExternal()
	require.True(t, ok)
	assert.Equal(t, "c", ext.ID)
	assert.Len(t, s.TasksFor(Internal(WorkerCoder), nil), 1)
}

func TestWorkflowState_AllCompleted(t *testing.T) {
	s := NewWorkflowState("run-1", "x")
	assert.True(t, s.AllCompleted(), "vacuously true without tasks")

	task := NewTask("a", "x", Internal(WorkerCoder))
	s.AddTask(task)
	assert.False(t, s.AllCompleted())

	require.NoError(t, task.Start())
	require.NoError(t, task.Complete("ok"))
	assert.True(t, s.AllCompleted())
	assert.Equal(t, 1, s.StatusCounts()[TaskCompleted])
}

func TestWorkflowState_CloneIsIsolated(t *testing.T) {
	s := NewWorkflowState("run-1", "x")
	s.AddTask(NewTask("a", "x", Internal(WorkerCoder)))
	s.AppendTurn(Internal(WorkerPlanner), "", "planned 1 task")
	s.AddTechContext("Go", "react", "go")
	assert.Equal(t, []string{"go", "react"}, s.TechContext)

	c := s.Clone()
	ct, _ := c.Task("a")
	require.NoError(t, ct.Start())
	c.AppendTurn(Internal(WorkerCoder), "a", "started")

	orig, _ := s.Task("a")
	assert.Equal(t, TaskPending, orig.Status)
	assert.Len(t, s.Log, 1)
	assert.Equal(t, 1, s.Log[0].Seq)
	assert.Equal(t, 2, c.Log[1].Seq)
}

func TestErrors_Classification(t *testing.T) {
	assert.True(t, IsRecoverable(&ValidationError{TaskID: "a", Reason: "tests failed"}))
	assert.True(t, IsRecoverable(&DelegationError{Agent: "fx", TaskID: "a", Reason: "rate limited"}))
	assert.False(t, IsRecoverable(&RoutingError{Target: External("fx"), Err: ErrUnknownExternalAgent}))
	assert.True(t, IsExhausted(&ExhaustedRetryError{TaskID: "a", Attempts: 3}))

	rerr := &RoutingError{Target: External("fx"), TaskID: "a", Err: ErrUnknownExternalAgent}
	assert.ErrorIs(t, rerr, ErrUnknownExternalAgent)
	assert.Contains(t, rerr.Error(), "unknown external agent")
}
