package a2autil_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codemesh/internal/a2autil"
	"github.com/hupe1980/codemesh/internal/testutil"
)

func TestResolveCard(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "translator", func(f *testutil.FakeAgent) {
		f.Card.Capabilities.Streaming = true
		f.Card.Skills = []a2a.AgentSkill{{ID: "tr", Name: "Translate", Tags: []string{"translation", "i18n"}}}
	})

	card, err := a2autil.ResolveCard(context.Background(), nil, agent.URL(), a2autil.AgentCardPath, "")
	require.NoError(t, err)
	assert.Equal(t, "translator", card.Name)
	assert.True(t, card.Capabilities.Streaming)
	assert.Equal(t, []string{"translation", "i18n"}, a2autil.Tags(card))
	assert.Equal(t, agent.URL()+testutil.RPCPath, card.URL)

	reqs := agent.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Authorization)
}

func TestResolveCard_HTTPError(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "down", func(f *testutil.FakeAgent) { f.CardStatus = http.StatusServiceUnavailable })

	_, err := a2autil.ResolveCard(context.Background(), nil, agent.URL(), a2autil.AgentCardPath, "")
	assert.Error(t, err)
}

func TestResolveCard_UnnamedCard(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "")

	_, err := a2autil.ResolveCard(context.Background(), nil, agent.URL(), a2autil.AgentCardPath, "")
	assert.ErrorIs(t, err, a2autil.ErrUnnamedCard)
}

func TestResolveCard_ExtendedSendsBearer(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "secure", func(f *testutil.FakeAgent) {
		f.Token = "s3cret"
		f.ExtendedCard = &a2a.AgentCard{Name: "secure", Skills: []a2a.AgentSkill{{ID: "x", Tags: []string{"premium"}}}}
	})

	card, err := a2autil.ResolveCard(context.Background(), nil, agent.URL(), a2autil.ExtendedAgentCardPath, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, []string{"premium"}, a2autil.Tags(card))

	reqs := agent.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, a2autil.ExtendedAgentCardPath, reqs[0].Path)
	assert.Equal(t, "Bearer s3cret", reqs[0].Authorization)

	_, err = a2autil.ResolveCard(context.Background(), nil, agent.URL(), a2autil.ExtendedAgentCardPath, "wrong")
	assert.Error(t, err)
}

func TestNewClient_SendGetCancel(t *testing.T) {
	agent := testutil.NewFakeAgent(t, "slow", func(f *testutil.FakeAgent) {
		f.WorkingPolls = 1
		f.ResultText = "ok"
	})
	ctx := context.Background()

	client, err := a2autil.NewClient(ctx, &agent.Card, "", nil, "tok")
	require.NoError(t, err)
	defer func() { _ = client.Destroy() }()

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "do it"})
	msg.ContextID = "ctx-1"
	resp, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	require.NoError(t, err)
	task, ok := resp.(*a2a.Task)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)
	assert.Equal(t, "ctx-1", task.ContextID)

	task, err = client.GetTask(ctx, &a2a.TaskQueryParams{ID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, task.Status.State)

	task, err = client.GetTask(ctx, &a2a.TaskQueryParams{ID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.Equal(t, "ok", a2autil.TaskText(task))

	task, err = client.CancelTask(ctx, &a2a.TaskIDParams{ID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)

	for _, r := range agent.Requests() {
		assert.Equal(t, "Bearer tok", r.Authorization, r.Method)
	}
	assert.Equal(t, 1, agent.Calls(a2autil.MethodSendMessage))
	assert.Equal(t, 2, agent.Calls(a2autil.MethodGetTask))
	assert.Equal(t, 1, agent.Calls(a2autil.MethodCancelTask))

	var params a2a.MessageSendParams
	require.NoError(t, json.Unmarshal(agent.Requests()[0].Params, &params))
	assert.Equal(t, a2a.MessageRoleUser, params.Message.Role)
	assert.Equal(t, "do it", a2autil.MessageText(params.Message))
	assert.NotEmpty(t, params.Message.ID)
}

func TestBearerClient(t *testing.T) {
	base := &http.Client{}
	assert.Same(t, base, a2autil.BearerClient(base, ""))

	wrapped := a2autil.BearerClient(base, "tok")
	assert.NotSame(t, base, wrapped)
	assert.Nil(t, base.Transport)
	assert.NotNil(t, wrapped.Transport)
}

func TestTerminal(t *testing.T) {
	for _, s := range []a2a.TaskState{a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled, a2a.TaskStateRejected, a2a.TaskStateInputRequired} {
		assert.True(t, a2autil.Terminal(s), string(s))
	}
	for _, s := range []a2a.TaskState{a2a.TaskStateSubmitted, a2a.TaskStateWorking} {
		assert.False(t, a2autil.Terminal(s), string(s))
	}
}

func TestTaskText(t *testing.T) {
	withArtifact := &a2a.Task{
		Artifacts: []*a2a.Artifact{{Parts: a2a.ContentParts{a2a.TextPart{Text: "a"}, a2a.TextPart{Text: "b"}}}},
		Status:    a2a.TaskStatus{Message: a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "status"})},
	}
	assert.Equal(t, "ab", a2autil.TaskText(withArtifact))

	statusOnly := &a2a.Task{Status: a2a.TaskStatus{Message: a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "quota exceeded"})}}
	assert.Equal(t, "quota exceeded", a2autil.TaskText(statusOnly))

	historyOnly := &a2a.Task{History: []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "first"}),
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "question"}),
	}}
	assert.Equal(t, "first", a2autil.TaskText(historyOnly))
	assert.Empty(t, a2autil.TaskText(nil))
}
