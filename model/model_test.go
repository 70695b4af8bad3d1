package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModel_Resolution(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("exact", "exact answer")
	m.AddResponseContaining("plan", `{"tasks":[]}`)

	out, err := Complete(context.Background(), m, Request{Messages: []Message{UserMessage("exact")}})
	require.NoError(t, err)
	assert.Equal(t, "exact answer", out)

	out, err = Complete(context.Background(), m, Request{Messages: []Message{UserMessage("please plan this")}})
	require.NoError(t, err)
	assert.Equal(t, `{"tasks":[]}`, out)

	out, err = Complete(context.Background(), m, Request{Messages: []Message{UserMessage("other")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", out)

	m.Enqueue("first", "second")
	out, _ = Complete(context.Background(), m, Request{Messages: []Message{UserMessage("exact")}})
	assert.Equal(t, "first", out)
	out, _ = Complete(context.Background(), m, Request{Messages: []Message{UserMessage("exact")}})
	assert.Equal(t, "second", out)

	assert.Len(t, m.Requests(), 5)
}

func TestComplete_Streaming(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hi", "hello")

	out, err := Complete(context.Background(), m, Request{Messages: []Message{UserMessage("hi")}, Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestComplete_Error(t *testing.T) {
	m := NewMockModel("mock", "test")
	boom := errors.New("boom")
	m.FailWith(boom)

	_, err := Complete(context.Background(), m, Request{Messages: []Message{UserMessage("hi")}})
	assert.ErrorIs(t, err, boom)

	_, err = Complete(context.Background(), NewMockModel("m", "t"), Request{})
	assert.Error(t, err)
}

func TestComplete_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Complete(ctx, NewMockModel("m", "t"), Request{Messages: []Message{UserMessage("hi")}})
	assert.ErrorIs(t, err, context.Canceled)
}
