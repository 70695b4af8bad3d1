package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role names the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one text message of a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage builds a user message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// Request captures the normalized model input produced by workers.
type Request struct {
	Instructions string    `json:"instructions"` // System instructions for the model
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
}

// Model is the reasoning engine behind the internal workers.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrEmptyResponse is returned by Complete when the model produced no final text.
var ErrEmptyResponse = errors.New("model returned no final response")

// Complete drains a generation and returns the final text. Partial chunks are
// concatenated when the model emits no final chunk.
func Complete(ctx context.Context, m Model, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	respCh, errCh := m.Generate(ctx, req)

	var partial strings.Builder
	final, gotFinal := "", false
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partial.WriteString(r.Text)
				continue
			}
			final, gotFinal = r.Text, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}
	if gotFinal {
		return final, nil
	}
	if partial.Len() > 0 {
		return partial.String(), nil
	}
	return "", ErrEmptyResponse
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Responses are resolved in order: queued responses, exact prompt matches,
// substring matches, then an echo of the prompt.
type MockModel struct {
	info Info

	mu         sync.Mutex
	responses  map[string]string
	containing []match
	queue      []string
	err        error
	requests   []Request
}

type match struct{ substr, response string }

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:     name,
			Provider: provider,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddResponseContaining answers any prompt containing substr.
func (m *MockModel) AddResponseContaining(substr, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containing = append(m.containing, match{substr: substr, response: response})
}

// Enqueue adds responses returned once each, before any other match.
func (m *MockModel) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// FailWith makes every subsequent call fail with err (nil clears it).
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) resolve(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	inputText := req.Messages[len(req.Messages)-1].Text
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	if r, ok := m.responses[inputText]; ok {
		return r, nil
	}
	for _, c := range m.containing {
		if strings.Contains(inputText, c.substr) {
			return c.response, nil
		}
	}
	return fmt.Sprintf("Mock response to: %s", inputText), nil
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		full, err := m.resolve(req)
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Partial: false, Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
