// Package a2autil adapts github.com/a2aproject/a2a-go to the mesh: card
// resolution with bearer auth, JSON-RPC client construction and text
// extraction from protocol payloads.
package a2autil

import (
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
)

const (
	// AgentCardPath is the well-known public card location.
	AgentCardPath = "/.well-known/agent-card.json"
	// ExtendedAgentCardPath serves the authenticated extended card.
	ExtendedAgentCardPath = "/agent-card"
)

// JSON-RPC method names, used by tests to count calls.
const (
	MethodSendMessage   = "message/send"
	MethodStreamMessage = "message/stream"
	MethodGetTask       = "tasks/get"
	MethodCancelTask    = "tasks/cancel"
)

// Tags returns the skill tags of card in skill order.
func Tags(card *a2a.AgentCard) []string {
	if card == nil {
		return nil
	}
	var out []string
	for _, s := range card.Skills {
		out = append(out, s.Tags...)
	}
	return out
}

// Terminal reports whether a remote task will not change state again.
// input-required and auth-required count as terminal: the mesh never answers
// follow-ups.
func Terminal(s a2a.TaskState) bool {
	switch s {
	case a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled, a2a.TaskStateRejected,
		a2a.TaskStateInputRequired, a2a.TaskStateAuthRequired:
		return true
	}
	return false
}

// PartsText concatenates the text parts.
func PartsText(parts a2a.ContentParts) string {
	var b strings.Builder
	for _, p := range parts {
		switch tp := p.(type) {
		case a2a.TextPart:
			b.WriteString(tp.Text)
		case *a2a.TextPart:
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// MessageText returns the text of m, empty for nil.
func MessageText(m *a2a.Message) string {
	if m == nil {
		return ""
	}
	return PartsText(m.Parts)
}

// TaskText returns the artifact text of t, falling back to the status
// message and then to the last agent message in the history.
func TaskText(t *a2a.Task) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	for _, a := range t.Artifacts {
		if a != nil {
			b.WriteString(PartsText(a.Parts))
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	if text := MessageText(t.Status.Message); text != "" {
		return text
	}
	for i := len(t.History) - 1; i >= 0; i-- {
		if m := t.History[i]; m != nil && m.Role == a2a.MessageRoleAgent {
			return MessageText(m)
		}
	}
	return ""
}
