package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/hupe1980/codemesh/internal/a2autil"
)

// RPCPath is where FakeAgent serves JSON-RPC.
const RPCPath = "/a2a"

// Recorded is one request seen by a FakeAgent.
type Recorded struct {
	Path          string
	Method        string // JSON-RPC method, empty for card fetches
	Authorization string
	Params        json.RawMessage
}

// FakeAgent is a scriptable agent-to-agent server backed by httptest.
//
//	agent := testutil.NewFakeAgent(t, "translator", func(f *testutil.FakeAgent) {
//	    f.Card.Skills = []a2a.AgentSkill{{ID: "tr", Name: "translate", Tags: []string{"translation"}}}
//	    f.FinalState = a2a.TaskStateFailed
//	    f.Reason = "rate limited"
//	})
type FakeAgent struct {
	// Card is the public card. Its URL is set to the RPC endpoint.
	Card a2a.AgentCard
	// ExtendedCard is served at /agent-card when the bearer token matches Token.
	ExtendedCard *a2a.AgentCard
	Token        string
	// CardStatus, when non-zero, is returned for the public card instead of it.
	CardStatus int
	// FinalState is the terminal state reported for delegated work.
	FinalState a2a.TaskState
	Reason     string
	ResultText string
	// WorkingPolls is how many tasks/get calls report working before FinalState.
	WorkingPolls int
	// Hang blocks message/send (and message/stream after its first event)
	// until the client goes away.
	Hang bool
	// ReplyWithMessage answers message/send with a Message instead of a Task.
	ReplyWithMessage bool
	// StreamEvents, when set, replaces the generated message/stream events.
	StreamEvents []a2a.Event

	mu       sync.Mutex
	requests []Recorded
	polls    int
	server   *httptest.Server
}

// NewFakeAgent starts a FakeAgent; it is closed when the test ends.
func NewFakeAgent(t testing.TB, name string, optFns ...func(f *FakeAgent)) *FakeAgent {
	t.Helper()
	f := &FakeAgent{
		Card: a2a.AgentCard{
			Name:               name,
			Description:        name + " test agent",
			Version:            "1.0.0",
			ProtocolVersion:    "0.3.0",
			PreferredTransport: a2a.TransportProtocolJSONRPC,
			DefaultInputModes:  []string{"text/plain"},
			DefaultOutputModes: []string{"text/plain"},
		},
		FinalState: a2a.TaskStateCompleted,
		ResultText: name + " done",
	}
	for _, fn := range optFns {
		fn(f)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	f.Card.URL = f.server.URL + RPCPath
	if f.ExtendedCard != nil {
		f.Card.SupportsAuthenticatedExtendedCard = true
		f.ExtendedCard.URL = f.Card.URL
	}
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of the agent.
func (f *FakeAgent) URL() string { return f.server.URL }

// TaskID is the remote task id the agent assigns.
func (f *FakeAgent) TaskID() a2a.TaskID { return a2a.TaskID("remote-" + f.Card.Name) }

// Requests returns a copy of all recorded requests.
func (f *FakeAgent) Requests() []Recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Recorded(nil), f.requests...)
}

// Calls counts recorded JSON-RPC calls of the given method.
func (f *FakeAgent) Calls(method string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

// PathHits counts requests for a path.
func (f *FakeAgent) PathHits(path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (f *FakeAgent) record(r Recorded) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

func (f *FakeAgent) handle(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == a2autil.AgentCardPath:
		f.record(Recorded{Path: r.URL.Path, Authorization: auth})
		if f.CardStatus != 0 {
			http.Error(w, "card unavailable", f.CardStatus)
			return
		}
		writeJSON(w, f.Card)
	case r.Method == http.MethodGet && r.URL.Path == a2autil.ExtendedAgentCardPath:
		f.record(Recorded{Path: r.URL.Path, Authorization: auth})
		if f.ExtendedCard == nil {
			http.NotFound(w, r)
			return
		}
		if auth != "Bearer "+f.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, f.ExtendedCard)
	case r.Method == http.MethodPost && r.URL.Path == RPCPath:
		f.handleRPC(w, r, auth)
	default:
		http.NotFound(w, r)
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (f *FakeAgent) handleRPC(w http.ResponseWriter, r *http.Request, auth string) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.record(Recorded{Path: r.URL.Path, Method: req.Method, Authorization: auth, Params: req.Params})

	switch req.Method {
	case a2autil.MethodSendMessage:
		msg := DecodeMessage(req.Params)
		if f.Hang {
			<-r.Context().Done()
			return
		}
		if f.ReplyWithMessage {
			reply := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: f.ResultText})
			reply.ContextID = msg.ContextID
			writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: reply})
			return
		}
		state := f.FinalState
		if f.WorkingPolls > 0 {
			state = a2a.TaskStateSubmitted
		}
		writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: f.task(msg.ContextID, state)})
	case a2autil.MethodGetTask:
		f.mu.Lock()
		f.polls++
		polls := f.polls
		f.mu.Unlock()
		state := f.FinalState
		if polls <= f.WorkingPolls {
			state = a2a.TaskStateWorking
		}
		writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: f.task("", state)})
	case a2autil.MethodCancelTask:
		writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: f.task("", a2a.TaskStateCanceled)})
	case a2autil.MethodStreamMessage:
		f.stream(w, r, req.ID, DecodeMessage(req.Params))
	default:
		writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}})
	}
}

func (f *FakeAgent) stream(w http.ResponseWriter, r *http.Request, id json.RawMessage, msg *a2a.Message) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	send := func(ev a2a.Event) {
		resp, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: ev})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", resp)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if f.StreamEvents != nil {
		for _, ev := range f.StreamEvents {
			send(ev)
		}
		return
	}

	taskID := f.TaskID()
	send(&a2a.TaskStatusUpdateEvent{TaskID: taskID, ContextID: msg.ContextID, Status: status(a2a.TaskStateWorking, "")})
	if f.Hang {
		<-r.Context().Done()
		return
	}
	if f.FinalState == a2a.TaskStateCompleted {
		for _, chunk := range strings.SplitAfter(f.ResultText, " ") {
			send(&a2a.TaskArtifactUpdateEvent{
				TaskID:    taskID,
				ContextID: msg.ContextID,
				Artifact:  &a2a.Artifact{ID: "out", Parts: a2a.ContentParts{a2a.TextPart{Text: chunk}}},
				Append:    true,
			})
		}
	}
	send(&a2a.TaskStatusUpdateEvent{TaskID: taskID, ContextID: msg.ContextID, Status: status(f.FinalState, f.Reason), Final: true})
}

func (f *FakeAgent) task(contextID string, state a2a.TaskState) *a2a.Task {
	reason := ""
	if state == a2a.TaskStateFailed || state == a2a.TaskStateRejected {
		reason = f.Reason
	}
	t := &a2a.Task{ID: f.TaskID(), ContextID: contextID, Status: status(state, reason)}
	if state == a2a.TaskStateCompleted {
		t.Artifacts = []*a2a.Artifact{{ID: "out", Parts: a2a.ContentParts{a2a.TextPart{Text: f.ResultText}}}}
	}
	return t
}

func status(state a2a.TaskState, reason string) a2a.TaskStatus {
	now := time.Now().UTC()
	st := a2a.TaskStatus{State: state, Timestamp: &now}
	if reason != "" {
		st.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: reason})
	}
	return st
}

// DecodeMessage extracts the message from message/send or message/stream
// params. It never returns nil.
func DecodeMessage(params json.RawMessage) *a2a.Message {
	var p a2a.MessageSendParams
	if err := json.Unmarshal(params, &p); err != nil || p.Message == nil {
		return &a2a.Message{}
	}
	return p.Message
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
