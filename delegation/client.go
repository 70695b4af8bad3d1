// Package delegation hands tasks to discovered external agents and maps
// their remote lifecycle onto local task status.
package delegation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/google/uuid"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/a2autil"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
	"github.com/hupe1980/codemesh/registry"
)

// Result is the outcome of one delegation. Status is already mapped onto the
// local lifecycle; Err is a *core.DelegationError whenever Status is failed.
type Result struct {
	Status        core.TaskStatus
	RemoteState   a2a.TaskState
	Text          string
	CorrelationID string
	RemoteTaskID  string
	Err           error
}

// Options configures a Client.
type Options struct {
	// HTTPClient carries the JSON-RPC calls. Entry auth tokens are added as
	// bearer headers on top of it.
	HTTPClient *http.Client
	// Timeout bounds one delegation including polling.
	Timeout time.Duration
	// PollInterval spaces tasks/get calls for non-terminal single-shot replies.
	PollInterval time.Duration
	// CancelTimeout bounds the tasks/cancel call sent on abandonment.
	CancelTimeout time.Duration
	Logger        *logging.StructuredLogger
	Metrics       *metrics.Metrics
}

// Client delegates tasks over the agent-to-agent protocol.
type Client struct {
	httpClient    *http.Client
	timeout       time.Duration
	pollInterval  time.Duration
	cancelTimeout time.Duration
	logger        *logging.StructuredLogger
	metrics       *metrics.Metrics
}

// NewClient creates a Client.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		Timeout:       120 * time.Second,
		PollInterval:  time.Second,
		CancelTimeout: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Client{
		httpClient:    opts.HTTPClient,
		timeout:       opts.Timeout,
		pollInterval:  opts.PollInterval,
		cancelTimeout: opts.CancelTimeout,
		logger:        opts.Logger.WithComponent("delegation"),
		metrics:       opts.Metrics,
	}
}

// MapState maps a remote state onto the local lifecycle.
func MapState(s a2a.TaskState) core.TaskStatus {
	switch s {
	case a2a.TaskStateSubmitted:
		return core.TaskPending
	case a2a.TaskStateWorking:
		return core.TaskInProgress
	case a2a.TaskStateCompleted:
		return core.TaskCompleted
	default:
		return core.TaskFailed
	}
}

// Delegate sends the task content to the agent. It never returns transport
// errors directly; they are folded into a failed Result.
func (c *Client) Delegate(ctx context.Context, task *core.Task, entry registry.Entry) Result {
	return c.DelegateMessage(ctx, task, entry, task.Content)
}

// DelegateMessage is Delegate with an explicit message text. Streaming is used
// when the entry advertises it.
func (c *Client) DelegateMessage(ctx context.Context, task *core.Task, entry registry.Entry, text string) Result {
	start := time.Now()
	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	dctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var res Result
	remote, err := c.connect(dctx, entry)
	if err != nil {
		res = abandoned(ctx, dctx, err)
	} else {
		defer func() { _ = remote.Destroy() }()

		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
		msg.ContextID = correlationID
		params := &a2a.MessageSendParams{Message: msg}

		if entry.Streaming {
			res = c.stream(ctx, dctx, remote, params)
		} else {
			res = c.send(ctx, dctx, remote, params)
		}
	}
	res.CorrelationID = correlationID

	if res.Status == core.TaskFailed {
		var derr *core.DelegationError
		if !errors.As(res.Err, &derr) {
			res.Err = &core.DelegationError{Agent: entry.Name, TaskID: task.ID, Reason: res.Text, Err: res.Err}
		}
	}

	c.logger.LogDelegation(entry.Name, task.ID, string(res.Status), time.Since(start), res.Err)
	c.metrics.ObserveDelegation(entry.Name, string(res.Status))
	return res
}

func (c *Client) connect(ctx context.Context, entry registry.Entry) (*a2aclient.Client, error) {
	card := entry.ExtendedCard
	if card == nil {
		card = entry.PublicCard
	}
	endpoint := entry.Endpoint
	if endpoint == "" {
		endpoint = entry.BaseURL
	}
	return a2autil.NewClient(ctx, card, endpoint, c.httpClient, entry.AuthToken)
}

func (c *Client) send(parent, ctx context.Context, remote *a2aclient.Client, params *a2a.MessageSendParams) Result {
	resp, err := remote.SendMessage(ctx, params)
	if err != nil {
		// No remote task id exists yet, so there is nothing to cancel.
		return abandoned(parent, ctx, err)
	}

	switch v := resp.(type) {
	case *a2a.Message:
		return Result{Status: core.TaskCompleted, RemoteState: a2a.TaskStateCompleted, Text: a2autil.MessageText(v)}
	case *a2a.Task:
		task := v
		if !a2autil.Terminal(task.Status.State) {
			polled, err := c.poll(ctx, remote, task.ID)
			if err != nil {
				c.cancelRemote(parent, remote, task.ID)
				res := abandoned(parent, ctx, err)
				res.RemoteTaskID = string(task.ID)
				return res
			}
			task = polled
		}
		return fromTask(task)
	default:
		return Result{Status: core.TaskFailed, Text: "unexpected response to message/send"}
	}
}

func (c *Client) poll(ctx context.Context, remote *a2aclient.Client, taskID a2a.TaskID) (*a2a.Task, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		task, err := remote.GetTask(ctx, &a2a.TaskQueryParams{ID: taskID})
		if err != nil {
			return nil, err
		}
		if a2autil.Terminal(task.Status.State) {
			return task, nil
		}
	}
}

// stream consumes message/stream events until the remote task settles. Only
// a final status update or a terminal task snapshot settles it; a message
// settles it only when no remote task exists. Text from messages and
// artifact chunks accumulates across events.
func (c *Client) stream(parent, ctx context.Context, remote *a2aclient.Client, params *a2a.MessageSendParams) Result {
	var (
		text      strings.Builder
		taskID    a2a.TaskID
		settled   *Result
		streamErr error
	)

	for ev, err := range remote.SendStreamingMessage(ctx, params) {
		if err != nil {
			streamErr = err
			break
		}
		switch v := ev.(type) {
		case *a2a.Message:
			text.WriteString(a2autil.MessageText(v))
			if v.TaskID != "" {
				taskID = v.TaskID
			} else if taskID == "" {
				settled = &Result{Status: core.TaskCompleted, RemoteState: a2a.TaskStateCompleted}
			}
		case *a2a.TaskArtifactUpdateEvent:
			taskID = v.TaskID
			if v.Artifact != nil {
				text.WriteString(a2autil.PartsText(v.Artifact.Parts))
			}
		case *a2a.TaskStatusUpdateEvent:
			taskID = v.TaskID
			if v.Final || a2autil.Terminal(v.Status.State) {
				r := fromStatus(v.Status, text.String())
				settled = &r
			}
		case *a2a.Task:
			taskID = v.ID
			if a2autil.Terminal(v.Status.State) {
				r := fromTask(v)
				settled = &r
			}
		}
		if settled != nil {
			break
		}
	}

	if settled != nil {
		res := *settled
		if res.Text == "" {
			res.Text = text.String()
		}
		res.RemoteTaskID = string(taskID)
		return res
	}

	if streamErr == nil {
		streamErr = errors.New("stream ended without a final status")
	}
	c.cancelRemote(parent, remote, taskID)
	res := abandoned(parent, ctx, streamErr)
	res.RemoteTaskID = string(taskID)
	return res
}

// cancelRemote sends tasks/cancel on a context detached from the abandoned
// delegation so it still goes out after the run was canceled.
func (c *Client) cancelRemote(parent context.Context, remote *a2aclient.Client, taskID a2a.TaskID) {
	if taskID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cancelTimeout)
	defer cancel()
	if _, err := remote.CancelTask(ctx, &a2a.TaskIDParams{ID: taskID}); err != nil {
		c.logger.Warn("Cancel of remote task failed", "remote_task_id", taskID, "error", err)
		return
	}
	c.logger.Info("Remote task canceled", "remote_task_id", taskID)
}

func fromTask(t *a2a.Task) Result {
	res := fromStatus(t.Status, a2autil.TaskText(t))
	res.RemoteTaskID = string(t.ID)
	return res
}

func fromStatus(st a2a.TaskStatus, text string) Result {
	status := MapState(st.State)
	res := Result{Status: status, RemoteState: st.State, Text: text}
	if status == core.TaskFailed {
		res.Text = a2autil.MessageText(st.Message)
		if res.Text == "" {
			res.Text = "remote task " + string(st.State)
		}
	}
	return res
}

func abandoned(parent, ctx context.Context, err error) Result {
	reason := "transport error"
	switch {
	case parent.Err() != nil:
		reason = "canceled"
		err = parent.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = "timeout"
		err = ctx.Err()
	}
	return Result{Status: core.TaskFailed, Text: reason, Err: err}
}
