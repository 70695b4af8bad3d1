package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/util"
	"github.com/hupe1980/codemesh/model"
)

// Validator checks the current output of a task. It returns a
// *core.ValidationError when the output is rejected; any other error is an
// infrastructure fault and is recorded as a failed attempt as well.
type Validator interface {
	Validate(ctx context.Context, s *core.WorkflowState, t *core.Task) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, s *core.WorkflowState, t *core.Task) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, s *core.WorkflowState, t *core.Task) error {
	return f(ctx, s, t)
}

const reviewInstruction = `You are a strict code reviewer. Decide whether the output fulfills the task.
Answer with exactly one line: "PASS" or "FAIL: <reason>".`

const reviewPromptTemplate = `Task: {{.task}}

Output:
{{.output}}`

// ModelValidator asks the reasoning engine to review output.
type ModelValidator struct {
	llm     model.Model
	timeout time.Duration
}

// NewModelValidator creates a ModelValidator; timeout <= 0 uses
// DefaultReasoningTimeout.
func NewModelValidator(llm model.Model, timeout time.Duration) *ModelValidator {
	if timeout <= 0 {
		timeout = DefaultReasoningTimeout
	}
	return &ModelValidator{llm: llm, timeout: timeout}
}

// Validate implements Validator.
func (v *ModelValidator) Validate(ctx context.Context, _ *core.WorkflowState, t *core.Task) error {
	prompt, err := util.RenderTemplate(reviewPromptTemplate, map[string]any{"task": t.Content, "output": t.Result})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	out, err := model.Complete(ctx, v.llm, model.Request{
		Instructions: reviewInstruction,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return fmt.Errorf("review task %s: %w", t.ID, err)
	}
	return ParseVerdict(t.ID, out)
}

// ParseVerdict interprets a reviewer answer. Anything not starting with FAIL
// passes.
func ParseVerdict(taskID, answer string) error {
	line := strings.TrimSpace(answer)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if !strings.HasPrefix(strings.ToUpper(line), "FAIL") {
		return nil
	}
	reason := strings.TrimSpace(strings.TrimLeft(line[len("FAIL"):], ":- "))
	if reason == "" {
		reason = "rejected by reviewer"
	}
	return &core.ValidationError{TaskID: taskID, Reason: reason}
}

// CommandValidatorOptions configures a CommandValidator.
type CommandValidatorOptions struct {
	Dir     string
	Timeout time.Duration
	// MaxOutput caps the command output kept as failure reason (tail).
	MaxOutput int
	Env       []string
}

// CommandValidator runs a shell command (e.g. "go test ./...") and rejects
// the output when it exits non-zero. The task id is exported as
// CODEMESH_TASK_ID.
type CommandValidator struct {
	name string
	args []string
	opts CommandValidatorOptions
}

// NewCommandValidator creates a CommandValidator for name and args.
func NewCommandValidator(name string, args []string, optFns ...func(o *CommandValidatorOptions)) *CommandValidator {
	opts := CommandValidatorOptions{
		Timeout:   5 * time.Minute,
		MaxOutput: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &CommandValidator{name: name, args: args, opts: opts}
}

// Validate implements Validator.
func (v *CommandValidator) Validate(ctx context.Context, _ *core.WorkflowState, t *core.Task) error {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.name, v.args...)
	cmd.Dir = v.opts.Dir
	cmd.Env = append(append(os.Environ(), v.opts.Env...), "CODEMESH_TASK_ID="+t.ID)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("run %s: %w", v.name, err)
	}

	reason := strings.TrimSpace(out.String())
	if n := v.opts.MaxOutput; n > 0 && len(reason) > n {
		reason = reason[len(reason)-n:]
	}
	if reason == "" {
		reason = exitErr.Error()
	}
	return &core.ValidationError{TaskID: t.ID, Reason: reason}
}
