package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/codemesh/core"
)

// CallbackType identifies the run lifecycle point a callback is attached to.
type CallbackType string

const (
	// CallbackBeforeRun fires once before the first dispatch.
	CallbackBeforeRun CallbackType = "before_run"
	// CallbackAfterTurn fires for every new entry of the turn log.
	CallbackAfterTurn CallbackType = "after_turn"
	// CallbackAfterRun fires once with the final state.
	CallbackAfterRun CallbackType = "after_run"
	// CallbackOnError fires when a run stops with an error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the data passed to callbacks. State is a snapshot;
// mutating it has no effect on the run.
type CallbackContext struct {
	RunID        string
	CallbackType CallbackType
	State        *core.WorkflowState
	Turn         *core.Turn
	Err          error
}

// Callback is invoked at a lifecycle point of a run.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback from a function.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks per type. Safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks of a type in registration order and
// stops at the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback writes a one-line description of each event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a LoggingCallback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	switch {
	case callbackCtx.Turn != nil:
		c.logger(fmt.Sprintf("[%s] run=%s #%d %s: %s", c.callbackType, callbackCtx.RunID,
			callbackCtx.Turn.Seq, callbackCtx.Turn.Actor, callbackCtx.Turn.Message))
	case callbackCtx.Err != nil:
		c.logger(fmt.Sprintf("[%s] run=%s error=%v", c.callbackType, callbackCtx.RunID, callbackCtx.Err))
	default:
		c.logger(fmt.Sprintf("[%s] run=%s", c.callbackType, callbackCtx.RunID))
	}
	return nil
}
