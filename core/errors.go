package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a task status change would break
	// the pending→in_progress→{completed|failed} order.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrUnroutable marks a routing target that is neither a registered
	// worker, a known external agent nor Terminal. It aborts the run.
	ErrUnroutable = errors.New("unroutable target")

	// ErrUnknownExternalAgent is the reason recorded on tasks routed to an
	// agent that discovery never registered.
	ErrUnknownExternalAgent = errors.New("unknown external agent")

	// ErrAgentUnavailable is the reason recorded on tasks routed to an agent
	// whose discovery failed.
	ErrAgentUnavailable = errors.New("external agent unavailable")
)

// DiscoveryError is recorded per descriptor when its cards cannot be fetched
// or parsed. It never aborts discovery of other agents.
type DiscoveryError struct {
	Agent string
	URL   string
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover agent %s at %s: %v", e.Agent, e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// RoutingError reports a hint that could not be resolved for a task. It fails
// the task, not the run.
type RoutingError struct {
	Target RouteTarget
	TaskID string
	Err    error
}

func (e *RoutingError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("route %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("route %s for task %s: %v", e.Target, e.TaskID, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// ValidationError reports that produced output did not pass validation. It is
// recoverable within the retry budget.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for task %s: %s", e.TaskID, e.Reason)
}

// DelegationError covers a remote failed state, a timeout or a transport
// failure while delegating. It is recoverable like ValidationError.
type DelegationError struct {
	Agent  string
	TaskID string
	Reason string
	Err    error
}

func (e *DelegationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delegate task %s to %s: %s: %v", e.TaskID, e.Agent, e.Reason, e.Err)
	}
	return fmt.Sprintf("delegate task %s to %s: %s", e.TaskID, e.Agent, e.Reason)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// ExhaustedRetryError is the terminal result of a task whose retry budget ran out.
type ExhaustedRetryError struct {
	TaskID     string
	Attempts   int
	LastReason string
}

func (e *ExhaustedRetryError) Error() string {
	return fmt.Sprintf("task %s exhausted %d retries: %s", e.TaskID, e.Attempts, e.LastReason)
}

// IsRecoverable reports whether err should feed the retry machine rather than
// fail a task outright.
func IsRecoverable(err error) bool {
	var verr *ValidationError
	var derr *DelegationError
	return errors.As(err, &verr) || errors.As(err, &derr)
}

// IsExhausted reports whether err is an ExhaustedRetryError.
func IsExhausted(err error) bool {
	var e *ExhaustedRetryError
	return errors.As(err, &e)
}
