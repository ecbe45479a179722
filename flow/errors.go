package flow

import (
	"errors"
	"fmt"
	"time"
)

// Three failure tiers exist. Structural errors (GraphError) surface at
// Compile time and never at run time. Client bugs around resumption
// (StaleResumeError) are raised synchronously from Resume. Every condition
// reachable during graph traversal (a failing step, a timed-out step, an
// exhausted step budget, a router returning an undeclared label) becomes a
// normal RunResult with StatusErrored plus an ErrorEntry in the errors field,
// so orchestrating callers never need exception-style control flow across the
// run boundary.

// ErrStepBudgetExceeded indicates the session's step counter passed the
// configured budget. This signals a routing or reducer defect creating a
// cycle, not a data problem.
var ErrStepBudgetExceeded = errors.New("execution exceeded step budget")

// ErrNoRoute indicates a step completed with no outgoing edge, conditional
// route, or terminal marker. Compile validation prevents this for graphs
// built through the Builder.
var ErrNoRoute = errors.New("no route from step")

// ErrUnknownLabel indicates a router returned a label with no declared
// target.
var ErrUnknownLabel = errors.New("router returned undeclared label")

// ErrNoCheckpoint indicates Resume was called for a session with no stored
// checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint for session")

// ErrStepTimeout marks a step failure caused by the per-step timeout. It is
// wrapped into the recorded failure so callers can distinguish timeouts from
// collaborator errors with errors.Is.
var ErrStepTimeout = errors.New("step timed out")

// GraphError reports a structural defect detected while building or
// compiling a graph: an unregistered step reference, a conditional label
// without a target, or no reachable terminal from the start step. These are
// programmer errors and fatal to process startup.
type GraphError struct {
	Message string
	Code    string
}

func (e *GraphError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StaleResumeError reports a Resume whose interrupt type does not match the
// persisted checkpoint's. This indicates a client bug, typically resuming the
// wrong session or phase.
type StaleResumeError struct {
	SessionID string
	Want      string
	Got       string
}

func (e *StaleResumeError) Error() string {
	return fmt.Sprintf("stale resume for session %s: checkpoint awaits %q, caller supplied %q",
		e.SessionID, e.Want, e.Got)
}

// ErrorEntry is appended to the errors field when a step fails during
// traversal. The session's phase is simultaneously set to PhaseError and the
// run returns StatusErrored; callers inspect the errors field rather than a
// returned Go error.
type ErrorEntry struct {
	Phase     string    `json:"phase"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error entry types recorded by the engine.
const (
	errTypeStep       = "step_failure"
	errTypeTimeout    = "step_timeout"
	errTypeBudget     = "step_budget_exceeded"
	errTypeRouting    = "routing_failure"
	errTypeCheckpoint = "checkpoint_failure"
)
