// Package emit provides pluggable observability for flow session execution.
package emit

// Event is one observability record emitted during session traversal:
// step start/end, interrupts, resumes, revisions, and run completion.
type Event struct {
	// SessionID identifies the session that emitted this event.
	SessionID string

	// Step is the sequential step number within the session (1-indexed).
	// Zero for session-level events.
	Step int

	// StepName identifies which graph step emitted this event. Empty for
	// session-level events.
	StepName string

	// Msg is the event kind, e.g. "step_start", "interrupt", "resume".
	Msg string

	// Meta carries additional structured data. Common keys: "duration_ms",
	// "error", "interrupt_type", "label", "phase".
	Meta map[string]any
}

// Emitter receives events from workflow execution.
//
// Implementations must be safe for concurrent use (independent sessions emit
// concurrently), must not block traversal, and must not panic; backend
// failures are swallowed or logged internally, never surfaced to the engine.
type Emitter interface {
	Emit(event Event)
}
