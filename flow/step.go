package flow

import "context"

// Step is a named unit of work in the workflow graph. It receives a read-only
// view of session state plus the RunConfig carrying injected collaborator
// handles, and returns a partial update, an interrupt request, or an error.
//
// Steps are pure with respect to the graph: they never mutate state or
// topology directly. Side effects (model calls, record fetches) happen inside
// the step and are invisible to the engine. A step that pauses via Ask
// re-runs from its beginning on resume, so any side effect preceding the Ask
// call must be guarded by its own skip logic, typically by checking whether
// the output field it populates is already set.
type Step interface {
	Run(ctx context.Context, state State, cfg RunConfig) StepResult
}

// StepFunc adapts a plain function to the Step interface.
type StepFunc func(ctx context.Context, state State, cfg RunConfig) StepResult

// Run implements Step.
func (f StepFunc) Run(ctx context.Context, state State, cfg RunConfig) StepResult {
	return f(ctx, state, cfg)
}

// StepResult is the output of one step execution. Exactly one of the three
// outcomes applies:
//   - Delta set (Interrupt and Err nil): the update is merged into state and
//     traversal continues.
//   - Interrupt set: the engine persists a checkpoint and pauses. Delta is
//     discarded; a pausing step has not completed, and it will re-run from
//     its beginning on resume.
//   - Err set: the engine records an ErrorEntry, tags the session PhaseError,
//     and completes the run with StatusErrored.
type StepResult struct {
	Delta     Delta
	Interrupt *InterruptSignal
	Err       error
}

// InterruptSignal is a pause request produced by Ask. It is ordinary data
// returned through StepResult rather than a panic or sentinel error, so step
// functions remain trivially unit-testable without a running engine.
type InterruptSignal struct {
	// Type identifies which human decision this pause awaits
	// (e.g. "paperEvidenceSelection", "arcApproval").
	Type string

	// Payload is shown to the human making the decision. It is persisted
	// with the checkpoint, so it must be JSON-serializable.
	Payload any
}

// Pause returns a StepResult carrying the given interrupt signal. Steps use
// it with the second return of Ask:
//
//	selected, sig := flow.Ask(cfg, "evidenceSelection", candidates, prior)
//	if sig != nil {
//		return flow.Pause(sig)
//	}
func Pause(sig *InterruptSignal) StepResult {
	return StepResult{Interrupt: sig}
}

// Update returns a StepResult carrying a partial state update.
func Update(delta Delta) StepResult {
	return StepResult{Delta: delta}
}

// Fail returns a StepResult carrying a step error.
func Fail(err error) StepResult {
	return StepResult{Err: err}
}

// RunConfig carries per-run dependency-injected collaborator handles into
// every step invocation. Steps receive their clients (generation model, data
// fetcher) through Deps rather than reaching for globals, so they are
// testable by substitution.
type RunConfig struct {
	// SessionID identifies the session this invocation belongs to.
	SessionID string

	// Deps holds caller-supplied collaborator handles. Pipelines define
	// their own dependency struct and type-assert it inside steps.
	Deps any

	// resume holds a pending resume value delivered by Engine.Resume. It
	// is consumed by the first matching Ask in the re-run pending step.
	resume *resumeEnvelope
}

// resumeEnvelope carries a caller-supplied resume value to the pending step.
type resumeEnvelope struct {
	kind     string
	value    any
	consumed bool
}

// Ask is the checkpoint surface for step authors. It resolves, in order:
//
//  1. If skip is non-nil the field governing this checkpoint is already
//     satisfied (for example replaying a graph after a resume), and Ask
//     returns skip immediately without pausing. This is what makes resume
//     idempotent: re-traversal never re-pauses at answered checkpoints.
//  2. If the engine is re-running this step with a resume value of the same
//     interrupt type, Ask consumes and returns it.
//  3. Otherwise Ask returns an InterruptSignal; the step must return it via
//     Pause, which halts the engine and persists a checkpoint keyed to this
//     step.
func Ask(cfg RunConfig, interruptType string, payload, skip any) (any, *InterruptSignal) {
	if skip != nil {
		return skip, nil
	}
	if env := cfg.resume; env != nil && !env.consumed && env.kind == interruptType {
		env.consumed = true
		return env.value, nil
	}
	return nil, &InterruptSignal{Type: interruptType, Payload: payload}
}

// PendingInterrupt describes the pause a Paused run is waiting on. Callers
// render Payload to a human (for example through an HTTP approval surface)
// without needing to know the graph's internals, then answer with
// Engine.Resume.
type PendingInterrupt struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
