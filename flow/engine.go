package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyline-labs/flowkit/flow/emit"
	"github.com/storyline-labs/flowkit/flow/store"
)

// Status reports how a run ended.
type Status string

const (
	// StatusCompleted means traversal reached the terminal marker.
	StatusCompleted Status = "completed"

	// StatusPaused means a step requested an interrupt; a checkpoint was
	// persisted and the session awaits Resume.
	StatusPaused Status = "paused"

	// StatusErrored means a run-time failure was recorded in the errors
	// field and the session phase was set to PhaseError. The Run or
	// Resume call itself still returns a nil Go error; inspect
	// RunResult.State's errors field to learn what failed.
	StatusErrored Status = "errored"
)

// RunResult is the outcome of one Run or Resume call.
type RunResult struct {
	// SessionID identifies the session, including one generated by Run
	// when the caller passed an empty id.
	SessionID string

	// Status reports how traversal ended.
	Status Status

	// State is the resulting session state.
	State State

	// PendingInterrupt is set only while Status is StatusPaused. It
	// carries what a caller needs to render an approval surface.
	PendingInterrupt *PendingInterrupt
}

// Options configures engine execution behavior. Zero values get defaults.
type Options struct {
	// StepBudget caps the number of steps one session may execute across
	// all of its Run and Resume calls, guarding against router or reducer
	// defects creating infinite cycles. Revision loops over a multi-phase
	// pipeline legitimately take 25+ steps, so the default of 75 leaves
	// margin over the longest valid path. Zero selects the default;
	// negative disables the guard.
	StepBudget int

	// StepTimeout bounds each step invocation. Zero disables the bound.
	// A timed-out step follows the same failure path as a returned error.
	StepTimeout time.Duration

	// Deps holds the collaborator handles injected into every step's
	// RunConfig (generation-model client, data-fetch client, ...).
	Deps any

	// Metrics enables Prometheus collection when non-nil.
	Metrics *Metrics
}

// DefaultStepBudget is the step cap applied when Options.StepBudget is zero.
const DefaultStepBudget = 75

// Engine drives compiled graphs over checkpointed session state.
//
// One Engine value serves any number of sessions concurrently: the graph and
// schema are immutable after construction, the checkpoint store partitions by
// session id, and all traversal bookkeeping lives on the call stack. Within a
// single session execution is strictly sequential: a step never starts
// before the previous step's update has been folded into state, so routers
// always observe fully-applied updates.
type Engine struct {
	graph   *Graph
	schema  *Schema
	store   store.Store
	emitter emit.Emitter
	opts    Options
}

// New creates an Engine. The emitter may be nil to disable events.
func New(graph *Graph, schema *Schema, st store.Store, emitter emit.Emitter, opts Options) *Engine {
	if opts.StepBudget == 0 {
		opts.StepBudget = DefaultStepBudget
	}
	return &Engine{
		graph:   graph,
		schema:  schema,
		store:   st,
		emitter: emitter,
		opts:    opts,
	}
}

// Run executes a session. For a fresh session (no stored checkpoint) the
// initial delta is applied over schema defaults and traversal starts at the
// graph's start step. For a session with a stored checkpoint, traversal
// continues from the pending step against the snapshot, without a resume
// value, so an unanswered interrupt simply pauses again.
//
// An empty sessionID gets a generated UUID, returned in the result.
//
// Only configuration and store-access failures return a Go error; every
// condition arising during traversal is reported through RunResult.
func (e *Engine) Run(ctx context.Context, sessionID string, initial Delta) (RunResult, error) {
	if err := e.validate(); err != nil {
		return RunResult{}, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cp, err := e.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state := e.schema.Apply(e.schema.Materialize(State{}), initial)
		e.emit(emit.Event{SessionID: sessionID, Msg: "run_start", StepName: e.graph.Start()})
		return e.loop(ctx, sessionID, state, e.graph.Start(), nil)
	case err != nil:
		return RunResult{}, fmt.Errorf("failed to load checkpoint for session %s: %w", sessionID, err)
	default:
		state := e.schema.Materialize(cp.State)
		e.emit(emit.Event{SessionID: sessionID, Msg: "run_continue", StepName: cp.PendingStep})
		return e.loop(ctx, sessionID, state, cp.PendingStep, nil)
	}
}

// Resume answers a paused session's pending interrupt and continues
// traversal at the pending step. The supplied interruptType must match the
// stored checkpoint's; a mismatch raises *StaleResumeError synchronously,
// since it indicates the caller is answering the wrong session or phase.
//
// The pending step re-runs from its beginning with the resume value
// available to its Ask call, which is what makes resumption idempotent:
// replaying with the same stored checkpoint and the same value produces an
// identical resulting state.
func (e *Engine) Resume(ctx context.Context, sessionID, interruptType string, value any) (RunResult, error) {
	if err := e.validate(); err != nil {
		return RunResult{}, err
	}

	cp, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return RunResult{}, fmt.Errorf("session %s: %w", sessionID, ErrNoCheckpoint)
	}
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load checkpoint for session %s: %w", sessionID, err)
	}
	if cp.InterruptType != interruptType {
		return RunResult{}, &StaleResumeError{SessionID: sessionID, Want: cp.InterruptType, Got: interruptType}
	}

	state := e.schema.Apply(e.schema.Materialize(cp.State), Delta{
		FieldAwaitingApproval: false,
		FieldApprovalType:     nil,
	})
	e.emit(emit.Event{
		SessionID: sessionID,
		StepName:  cp.PendingStep,
		Msg:       "resume",
		Meta:      map[string]any{"interrupt_type": interruptType},
	})
	return e.loop(ctx, sessionID, state, cp.PendingStep, &resumeEnvelope{kind: interruptType, value: value})
}

func (e *Engine) validate() error {
	if e.graph == nil {
		return &GraphError{Message: "graph is required", Code: "MISSING_GRAPH"}
	}
	if e.schema == nil {
		return &GraphError{Message: "schema is required", Code: "MISSING_SCHEMA"}
	}
	if e.store == nil {
		return &GraphError{Message: "checkpoint store is required", Code: "MISSING_STORE"}
	}
	return nil
}

// loop is the traversal tick loop shared by Run and Resume. env carries a
// resume value for the first executed step only.
func (e *Engine) loop(ctx context.Context, sessionID string, state State, current string, env *resumeEnvelope) (RunResult, error) {
	e.opts.Metrics.sessionStarted()
	defer e.opts.Metrics.sessionFinished()

	steps := state.Int(FieldStepCount)
	for {
		if current == End {
			return e.complete(ctx, sessionID, state)
		}

		steps++
		if e.opts.StepBudget > 0 && steps > e.opts.StepBudget {
			state = e.recordFailure(sessionID, state, errTypeBudget,
				fmt.Sprintf("%v (budget %d)", ErrStepBudgetExceeded, e.opts.StepBudget))
			return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
		}

		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		default:
		}

		step, ok := e.graph.step(current)
		if !ok {
			// Compile guarantees registration; reaching here means the
			// checkpoint references a step the current graph no longer has.
			state = e.recordFailure(sessionID, state, errTypeRouting,
				"checkpoint references unknown step: "+current)
			return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
		}

		view, err := cloneState(state)
		if err != nil {
			state = e.recordFailure(sessionID, state, errTypeStep, err.Error())
			return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
		}

		cfg := RunConfig{SessionID: sessionID, Deps: e.opts.Deps, resume: env}
		env = nil

		e.emit(emit.Event{SessionID: sessionID, Step: steps, StepName: current, Msg: "step_start"})
		started := time.Now()
		result := executeStep(ctx, step, current, view, cfg, e.opts.StepTimeout)
		elapsed := time.Since(started)

		if result.Err != nil {
			errType := errTypeStep
			if errors.Is(result.Err, ErrStepTimeout) {
				errType = errTypeTimeout
			}
			e.opts.Metrics.observeStep(current, "error", elapsed)
			state = e.recordFailure(sessionID, state, errType, result.Err.Error())
			return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
		}

		if result.Interrupt != nil {
			return e.pause(ctx, sessionID, state, current, steps, result.Interrupt)
		}

		state = e.schema.Apply(state, result.Delta)
		e.opts.Metrics.observeStep(current, "success", elapsed)
		e.emit(emit.Event{
			SessionID: sessionID,
			Step:      steps,
			StepName:  current,
			Msg:       "step_end",
			Meta:      map[string]any{"duration_ms": elapsed.Milliseconds()},
		})

		next, nextState, failure := e.route(ctx, sessionID, current, state, &steps)
		if failure != "" {
			state = e.recordFailure(sessionID, nextState, errTypeRouting, failure)
			return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
		}
		state = nextState
		current = next
	}
}

// route determines the next step after current. It returns the next step
// name (possibly End), the state (updated when a parallel fan-out ran), and
// a non-empty failure message on a routing defect.
func (e *Engine) route(ctx context.Context, sessionID, current string, state State, steps *int) (string, State, string) {
	if p, ok := e.graph.parallels[current]; ok {
		merged, errMsg := e.fanOut(ctx, sessionID, p, state, steps)
		if errMsg != "" {
			return "", merged, errMsg
		}
		return p.join, merged, ""
	}

	if c, ok := e.graph.conds[current]; ok {
		label := c.router(state)
		to, ok := c.targets[label]
		if !ok {
			return "", state, fmt.Sprintf("%v: step %s returned %q", ErrUnknownLabel, current, label)
		}
		if label == LabelRevise {
			e.opts.Metrics.observeRevision(state.String(FieldPhase))
		}
		e.emit(emit.Event{
			SessionID: sessionID,
			Step:      *steps,
			StepName:  current,
			Msg:       "route",
			Meta:      map[string]any{"label": label, "to": to},
		})
		return to, state, ""
	}

	if to, ok := e.graph.edges[current]; ok {
		return to, state, ""
	}

	return "", state, fmt.Sprintf("%v: %s", ErrNoRoute, current)
}

// fanOut executes a parallel block: every branch runs concurrently against
// its own snapshot of state, then the branch deltas are folded in branch
// registration order. Registration order, not completion order, makes the
// merged result deterministic; two branches Replace-writing the same field
// resolve to the last registered branch. Branches cannot pause.
func (e *Engine) fanOut(ctx context.Context, sessionID string, p parallel, state State, steps *int) (State, string) {
	results := make([]StepResult, len(p.branches))
	var wg sync.WaitGroup
	for i, name := range p.branches {
		step, ok := e.graph.step(name)
		if !ok {
			return state, "parallel branch references unknown step: " + name
		}
		view, err := cloneState(state)
		if err != nil {
			return state, err.Error()
		}
		wg.Add(1)
		go func(i int, name string, view State) {
			defer wg.Done()
			cfg := RunConfig{SessionID: sessionID, Deps: e.opts.Deps}
			results[i] = executeStep(ctx, step, name, view, cfg, e.opts.StepTimeout)
		}(i, name, view)
	}
	wg.Wait()

	for i, name := range p.branches {
		*steps++
		if results[i].Err != nil {
			return state, fmt.Sprintf("parallel branch %s failed: %v", name, results[i].Err)
		}
		if results[i].Interrupt != nil {
			return state, "parallel branch requested an interrupt: " + name
		}
		state = e.schema.Apply(state, results[i].Delta)
		e.emit(emit.Event{SessionID: sessionID, Step: *steps, StepName: name, Msg: "branch_end"})
	}
	return state, ""
}

// pause persists a checkpoint for the interrupting step and returns a Paused
// result. The interrupting step's delta was discarded; the snapshot is the
// state the step started from, plus the control-field updates, so the step
// re-runs cleanly on resume.
func (e *Engine) pause(ctx context.Context, sessionID string, state State, current string, steps int, sig *InterruptSignal) (RunResult, error) {
	paused := e.schema.Apply(state, Delta{
		FieldAwaitingApproval: true,
		FieldApprovalType:     sig.Type,
		FieldStepCount:        steps,
	})

	cp := store.Checkpoint{
		SessionID:     sessionID,
		State:         paused,
		PendingStep:   current,
		InterruptType: sig.Type,
		Payload:       sig.Payload,
		Version:       store.SnapshotVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.Put(ctx, cp); err != nil {
		state = e.recordFailure(sessionID, state, errTypeCheckpoint,
			fmt.Sprintf("failed to persist checkpoint at %s: %v", current, err))
		return RunResult{SessionID: sessionID, Status: StatusErrored, State: state}, nil
	}

	e.opts.Metrics.observeInterrupt(sig.Type)
	e.emit(emit.Event{
		SessionID: sessionID,
		Step:      steps,
		StepName:  current,
		Msg:       "interrupt",
		Meta:      map[string]any{"interrupt_type": sig.Type},
	})

	return RunResult{
		SessionID:        sessionID,
		Status:           StatusPaused,
		State:            paused,
		PendingInterrupt: &PendingInterrupt{Type: sig.Type, Payload: sig.Payload},
	}, nil
}

// complete discards the session's checkpoint, if any, and reports success.
func (e *Engine) complete(ctx context.Context, sessionID string, state State) (RunResult, error) {
	if err := e.store.Delete(ctx, sessionID); err != nil {
		e.emit(emit.Event{
			SessionID: sessionID,
			Msg:       "checkpoint_cleanup_failed",
			Meta:      map[string]any{"error": err.Error()},
		})
	}
	e.emit(emit.Event{SessionID: sessionID, Msg: "run_complete"})
	return RunResult{SessionID: sessionID, Status: StatusCompleted, State: state}, nil
}

// recordFailure appends an ErrorEntry and tags the session with the terminal
// error phase. The failure becomes part of state so callers and downstream
// routers can inspect it; nothing is thrown.
func (e *Engine) recordFailure(sessionID string, state State, errType, message string) State {
	entry := ErrorEntry{
		Phase:     state.String(FieldPhase),
		Type:      errType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	e.opts.Metrics.observeError(errType)
	e.emit(emit.Event{
		SessionID: sessionID,
		Msg:       "run_errored",
		Meta:      map[string]any{"error": message, "type": errType},
	})
	return e.schema.Apply(state, Delta{
		FieldErrors: []any{entry},
		FieldPhase:  PhaseError,
	})
}

func (e *Engine) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}
