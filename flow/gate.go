package flow

import (
	"context"
	"time"
)

// Routing labels shared by every evaluation gate. A gate's conditional edge
// maps these to the phase's approval checkpoint, its regenerate step, and
// the terminal error path respectively.
const (
	LabelCheckpoint = "checkpoint"
	LabelRevise     = "revise"
	LabelError      = "error"
)

// Evaluation is one evaluator verdict. Entries are appended to a phase's
// evaluation-history field (AppendSingle) and never mutated afterwards:
// routers read the last entry, humans audit the whole log.
type Evaluation struct {
	// Phase names the pipeline phase that was evaluated.
	Phase string `json:"phase"`

	// Timestamp records when the evaluator ran.
	Timestamp time.Time `json:"timestamp"`

	// Ready is the evaluator's verdict: true to move the phase forward to
	// its approval checkpoint.
	Ready bool `json:"ready"`

	// Issues lists what the evaluator wants changed. Consumed by the
	// regeneration step as revision context.
	Issues []string `json:"issues"`

	// Confidence is the evaluator's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Escalated is set when the verdict was not ready but the phase's
	// revision cap was already spent, forcing the gate to surface the
	// output to a human anyway.
	Escalated bool `json:"escalatedToHuman"`
}

// GateSpec wires one phase's bounded revision loop: which counter tracks its
// revisions, where its evaluator appends verdicts, which field holds the
// phase's primary output, and where the previous output is preserved during
// a revision.
//
// The cap bounds automatic regenerate-and-reevaluate cycles. Once counter ==
// cap the gate routes to the approval checkpoint regardless of verdict: a
// session never loops forever on an evaluator that keeps failing; it
// surfaces to a human instead. Early phases whose defects propagate furthest
// downstream deserve smaller caps than late phases with local repair
// surface.
type GateSpec struct {
	// Phase tags evaluations and revision metrics for this gate.
	Phase string

	// Cap is the maximum number of automatic revisions. Must be >= 0.
	Cap int

	// CounterField holds the phase's revision counter (Replace, int).
	CounterField string

	// HistoryField is the evaluation-history field (AppendSingle).
	HistoryField string

	// OutputField is the phase's primary output. The revise step clears
	// it with an explicit null so the generation step's skip logic does
	// not short-circuit the regeneration.
	OutputField string

	// ShadowField preserves the previous output through a revision so the
	// regeneration step can use it as revision context.
	ShadowField string
}

// RecordEvaluation turns an evaluator verdict into the delta an evaluator
// step returns. The entry is stamped with the gate's phase and the current
// time, and Escalated is set when this verdict exhausts the cap, so the
// entry carries, already at append time, the decision Route will make right
// after it.
func (g GateSpec) RecordEvaluation(state State, eval Evaluation) Delta {
	eval.Phase = g.Phase
	if eval.Timestamp.IsZero() {
		eval.Timestamp = time.Now().UTC()
	}
	if !eval.Ready && state.Int(g.CounterField) >= g.Cap {
		eval.Escalated = true
	}
	return Delta{g.HistoryField: eval}
}

// Route is the gate's router. Reading the post-evaluation state it returns:
//   - LabelError when the session already carries the terminal error phase,
//   - LabelCheckpoint when the last verdict is ready OR the revision counter
//     has reached the cap (forced escalation),
//   - LabelRevise otherwise.
//
// The counter <= cap invariant holds at every read: Route performs the
// counter == cap check before the revise step increments again, so the
// counter never passes cap+1.
func (g GateSpec) Route(state State) string {
	if state.String(FieldPhase) == PhaseError {
		return LabelError
	}
	if last, ok := g.lastEvaluation(state); ok && last.Ready {
		return LabelCheckpoint
	}
	if state.Int(g.CounterField) >= g.Cap {
		return LabelCheckpoint
	}
	return LabelRevise
}

// ReviseStep builds the increment-and-regenerate step for this gate. It
// (a) increments the revision counter, (b) clears the output field with an
// explicit null so the generation step regenerates instead of skipping, and
// (c) preserves the outgoing output in the shadow field as revision context.
func (g GateSpec) ReviseStep() Step {
	return StepFunc(func(_ context.Context, state State, _ RunConfig) StepResult {
		delta := Delta{
			g.CounterField: state.Int(g.CounterField) + 1,
			g.OutputField:  nil,
		}
		if g.ShadowField != "" {
			if prev, ok := state[g.OutputField]; ok && prev != nil {
				delta[g.ShadowField] = prev
			}
		}
		return Update(delta)
	})
}

// lastEvaluation returns the most recent entry for this gate's history
// field. History entries survive checkpoint round-trips as maps, so both
// representations are accepted.
func (g GateSpec) lastEvaluation(state State) (Evaluation, bool) {
	entries := state.Slice(g.HistoryField)
	if len(entries) == 0 {
		return Evaluation{}, false
	}
	switch last := entries[len(entries)-1].(type) {
	case Evaluation:
		return last, true
	case map[string]any:
		eval := Evaluation{
			Phase: asString(last["phase"]),
			Ready: asBool(last["ready"]),
		}
		if c, ok := last["confidence"].(float64); ok {
			eval.Confidence = c
		}
		if esc, ok := last["escalatedToHuman"].(bool); ok {
			eval.Escalated = esc
		}
		for _, issue := range toSlice(last["issues"]) {
			if s, ok := issue.(string); ok {
				eval.Issues = append(eval.Issues, s)
			}
		}
		return eval, true
	default:
		return Evaluation{}, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toSlice(v any) []any {
	items, _ := asSlice(v)
	return items
}
