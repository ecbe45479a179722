package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/storyline-labs/flowkit/flow"
)

// fetchRecords loads the case's source material. Guarded by its own output
// so a resumed session never refetches.
func fetchRecords(ctx context.Context, state flow.State, cfg flow.RunConfig) flow.StepResult {
	if existing, ok := state[FieldCaseRecords]; ok && existing != nil {
		return flow.Update(flow.Delta{flow.FieldPhase: PhaseEvidence})
	}
	deps, err := depsFrom(cfg)
	if err != nil {
		return flow.Fail(err)
	}
	caseID := state.String(FieldCaseID)
	if caseID == "" {
		return flow.Fail(fmt.Errorf("session is missing a case id"))
	}
	records, err := deps.Evidence.FetchCaseRecords(ctx, caseID)
	if err != nil {
		return flow.Fail(fmt.Errorf("fetch case records for %s: %w", caseID, err))
	}
	if len(records) == 0 {
		return flow.Fail(fmt.Errorf("case %s has no records to work from", caseID))
	}
	return flow.Update(flow.Delta{
		FieldCaseRecords: records,
		flow.FieldPhase:  PhaseEvidence,
	})
}

// selectEvidence pauses for the human to pick which paper records the
// article should rest on. The stored selection doubles as the skip value,
// so replaying past this step after any later resume never re-asks.
func selectEvidence(_ context.Context, state flow.State, cfg flow.RunConfig) flow.StepResult {
	skip := state[FieldSelectedEvidence]
	payload := map[string]any{
		"caseId":     state.String(FieldCaseID),
		"candidates": state[FieldCaseRecords],
	}
	answer, sig := flow.Ask(cfg, InterruptEvidenceSelection, payload, skip)
	if sig != nil {
		return flow.Pause(sig)
	}
	selected := selectionFrom(answer)
	if len(selected) == 0 {
		return flow.Fail(fmt.Errorf("evidence selection resolved to nothing usable (got %T)", answer))
	}
	return flow.Update(flow.Delta{
		FieldSelectedEvidence: selected,
		flow.FieldPhase:       PhaseArcs,
	})
}

// selectionFrom accepts the shapes a resume value (or a replayed stored
// selection) can arrive in: a bare list of record ids, or an object with a
// "selected" list.
func selectionFrom(answer any) []any {
	switch v := answer.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case map[string]any:
		if items, ok := v["selected"].([]any); ok {
			return items
		}
	}
	return nil
}

// generationStep builds the draft-producing step for one phase. The output
// field is its own skip guard: a revision clears it with an explicit null,
// which is what re-arms generation.
func generationStep(gate flow.GateSpec, prompt func(flow.State) (system, user string)) flow.Step {
	return flow.StepFunc(func(ctx context.Context, state flow.State, cfg flow.RunConfig) flow.StepResult {
		if existing, ok := state[gate.OutputField]; ok && existing != nil {
			return flow.Update(flow.Delta{flow.FieldPhase: gate.Phase})
		}
		deps, err := depsFrom(cfg)
		if err != nil {
			return flow.Fail(err)
		}
		system, user := prompt(state)
		resp, err := deps.Generator.Generate(ctx, genRequest(system, user))
		if err != nil {
			return flow.Fail(fmt.Errorf("generate %s: %w", gate.Phase, err))
		}
		return flow.Update(flow.Delta{
			gate.OutputField: strings.TrimSpace(resp.Text),
			flow.FieldPhase:  gate.Phase,
		})
	})
}

// evaluationStep builds the evaluator step for one phase: it asks the model
// for a verdict on the phase's current output and appends it to the
// evaluation history through the gate.
func evaluationStep(gate flow.GateSpec, criteria string) flow.Step {
	return flow.StepFunc(func(ctx context.Context, state flow.State, cfg flow.RunConfig) flow.StepResult {
		deps, err := depsFrom(cfg)
		if err != nil {
			return flow.Fail(err)
		}
		output := state.String(gate.OutputField)
		resp, err := deps.Generator.Generate(ctx, genRequest(evaluatorSystem, evaluatorPrompt(gate.Phase, criteria, output)))
		if err != nil {
			return flow.Fail(fmt.Errorf("evaluate %s: %w", gate.Phase, err))
		}
		eval := parseVerdict(resp.Text)
		return flow.Update(gate.RecordEvaluation(state, eval))
	})
}

// approvalStep builds a human checkpoint for one phase's output. The notes
// recorded under the interrupt type mark it answered, so re-traversal skips
// checkpoints the human has already cleared.
func approvalStep(interruptType string, gate flow.GateSpec, nextPhase string) flow.Step {
	return flow.StepFunc(func(_ context.Context, state flow.State, cfg flow.RunConfig) flow.StepResult {
		var skip any
		if notes := state.Map(FieldApprovalNotes); notes != nil {
			if prior, ok := notes[interruptType]; ok {
				skip = prior
			}
		}
		payload := map[string]any{
			"phase":     gate.Phase,
			"output":    state[gate.OutputField],
			"revisions": state.Int(gate.CounterField),
			"history":   state[FieldEvaluations],
		}
		answer, sig := flow.Ask(cfg, interruptType, payload, skip)
		if sig != nil {
			return flow.Pause(sig)
		}
		return flow.Update(flow.Delta{
			FieldApprovalNotes: map[string]any{interruptType: normalizeApproval(answer)},
			flow.FieldPhase:    nextPhase,
		})
	})
}

// normalizeApproval keeps the human's answer auditable regardless of shape.
func normalizeApproval(answer any) any {
	if answer == nil {
		return map[string]any{"approved": true}
	}
	if m, ok := answer.(map[string]any); ok {
		if _, has := m["approved"]; !has {
			m = cloneApproval(m)
			m["approved"] = true
		}
		return m
	}
	return map[string]any{"approved": true, "notes": answer}
}

func cloneApproval(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// publish assembles the publication record from the approved article.
func publish(_ context.Context, state flow.State, _ flow.RunConfig) flow.StepResult {
	article := state.String(FieldArticle)
	if article == "" {
		return flow.Fail(fmt.Errorf("nothing to publish: article is empty"))
	}
	return flow.Update(flow.Delta{
		FieldPublication: map[string]any{
			"caseId":      state.String(FieldCaseID),
			"article":     article,
			"publishedAt": time.Now().UTC().Format(time.RFC3339),
		},
		flow.FieldPhase: PhasePublish,
	})
}

// verdict is the JSON shape evaluators are instructed to answer with.
type verdict struct {
	Ready      bool     `json:"ready"`
	Issues     []string `json:"issues"`
	Confidence float64  `json:"confidence"`
}

// parseVerdict extracts the evaluator's JSON verdict from its reply. Model
// output is not trusted to be clean JSON; the first balanced object in the
// text is taken. An unparseable reply counts as a not-ready verdict so the
// revision cap, not a crash, bounds a misbehaving evaluator.
func parseVerdict(text string) flow.Evaluation {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var v verdict
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err == nil {
			return flow.Evaluation{Ready: v.Ready, Issues: v.Issues, Confidence: v.Confidence}
		}
	}
	return flow.Evaluation{
		Ready:  false,
		Issues: []string{"evaluator reply was not parseable as a verdict"},
	}
}
