package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storyline-labs/flowkit/flow"
	"github.com/storyline-labs/flowkit/flow/model"
)

const (
	writerSystem = "You are an investigative journalist drafting long-form articles " +
		"from case records. Work only from the evidence you are given. " +
		"Never invent facts, names, or quotes."

	evaluatorSystem = "You are a demanding editorial reviewer. Answer with a single JSON object: " +
		`{"ready": bool, "issues": [string], "confidence": number between 0 and 1}. ` +
		"Set ready to true only when the draft needs no further revision."

	arcCriteria     = "Each arc must be grounded in the selected evidence, have a clear tension, and not overlap another arc."
	outlineCriteria = "The outline must cover every story arc, order sections for narrative momentum, and cite which evidence anchors each section."
	articleCriteria = "The article must follow the outline, attribute every claim to evidence, and read as publishable long-form prose."
)

func genRequest(system, user string) model.Request {
	return model.Request{
		System:      system,
		Prompt:      user,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// arcPrompt asks for story arcs over the selected evidence. On a revision
// pass the previous arcs and the evaluator's issues ride along so the model
// revises rather than starts over.
func arcPrompt(state flow.State) (string, string) {
	var b strings.Builder
	b.WriteString("Propose the story arcs for an investigative article.\n\n")
	writeEvidence(&b, state)
	writeRevisionContext(&b, state, FieldPreviousArcs, "story arcs")
	b.WriteString("\nList each arc with a title and a two-sentence summary.")
	return writerSystem, b.String()
}

// outlinePrompt asks for a section-by-section outline of the approved arcs.
func outlinePrompt(state flow.State) (string, string) {
	var b strings.Builder
	b.WriteString("Write a section-by-section outline for the article.\n\n")
	b.WriteString("Approved story arcs:\n")
	b.WriteString(state.String(FieldStoryArcs))
	b.WriteString("\n\n")
	writeEvidence(&b, state)
	writeRevisionContext(&b, state, FieldPreviousOutline, "outline")
	return writerSystem, b.String()
}

// articlePrompt asks for the full draft following the approved outline.
func articlePrompt(state flow.State) (string, string) {
	var b strings.Builder
	b.WriteString("Draft the complete article.\n\n")
	b.WriteString("Approved outline:\n")
	b.WriteString(state.String(FieldOutline))
	b.WriteString("\n\n")
	writeEvidence(&b, state)
	writeRevisionContext(&b, state, FieldPreviousArticle, "draft")
	return writerSystem, b.String()
}

func evaluatorPrompt(phase, criteria, output string) string {
	return fmt.Sprintf("Review this %s draft.\n\nCriteria: %s\n\nDraft:\n%s", phase, criteria, output)
}

// writeEvidence renders the human-selected record ids plus the matching
// record details from the fetched case material.
func writeEvidence(b *strings.Builder, state flow.State) {
	selected := state.Slice(FieldSelectedEvidence)
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if s, ok := id.(string); ok {
			chosen[s] = true
		}
	}
	b.WriteString("Selected evidence:\n")
	for _, raw := range state.Slice(FieldCaseRecords) {
		id, line := recordLine(raw)
		if len(chosen) > 0 && !chosen[id] {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// recordLine renders one case record. Records survive checkpoint
// round-trips as maps, so both forms are accepted.
func recordLine(raw any) (id, line string) {
	switch rec := raw.(type) {
	case CaseRecord:
		return rec.ID, fmt.Sprintf("[%s] %s (%s): %s", rec.ID, rec.Title, rec.Kind, rec.Summary)
	case map[string]any:
		id, _ := rec["id"].(string)
		title, _ := rec["title"].(string)
		kind, _ := rec["kind"].(string)
		summary, _ := rec["summary"].(string)
		return id, fmt.Sprintf("[%s] %s (%s): %s", id, title, kind, summary)
	default:
		encoded, _ := json.Marshal(raw)
		return "", string(encoded)
	}
}

// writeRevisionContext adds the shadowed previous output and the latest
// evaluator issues when this pass is a revision.
func writeRevisionContext(b *strings.Builder, state flow.State, shadowField, label string) {
	prev := state.String(shadowField)
	if prev == "" {
		return
	}
	b.WriteString("\nThis is a revision. Previous ")
	b.WriteString(label)
	b.WriteString(":\n")
	b.WriteString(prev)
	b.WriteString("\n\nReviewer issues to address:\n")
	for _, issue := range latestIssues(state) {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
}

func latestIssues(state flow.State) []string {
	entries := state.Slice(FieldEvaluations)
	if len(entries) == 0 {
		return nil
	}
	switch last := entries[len(entries)-1].(type) {
	case flow.Evaluation:
		return last.Issues
	case map[string]any:
		raw, _ := last["issues"].([]any)
		issues := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				issues = append(issues, s)
			}
		}
		return issues
	default:
		return nil
	}
}
