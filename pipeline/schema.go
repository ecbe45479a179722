package pipeline

import "github.com/storyline-labs/flowkit/flow"

// State fields owned by the article workflow.
const (
	FieldCaseID           = "caseId"
	FieldCaseRecords      = "caseRecords"
	FieldSelectedEvidence = "selectedPaperEvidence"
	FieldStoryArcs        = "storyArcs"
	FieldPreviousArcs     = "previousStoryArcs"
	FieldOutline          = "outline"
	FieldPreviousOutline  = "previousOutline"
	FieldArticle          = "article"
	FieldPreviousArticle  = "previousArticle"
	FieldPublication      = "publication"
	FieldApprovalNotes    = "approvalNotes"
	FieldEvaluations      = "evaluationHistory"
	FieldArcRevisions     = "arcRevisionCount"
	FieldOutlineRevisions = "outlineRevisionCount"
	FieldArticleRevisions = "articleRevisionCount"
)

// Interrupt types the workflow raises.
const (
	InterruptEvidenceSelection = "paperEvidenceSelection"
	InterruptArcApproval       = "arcApproval"
	InterruptOutlineApproval   = "outlineApproval"
	InterruptFinalReview       = "finalReview"
)

// Phase values written to the engine's currentPhase field.
const (
	PhaseFetch    = "fetch"
	PhaseEvidence = "selectEvidence"
	PhaseArcs     = "arcs"
	PhaseOutline  = "outline"
	PhaseArticle  = "article"
	PhasePublish  = "publish"
)

// Revision gates, one per drafting phase. Arc drafts get two revision
// rounds before escalation; outline and article get three each.
var (
	arcGate = flow.GateSpec{
		Phase:        PhaseArcs,
		Cap:          2,
		CounterField: FieldArcRevisions,
		HistoryField: FieldEvaluations,
		OutputField:  FieldStoryArcs,
		ShadowField:  FieldPreviousArcs,
	}
	outlineGate = flow.GateSpec{
		Phase:        PhaseOutline,
		Cap:          3,
		CounterField: FieldOutlineRevisions,
		HistoryField: FieldEvaluations,
		OutputField:  FieldOutline,
		ShadowField:  FieldPreviousOutline,
	}
	articleGate = flow.GateSpec{
		Phase:        PhaseArticle,
		Cap:          3,
		CounterField: FieldArticleRevisions,
		HistoryField: FieldEvaluations,
		OutputField:  FieldArticle,
		ShadowField:  FieldPreviousArticle,
	}
)

// Schema declares every workflow field with its reducer. Evaluation
// history appends one verdict per evaluator pass; approval notes merge
// per phase; everything else replaces wholesale.
func Schema() *flow.Schema {
	return flow.NewSchema().
		Field(FieldCaseID, flow.Replace, nil).
		Field(FieldCaseRecords, flow.Replace, nil).
		Field(FieldSelectedEvidence, flow.Replace, nil).
		Field(FieldStoryArcs, flow.Replace, nil).
		Field(FieldPreviousArcs, flow.Replace, nil).
		Field(FieldOutline, flow.Replace, nil).
		Field(FieldPreviousOutline, flow.Replace, nil).
		Field(FieldArticle, flow.Replace, nil).
		Field(FieldPreviousArticle, flow.Replace, nil).
		Field(FieldPublication, flow.MergeObject, nil).
		Field(FieldApprovalNotes, flow.MergeObject, map[string]any{}).
		Field(FieldEvaluations, flow.AppendSingle, []any{}).
		Field(FieldArcRevisions, flow.Replace, 0).
		Field(FieldOutlineRevisions, flow.Replace, 0).
		Field(FieldArticleRevisions, flow.Replace, 0)
}
