package pipeline

import (
	"context"
	"fmt"

	"github.com/storyline-labs/flowkit/flow"
)

// Step names in the compiled workflow graph.
const (
	StepFetchRecords    = "fetchRecords"
	StepSelectEvidence  = "selectEvidence"
	StepGenerateArcs    = "generateArcs"
	StepEvaluateArcs    = "evaluateArcs"
	StepReviseArcs      = "reviseArcs"
	StepArcApproval     = "arcApproval"
	StepGenerateOutline = "generateOutline"
	StepEvaluateOutline = "evaluateOutline"
	StepReviseOutline   = "reviseOutline"
	StepOutlineApproval = "outlineApproval"
	StepGenerateArticle = "generateArticle"
	StepEvaluateArticle = "evaluateArticle"
	StepReviseArticle   = "reviseArticle"
	StepFinalReview     = "finalReview"
	StepPublish         = "publish"
	StepAbort           = "abortSession"
)

// buildGraph compiles the article workflow. Each drafting phase is the same
// four-step loop: generate, evaluate, then the gate routes to either the
// phase's approval checkpoint, the revise step (which feeds back into
// generate), or the abort path.
func buildGraph() (*flow.Graph, error) {
	b := flow.NewBuilder().
		AddStep(StepFetchRecords, flow.StepFunc(fetchRecords)).
		AddStep(StepSelectEvidence, flow.StepFunc(selectEvidence)).
		AddStep(StepGenerateArcs, generationStep(arcGate, arcPrompt)).
		AddStep(StepEvaluateArcs, evaluationStep(arcGate, arcCriteria)).
		AddStep(StepReviseArcs, arcGate.ReviseStep()).
		AddStep(StepArcApproval, approvalStep(InterruptArcApproval, arcGate, PhaseOutline)).
		AddStep(StepGenerateOutline, generationStep(outlineGate, outlinePrompt)).
		AddStep(StepEvaluateOutline, evaluationStep(outlineGate, outlineCriteria)).
		AddStep(StepReviseOutline, outlineGate.ReviseStep()).
		AddStep(StepOutlineApproval, approvalStep(InterruptOutlineApproval, outlineGate, PhaseArticle)).
		AddStep(StepGenerateArticle, generationStep(articleGate, articlePrompt)).
		AddStep(StepEvaluateArticle, evaluationStep(articleGate, articleCriteria)).
		AddStep(StepReviseArticle, articleGate.ReviseStep()).
		AddStep(StepFinalReview, approvalStep(InterruptFinalReview, articleGate, PhasePublish)).
		AddStep(StepPublish, flow.StepFunc(publish)).
		AddStep(StepAbort, flow.StepFunc(abortSession)).
		SetStart(StepFetchRecords).
		AddEdge(StepFetchRecords, StepSelectEvidence).
		AddEdge(StepSelectEvidence, StepGenerateArcs).
		AddEdge(StepGenerateArcs, StepEvaluateArcs).
		AddConditionalEdge(StepEvaluateArcs, arcGate.Route, map[string]string{
			flow.LabelCheckpoint: StepArcApproval,
			flow.LabelRevise:     StepReviseArcs,
			flow.LabelError:      StepAbort,
		}).
		AddEdge(StepReviseArcs, StepGenerateArcs).
		AddEdge(StepArcApproval, StepGenerateOutline).
		AddEdge(StepGenerateOutline, StepEvaluateOutline).
		AddConditionalEdge(StepEvaluateOutline, outlineGate.Route, map[string]string{
			flow.LabelCheckpoint: StepOutlineApproval,
			flow.LabelRevise:     StepReviseOutline,
			flow.LabelError:      StepAbort,
		}).
		AddEdge(StepReviseOutline, StepGenerateOutline).
		AddEdge(StepOutlineApproval, StepGenerateArticle).
		AddEdge(StepGenerateArticle, StepEvaluateArticle).
		AddConditionalEdge(StepEvaluateArticle, articleGate.Route, map[string]string{
			flow.LabelCheckpoint: StepFinalReview,
			flow.LabelRevise:     StepReviseArticle,
			flow.LabelError:      StepAbort,
		}).
		AddEdge(StepReviseArticle, StepGenerateArticle).
		AddEdge(StepFinalReview, StepPublish).
		AddEdge(StepPublish, flow.End).
		AddEdge(StepAbort, flow.End)
	return b.Compile()
}

// abortSession is the gates' error-label target. It only runs when a prior
// step tagged the session with the terminal error phase, so the run ends as
// errored rather than completed.
func abortSession(_ context.Context, state flow.State, _ flow.RunConfig) flow.StepResult {
	return flow.Fail(fmt.Errorf("session aborted in error phase after %s", state.String(flow.FieldPhase)))
}
