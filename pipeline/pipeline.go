// Package pipeline assembles the investigative-article workflow on top of
// the flow engine: fetch case records, select paper evidence with a human,
// then draft story arcs, an outline, and the article through bounded
// evaluator-gated revision loops, pausing for human approval between phases.
package pipeline

import (
	"context"
	"fmt"

	"github.com/storyline-labs/flowkit/flow"
	"github.com/storyline-labs/flowkit/flow/emit"
	"github.com/storyline-labs/flowkit/flow/model"
	"github.com/storyline-labs/flowkit/flow/store"
)

// CaseRecord is one unit of source material for an article.
type CaseRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

// EvidenceSource is the data-fetch collaborator: it retrieves the case
// records an article draws on. Injected through Deps so steps never reach
// for a global client.
type EvidenceSource interface {
	FetchCaseRecords(ctx context.Context, caseID string) ([]CaseRecord, error)
}

// Deps carries the pipeline's collaborator handles into every step.
type Deps struct {
	Generator model.Generator
	Evidence  EvidenceSource
}

func depsFrom(cfg flow.RunConfig) (Deps, error) {
	deps, ok := cfg.Deps.(Deps)
	if !ok {
		return Deps{}, fmt.Errorf("pipeline deps not configured (got %T)", cfg.Deps)
	}
	return deps, nil
}

// Build compiles the article workflow graph and its schema without binding
// an engine, for callers that want to drive flow.New themselves.
func Build() (*flow.Graph, *flow.Schema, error) {
	graph, err := buildGraph()
	if err != nil {
		return nil, nil, err
	}
	return graph, Schema(), nil
}

// Pipeline wraps a configured engine with the article workflow compiled in.
type Pipeline struct {
	engine *flow.Engine
}

// Config tunes a Pipeline beyond its required collaborators.
type Config struct {
	// Emitter receives execution events. Nil disables them.
	Emitter emit.Emitter

	// Metrics enables Prometheus collection when non-nil.
	Metrics *flow.Metrics

	// Options overrides engine options. Deps and Metrics fields here are
	// ignored in favor of the dedicated Config fields.
	Options flow.Options
}

// New compiles the article workflow and binds it to the given checkpoint
// store and collaborators.
func New(st store.Store, deps Deps, cfg Config) (*Pipeline, error) {
	graph, err := buildGraph()
	if err != nil {
		return nil, err
	}
	opts := cfg.Options
	opts.Deps = deps
	opts.Metrics = cfg.Metrics
	return &Pipeline{
		engine: flow.New(graph, Schema(), st, cfg.Emitter, opts),
	}, nil
}

// Start begins (or continues, if a checkpoint exists) a session for the
// given case. An empty sessionID gets a generated one; read it from the
// result.
func (p *Pipeline) Start(ctx context.Context, sessionID, caseID string) (flow.RunResult, error) {
	return p.engine.Run(ctx, sessionID, flow.Delta{
		FieldCaseID:     caseID,
		flow.FieldPhase: PhaseFetch,
	})
}

// Resume answers a paused session's pending interrupt.
func (p *Pipeline) Resume(ctx context.Context, sessionID, interruptType string, value any) (flow.RunResult, error) {
	return p.engine.Resume(ctx, sessionID, interruptType, value)
}
