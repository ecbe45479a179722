// Package model defines the generation-model collaborator contract used by
// pipeline steps, plus adapters for the major hosted providers.
//
// Steps receive a Generator through their injected dependencies and never
// construct provider clients themselves, so any step is testable against
// MockGenerator by substitution.
package model

import "context"

// Request is one generation call.
type Request struct {
	// System sets the collaborator's instructions for the call.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// MaxTokens caps the response length. Zero selects a provider
	// default.
	MaxTokens int

	// Temperature controls sampling. Zero means provider default.
	Temperature float64
}

// Response is the collaborator's reply.
type Response struct {
	// Text is the generated content.
	Text string

	// Model names the provider model that produced the response.
	Model string

	// InputTokens and OutputTokens report usage when the provider
	// supplies it.
	InputTokens  int
	OutputTokens int
}

// Generator is the text-generation collaborator contract.
//
// Implementations must respect context cancellation; retry and rate-limit
// policy is the implementation's own concern, never the workflow engine's.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
