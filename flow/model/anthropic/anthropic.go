// Package anthropic adapts Anthropic's Claude API to the model.Generator
// contract.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/storyline-labs/flowkit/flow/model"
)

// DefaultModel is used when no model name is supplied.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// Generator implements model.Generator over the official anthropic-sdk-go
// client. Safe for concurrent use.
type Generator struct {
	client    anthropic.Client
	modelName string
}

// New creates an Anthropic-backed Generator. An empty modelName selects
// DefaultModel.
func New(apiKey, modelName string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Generator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}, nil
}

// Generate implements model.Generator.
func (g *Generator) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.modelName),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return model.Response{
		Text:         sb.String(),
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}
