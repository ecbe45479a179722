// Package openai adapts OpenAI's chat completions API to the
// model.Generator contract.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/storyline-labs/flowkit/flow/model"
)

// DefaultModel is used when no model name is supplied.
const DefaultModel = "gpt-4o"

// Generator implements model.Generator over the official openai-go client.
// Safe for concurrent use.
type Generator struct {
	client    openai.Client
	modelName string
}

// New creates an OpenAI-backed Generator. An empty modelName selects
// DefaultModel.
func New(apiKey, modelName string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Generator{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}, nil
}

// Generate implements model.Generator.
func (g *Generator) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.modelName),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, err
	}
	if len(completion.Choices) == 0 {
		return model.Response{}, errors.New("openai returned no choices")
	}

	return model.Response{
		Text:         completion.Choices[0].Message.Content,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
