// Package llmexec provides concrete external.LlmExecutor adapters over the
// two official provider SDKs: Anthropic Claude Messages and the OpenAI
// Chat Completions API. The core depends only on external.LlmExecutor;
// either adapter, or both side by side per agent, satisfies it.
package llmexec

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/agenthost/internal/external"
)

// AnthropicMessages captures the subset of the Anthropic SDK client the
// adapter needs, so tests can substitute a fake without a live API key.
type AnthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements external.LlmExecutor over the Anthropic Messages API.
type Anthropic struct {
	msg          AnthropicMessages
	defaultModel string
}

// NewAnthropic builds an Anthropic-backed LlmExecutor from an already
// constructed Messages client.
func NewAnthropic(msg AnthropicMessages, defaultModel string) (*Anthropic, error) {
	if msg == nil {
		return nil, errors.New("llmexec: anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llmexec: anthropic default model is required")
	}
	return &Anthropic{msg: msg, defaultModel: defaultModel}, nil
}

// NewAnthropicFromAPIKey constructs an Anthropic executor using the SDK's
// default HTTP client, authenticated with apiKey via option.WithAPIKey.
func NewAnthropicFromAPIKey(apiKey, defaultModel string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("llmexec: anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&client.Messages, defaultModel)
}

// Complete issues a single, non-streaming Messages.New call and translates
// the response into the provider-agnostic external.LlmResponse shape.
func (a *Anthropic) Complete(ctx context.Context, req external.LlmRequest) (external.LlmResponse, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return external.LlmResponse{}, fmt.Errorf("llmexec: anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg), nil
}

func translateAnthropicResponse(msg *sdk.Message) external.LlmResponse {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return external.LlmResponse{
		Text:       text,
		StopReason: string(msg.StopReason),
		Usage: external.LlmUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
