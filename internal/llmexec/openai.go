package llmexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/agenthost/internal/external"
)

// OpenAIChatCompletions captures the subset of the OpenAI SDK client the
// adapter needs, mirroring Anthropic's own narrow-interface seam so tests
// can substitute a fake.
type OpenAIChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements external.LlmExecutor over the Chat Completions API, a
// second, swappable backend proving the interface is provider-agnostic.
type OpenAI struct {
	chat         OpenAIChatCompletions
	defaultModel string
}

// NewOpenAI builds an OpenAI-backed LlmExecutor from an already constructed
// chat completions client.
func NewOpenAI(chat OpenAIChatCompletions, defaultModel string) (*OpenAI, error) {
	if chat == nil {
		return nil, errors.New("llmexec: openai chat completions client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llmexec: openai default model is required")
	}
	return &OpenAI{chat: chat, defaultModel: defaultModel}, nil
}

// NewOpenAIFromAPIKey constructs an OpenAI executor using the SDK's default
// HTTP client.
func NewOpenAIFromAPIKey(apiKey, defaultModel string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("llmexec: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(&client.Chat.Completions, defaultModel)
}

// Complete issues a single Chat Completions call and translates the result
// into the provider-agnostic external.LlmResponse shape.
func (o *OpenAI) Complete(ctx context.Context, req external.LlmRequest) (external.LlmResponse, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.chat.New(ctx, params)
	if err != nil {
		return external.LlmResponse{}, fmt.Errorf("llmexec: openai chat completions: %w", err)
	}
	return translateOpenAIResponse(resp), nil
}

func translateOpenAIResponse(resp *openai.ChatCompletion) external.LlmResponse {
	var text, stopReason string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}
	return external.LlmResponse{
		Text:       text,
		StopReason: stopReason,
		Usage: external.LlmUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
}
