package llmexec

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	oaopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/external"
)

type fakeAnthropicMessages struct {
	got sdk.MessageNewParams
}

func (f *fakeAnthropicMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return &sdk.Message{
		StopReason: sdk.StopReasonEndTurn,
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "pong"}},
		Usage:      sdk.Usage{InputTokens: 3, OutputTokens: 1},
	}, nil
}

func TestAnthropicComplete(t *testing.T) {
	fake := &fakeAnthropicMessages{}
	client, err := NewAnthropic(fake, "claude-test")
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), external.LlmRequest{Prompt: "ping", MaxTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, sdk.Model("claude-test"), fake.got.Model)
}

func TestAnthropicRequiresDefaultModel(t *testing.T) {
	_, err := NewAnthropic(&fakeAnthropicMessages{}, "")
	assert.Error(t, err)
}

type fakeOpenAIChat struct {
	got openai.ChatCompletionNewParams
}

func (f *fakeOpenAIChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...oaopt.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				Message:      openai.ChatCompletionMessage{Content: "pong"},
				FinishReason: "stop",
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 2, CompletionTokens: 1},
	}, nil
}

func TestOpenAIComplete(t *testing.T) {
	fake := &fakeOpenAIChat{}
	client, err := NewOpenAI(fake, "gpt-test")
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), external.LlmRequest{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "gpt-test", fake.got.Model)
}
