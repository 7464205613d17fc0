package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInterceptor struct {
	NoopInterceptor
	name   string
	events *[]string
	deny   bool
}

func (r *recordingInterceptor) InterceptToolCall(ctx context.Context, call CallInfo) (Decision, error) {
	*r.events = append(*r.events, "pre:"+r.name)
	if r.deny {
		return "", errors.New("denied by " + r.name)
	}
	return Allow, nil
}

func (r *recordingInterceptor) OnToolCallComplete(ctx context.Context, info CompleteInfo) {
	*r.events = append(*r.events, "post:"+r.name)
}

func TestPipelineRunsHooksInRegistrationOrder(t *testing.T) {
	var events []string
	p := New(
		&recordingInterceptor{name: "a", events: &events},
		&recordingInterceptor{name: "b", events: &events},
	)

	_, err := p.RunToolCall(context.Background(), CallInfo{Kind: CallTool, Name: "x"}, func(ctx context.Context) (string, error) {
		events = append(events, "call")
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pre:a", "pre:b", "call", "post:a", "post:b"}, events)
}

func TestPipelineDenyShortCircuits(t *testing.T) {
	var events []string
	p := New(&recordingInterceptor{name: "a", events: &events, deny: true})

	_, err := p.RunToolCall(context.Background(), CallInfo{Kind: CallTool, Name: "x"}, func(ctx context.Context) (string, error) {
		events = append(events, "call")
		return "ok", nil
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"pre:a"}, events)
}

func TestPipelineNeverSwallowsCallError(t *testing.T) {
	var events []string
	p := New(&recordingInterceptor{name: "a", events: &events})

	callErr := errors.New("boom")
	_, err := p.RunToolCall(context.Background(), CallInfo{Kind: CallTool, Name: "x"}, func(ctx context.Context) (string, error) {
		return "", callErr
	})
	assert.ErrorIs(t, err, callErr)
	assert.Equal(t, []string{"pre:a", "post:a"}, events)
}

func TestRateLimitInterceptorDeniesOverBudget(t *testing.T) {
	ri := NewRateLimitInterceptor(0, 0)

	// Burst of one: the first call of each kind consumes the only token...
	_, err := ri.InterceptLLMCall(context.Background(), CallInfo{Kind: CallLLM, Name: "x"})
	assert.NoError(t, err)
	_, err = ri.InterceptToolCall(context.Background(), CallInfo{Kind: CallTool, Name: "x"})
	assert.NoError(t, err)

	// ...and with a zero steady rate, the second call of each kind is denied.
	_, err = ri.InterceptLLMCall(context.Background(), CallInfo{Kind: CallLLM, Name: "x"})
	assert.Error(t, err)
	_, err = ri.InterceptToolCall(context.Background(), CallInfo{Kind: CallTool, Name: "x"})
	assert.Error(t, err)
}
