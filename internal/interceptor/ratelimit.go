package interceptor

import (
	"context"

	"golang.org/x/time/rate"

	"goa.design/agenthost/internal/errs"
)

// RateLimitInterceptor denies intercept_tool_call/intercept_llm_call once a
// configured per-call-kind budget is exhausted.
type RateLimitInterceptor struct {
	NoopInterceptor
	llm  *rate.Limiter
	tool *rate.Limiter
}

// NewRateLimitInterceptor constructs a RateLimitInterceptor allowing up to
// llmPerSecond LLM calls and toolPerSecond tool calls per second, each with
// a burst size of one (at most one token is held at a time).
func NewRateLimitInterceptor(llmPerSecond, toolPerSecond float64) *RateLimitInterceptor {
	return &RateLimitInterceptor{
		llm:  rate.NewLimiter(rate.Limit(llmPerSecond), 1),
		tool: rate.NewLimiter(rate.Limit(toolPerSecond), 1),
	}
}

// InterceptLLMCall denies the call with InvalidArgument if the LLM budget
// is exhausted.
func (r *RateLimitInterceptor) InterceptLLMCall(_ context.Context, call CallInfo) (Decision, error) {
	if !r.llm.Allow() {
		return "", errs.Newf(errs.InvalidArgument, "llm call rate limit exceeded for %q", call.Name)
	}
	return Allow, nil
}

// InterceptToolCall denies the call with InvalidArgument if the tool budget
// is exhausted.
func (r *RateLimitInterceptor) InterceptToolCall(_ context.Context, call CallInfo) (Decision, error) {
	if !r.tool.Allow() {
		return "", errs.Newf(errs.InvalidArgument, "tool call rate limit exceeded for %q", call.Name)
	}
	return Allow, nil
}
