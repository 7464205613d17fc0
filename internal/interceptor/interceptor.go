// Package interceptor implements the pre/post hook pipeline around LLM and
// tool calls, used by the provenance writer and by ambient
// concerns such as rate limiting.
package interceptor

import (
	"context"
	"time"

	"goa.design/agenthost/internal/errs"
)

// CallKind distinguishes an LLM call from a tool call for interceptors
// that only care about one of the two.
type CallKind string

const (
	CallLLM  CallKind = "llm"
	CallTool CallKind = "tool"
)

// Decision is the result of an intercept_* hook. A hook allows a call by
// returning a nil error (conventionally with Allow) and denies it by
// returning an error, which the pipeline surfaces to the caller as
// InvalidArgument; the Decision value itself is not inspected.
type Decision string

const Allow Decision = "allow"

// Outcome is the Ok/Err tag passed to on_*_complete.
type Outcome string

const (
	OutcomeOk  Outcome = "ok"
	OutcomeErr Outcome = "err"
)

// CallInfo describes the call an interceptor is being asked about.
type CallInfo struct {
	Kind CallKind
	Name string // tool name, or LLM function name
	Args string // JSON-encoded args/prompt
}

// CompleteInfo extends CallInfo with the result of the call.
type CompleteInfo struct {
	CallInfo
	Outcome  Outcome
	Result   string
	Err      error
	Duration time.Duration
}

// Interceptor is the pair of pre/post hooks a registered interceptor
// implements. Implementations that only care about one call kind or one
// direction can embed NoopInterceptor and override selectively.
type Interceptor interface {
	InterceptLLMCall(ctx context.Context, call CallInfo) (Decision, error)
	OnLLMCallComplete(ctx context.Context, info CompleteInfo)
	InterceptToolCall(ctx context.Context, call CallInfo) (Decision, error)
	OnToolCallComplete(ctx context.Context, info CompleteInfo)
}

// NoopInterceptor allows every call and does nothing on completion. Embed
// it to implement only the hooks that matter.
type NoopInterceptor struct{}

func (NoopInterceptor) InterceptLLMCall(context.Context, CallInfo) (Decision, error) {
	return Allow, nil
}
func (NoopInterceptor) OnLLMCallComplete(context.Context, CompleteInfo) {}
func (NoopInterceptor) InterceptToolCall(context.Context, CallInfo) (Decision, error) {
	return Allow, nil
}
func (NoopInterceptor) OnToolCallComplete(context.Context, CompleteInfo) {}

// Pipeline holds an ordered list of Interceptors. intercept_* hooks run in
// registration order before the call; on_*_complete hooks run in
// registration order after. The pipeline never swallows the call's own
// error — it is reported to on_*_complete and re-raised to the caller.
type Pipeline struct {
	interceptors []Interceptor
}

// New constructs a Pipeline over interceptors, preserving the given order.
func New(interceptors ...Interceptor) *Pipeline {
	return &Pipeline{interceptors: interceptors}
}

// Register appends an interceptor to the end of the pipeline.
func (p *Pipeline) Register(i Interceptor) {
	p.interceptors = append(p.interceptors, i)
}

// RunLLMCall runs every InterceptLLMCall hook, then call, then every
// OnLLMCallComplete hook, returning call's own result and error.
func (p *Pipeline) RunLLMCall(ctx context.Context, info CallInfo, call func(ctx context.Context) (string, error)) (string, error) {
	return p.run(ctx, info,
		func(ctx context.Context, c CallInfo) (Decision, error) { return p.interceptLLM(ctx, c) },
		func(ctx context.Context, c CompleteInfo) { p.completeLLM(ctx, c) },
		call,
	)
}

// RunToolCall runs every InterceptToolCall hook, then call, then every
// OnToolCallComplete hook, returning call's own result and error.
func (p *Pipeline) RunToolCall(ctx context.Context, info CallInfo, call func(ctx context.Context) (string, error)) (string, error) {
	return p.run(ctx, info,
		func(ctx context.Context, c CallInfo) (Decision, error) { return p.interceptTool(ctx, c) },
		func(ctx context.Context, c CompleteInfo) { p.completeTool(ctx, c) },
		call,
	)
}

func (p *Pipeline) run(
	ctx context.Context,
	info CallInfo,
	intercept func(context.Context, CallInfo) (Decision, error),
	complete func(context.Context, CompleteInfo),
	call func(ctx context.Context) (string, error),
) (string, error) {
	if _, err := intercept(ctx, info); err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "interceptor denied call")
	}

	start := time.Now()
	result, callErr := call(ctx)
	duration := time.Since(start)

	outcome := OutcomeOk
	if callErr != nil {
		outcome = OutcomeErr
	}
	complete(ctx, CompleteInfo{CallInfo: info, Outcome: outcome, Result: result, Err: callErr, Duration: duration})

	// The pipeline never swallows the call's error: it is reported above
	// and re-raised here, unmodified.
	return result, callErr
}

func (p *Pipeline) interceptLLM(ctx context.Context, c CallInfo) (Decision, error) {
	for _, i := range p.interceptors {
		if d, err := i.InterceptLLMCall(ctx, c); err != nil {
			return d, err
		}
	}
	return Allow, nil
}

func (p *Pipeline) interceptTool(ctx context.Context, c CallInfo) (Decision, error) {
	for _, i := range p.interceptors {
		if d, err := i.InterceptToolCall(ctx, c); err != nil {
			return d, err
		}
	}
	return Allow, nil
}

func (p *Pipeline) completeLLM(ctx context.Context, c CompleteInfo) {
	for _, i := range p.interceptors {
		i.OnLLMCallComplete(ctx, c)
	}
}

func (p *Pipeline) completeTool(ctx context.Context, c CompleteInfo) {
	for _, i := range p.interceptors {
		i.OnToolCallComplete(ctx, c)
	}
}
