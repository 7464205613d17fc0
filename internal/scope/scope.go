// Package scope propagates the task-local (context_id, agent_id,
// message_id?, task_id?) tuple across async boundaries. Following the
// task-local-storage approach, the scope is threaded as
// an explicit value stored in context.Context rather than a goroutine-local,
// so concurrency reasoning stays local and no scope is lost when work
// migrates between goroutines. Callers that fan work out to new goroutines
// (the router fanning stream chunks, a tool session resuming on a different
// goroutine) must explicitly re-install the parent scope with WithScope.
package scope

import (
	"context"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
)

// Scope is the immutable propagated tuple. Values are copied, never
// mutated in place — every With* helper returns a new Scope.
type Scope struct {
	ContextID ids.ContextId
	AgentID   ids.AgentId
	MessageID *ids.MessageId
	TaskID    *ids.TaskId
}

type scopeKey struct{}

// WithScope installs scope into ctx and returns the derived context. Use
// this at every suspension point that must preserve the originator's scope
// (notably around ToolSession Open/Send/Next/Finish/Abort).
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// Current returns the scope installed on ctx, if any.
func Current(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// CurrentOrNew returns the current context id, or synthesizes one from the
// supplied millis/counter if no scope is installed.
func CurrentOrNew(ctx context.Context, millis int64, counter uint64) ids.ContextId {
	if s, ok := Current(ctx); ok {
		return s.ContextID
	}
	return ids.NewContextId(millis, counter)
}

// WithContextID clones the current scope with ContextID overridden. It fails
// with InvalidArgument when called outside any scope.
func WithContextID(ctx context.Context, id ids.ContextId) (Scope, error) {
	s, ok := Current(ctx)
	if !ok {
		return Scope{}, errs.New(errs.InvalidArgument, "with_context_id called outside any scope")
	}
	s.ContextID = id
	return s, nil
}

// WithMessageID clones the current scope with MessageID overridden. It fails
// with InvalidArgument when called outside any scope.
func WithMessageID(ctx context.Context, id ids.MessageId) (Scope, error) {
	s, ok := Current(ctx)
	if !ok {
		return Scope{}, errs.New(errs.InvalidArgument, "with_message_id called outside any scope")
	}
	s.MessageID = &id
	return s, nil
}

// WithTaskID clones the current scope with TaskID overridden. It fails with
// InvalidArgument when called outside any scope.
func WithTaskID(ctx context.Context, id ids.TaskId) (Scope, error) {
	s, ok := Current(ctx)
	if !ok {
		return Scope{}, errs.New(errs.InvalidArgument, "with_task_id called outside any scope")
	}
	s.TaskID = &id
	return s, nil
}

// WithAgentID clones the current scope with AgentID overridden. Unlike the
// other With* helpers it may be called outside any scope, in which case it
// synthesizes a new scope with a freshly generated context id.
func WithAgentID(ctx context.Context, agent ids.AgentId, millis int64, counter uint64) Scope {
	s, ok := Current(ctx)
	if !ok {
		return Scope{ContextID: ids.NewContextId(millis, counter), AgentID: agent}
	}
	s.AgentID = agent
	return s
}
