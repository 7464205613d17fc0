package tools

import (
	"context"
	"sync"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/scope"
)

// State is a ToolSession's lifecycle state.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// NextOutcome tags the three possible results of a Next call.
type NextOutcome string

const (
	NextStreaming NextOutcome = "streaming"
	NextDone      NextOutcome = "done"
	NextError     NextOutcome = "error"
)

// NextResult is the tagged outcome of a single Next call.
type NextResult struct {
	Outcome NextOutcome
	Output  any
	Failure string
}

// Handler is implemented by the thing that actually runs a tool: a
// host-native Go function or a JsBridge-backed invoker. Open receives the
// tool name; a non-nil error fails the session's Open. Send delivers a single input
// value. Next is polled until it reports Done or Error. Finish/Abort let
// the handler release any held resources.
type Handler interface {
	Open(ctx context.Context, toolName string) error
	Send(ctx context.Context, input any) error
	Next(ctx context.Context) (NextResult, error)
	Finish(ctx context.Context) error
	Abort(ctx context.Context, reason string) error
}

type sessionEntry struct {
	mu       sync.Mutex
	id       ids.ToolSessionId
	toolName string
	state    State
	snapshot scope.Scope
	handler  Handler
	opened   bool
}

// Open creates a new ToolSession for toolName, capturing ctx's current
// scope as the session's snapshot; the snapshot is reinstalled around
// every subsequent Send/Next call so the handler always sees the
// originator's context. The handler's own Open is invoked with the
// captured scope installed.
func (r *Registry) Open(ctx context.Context, toolName string, handler Handler) (ids.ToolSessionId, error) {
	if r.Get(toolName) == nil {
		return "", errs.Newf(errs.FunctionNotFound, "tool %q is not registered", toolName)
	}
	snap, _ := scope.Current(ctx)

	id := ids.NewToolSessionId()
	entry := &sessionEntry{
		id:       id,
		toolName: toolName,
		state:    StateAwaitingInput,
		snapshot: snap,
		handler:  handler,
		opened:   true,
	}

	if err := handler.Open(scopedCtx(ctx, snap), toolName); err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "tool session open failed")
	}

	r.sessMu.Lock()
	r.sessions[id] = entry
	r.sessMu.Unlock()
	return id, nil
}

func (r *Registry) entry(id ids.ToolSessionId) *sessionEntry {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	return r.sessions[id]
}

// Send delivers input to session id. Only valid in AwaitingInput; a second
// Send fails.
func (r *Registry) Send(ctx context.Context, id ids.ToolSessionId, input any) error {
	e := r.entry(id)
	if e == nil {
		return errs.Newf(errs.InvalidArgument, "unknown tool session %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		return errs.New(errs.InvalidArgument, "tool session is closed")
	case StateReady:
		return errs.New(errs.InvalidArgument, "tool session already received Send; double-Send is invalid")
	case StateAwaitingInput:
	}

	if err := e.handler.Send(scopedCtx(ctx, e.snapshot), input); err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "tool session send failed")
	}
	e.state = StateReady
	return nil
}

// Next polls session id once. Streaming leaves the session Ready; Done and
// Error transition it to Closed, invoking the handler's Finish or Abort so
// it can release held resources before the session is sealed.
func (r *Registry) Next(ctx context.Context, id ids.ToolSessionId) (NextResult, error) {
	e := r.entry(id)
	if e == nil {
		return NextResult{}, errs.Newf(errs.InvalidArgument, "unknown tool session %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return NextResult{}, errs.New(errs.InvalidArgument, "tool session is not ready for Next")
	}

	res, err := e.handler.Next(scopedCtx(ctx, e.snapshot))
	if err != nil {
		e.state = StateClosed
		return NextResult{}, errs.Wrap(errs.ExecutionFailed, err, "tool session next failed")
	}

	switch res.Outcome {
	case NextDone:
		_ = e.handler.Finish(scopedCtx(ctx, e.snapshot))
		e.state = StateClosed
	case NextError:
		_ = e.handler.Abort(scopedCtx(ctx, e.snapshot), res.Failure)
		e.state = StateClosed
	case NextStreaming:
	}
	return res, nil
}

// Finish transitions session id to Closed. A no-op success if already
// Closed.
func (r *Registry) Finish(ctx context.Context, id ids.ToolSessionId) error {
	e := r.entry(id)
	if e == nil {
		return errs.Newf(errs.InvalidArgument, "unknown tool session %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil
	}
	err := e.handler.Finish(scopedCtx(ctx, e.snapshot))
	e.state = StateClosed
	if err != nil {
		return errs.Wrap(errs.ExecutionFailed, err, "tool session finish failed")
	}
	return nil
}

// Abort transitions session id to Closed with reason. A no-op success if
// already Closed.
func (r *Registry) Abort(ctx context.Context, id ids.ToolSessionId, reason string) error {
	e := r.entry(id)
	if e == nil {
		return errs.Newf(errs.InvalidArgument, "unknown tool session %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil
	}
	err := e.handler.Abort(scopedCtx(ctx, e.snapshot), reason)
	e.state = StateClosed
	if err != nil {
		return errs.Wrap(errs.ExecutionFailed, err, "tool session abort failed")
	}
	return nil
}

// State returns session id's current state, or StateClosed with false if
// the session is unknown.
func (r *Registry) State(id ids.ToolSessionId) (State, bool) {
	e := r.entry(id)
	if e == nil {
		return StateClosed, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Drop implicitly Aborts a non-Closed session with reason "session
// dropped". Callers invoke this from a
// defer when a session handle goes out of scope without an explicit
// Finish/Abort.
func (r *Registry) Drop(ctx context.Context, id ids.ToolSessionId) {
	_ = r.Abort(ctx, id, "session dropped")
}
