package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/ids"
)

// fakeHandler is a minimal Handler for exercising the FSM directly.
type fakeHandler struct {
	opened   bool
	sent     []any
	results  []NextResult
	nextIdx  int
	aborted  string
	finished bool
}

func (h *fakeHandler) Open(ctx context.Context, toolName string) error {
	h.opened = true
	return nil
}
func (h *fakeHandler) Send(ctx context.Context, input any) error {
	h.sent = append(h.sent, input)
	return nil
}
func (h *fakeHandler) Next(ctx context.Context) (NextResult, error) {
	if h.nextIdx >= len(h.results) {
		return NextResult{Outcome: NextDone}, nil
	}
	r := h.results[h.nextIdx]
	h.nextIdx++
	return r, nil
}
func (h *fakeHandler) Finish(ctx context.Context) error {
	h.finished = true
	return nil
}
func (h *fakeHandler) Abort(ctx context.Context, reason string) error {
	h.aborted = reason
	return nil
}

func registryWithTool(t *testing.T, name string) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Metadata{Name: name}))
	return r
}

func TestSessionLifecycleHappyPath(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{results: []NextResult{{Outcome: NextDone, Output: 42}}}

	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	state, _ := r.State(id)
	assert.Equal(t, StateAwaitingInput, state)

	require.NoError(t, r.Send(context.Background(), id, "hello"))
	state, _ = r.State(id)
	assert.Equal(t, StateReady, state)

	res, err := r.Next(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, NextDone, res.Outcome)
	assert.Equal(t, 42, res.Output)

	state, _ = r.State(id)
	assert.Equal(t, StateClosed, state)
}

func TestReOpenFails(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{}
	_, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	// A session id is unique per Open; "re-open" at the registry level is
	// expressed by the plan executor's single-Open rule (see plan_test.go).
	// Here we verify Open against an unregistered tool fails distinctly.
	_, err = r.Open(context.Background(), "missing/tool", h)
	assert.Error(t, err)
}

func TestDoubleSendFails(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{}
	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), id, 1))
	assert.Error(t, r.Send(context.Background(), id, 2))
}

func TestClosedSessionRejectsSendAndNext(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{}
	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	require.NoError(t, r.Abort(context.Background(), id, "test"))

	assert.Error(t, r.Send(context.Background(), id, 1))
	_, err = r.Next(context.Background(), id)
	assert.Error(t, err)
}

func TestFinishAndAbortOnClosedAreNoOps(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{}
	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	require.NoError(t, r.Abort(context.Background(), id, "first"))

	assert.NoError(t, r.Finish(context.Background(), id))
	assert.NoError(t, r.Abort(context.Background(), id, "second"))
	assert.Equal(t, "first", h.aborted)
}

func TestNextStreamingLeavesSessionReady(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{results: []NextResult{
		{Outcome: NextStreaming, Output: "chunk1"},
		{Outcome: NextDone, Output: "final"},
	}}
	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	require.NoError(t, r.Send(context.Background(), id, nil))

	res, err := r.Next(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, NextStreaming, res.Outcome)
	state, _ := r.State(id)
	assert.Equal(t, StateReady, state)

	res, err = r.Next(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, NextDone, res.Outcome)
	state, _ = r.State(id)
	assert.Equal(t, StateClosed, state)
}

func TestDropAborts(t *testing.T) {
	r := registryWithTool(t, "a/b")
	h := &fakeHandler{}
	id, err := r.Open(context.Background(), "a/b", h)
	require.NoError(t, err)
	r.Drop(context.Background(), id)
	assert.Equal(t, "session dropped", h.aborted)
}

func TestUnknownSessionIdErrors(t *testing.T) {
	r := NewRegistry(nil)
	bogus := ids.NewToolSessionId()
	assert.Error(t, r.Send(context.Background(), bogus, 1))
	_, err := r.Next(context.Background(), bogus)
	assert.Error(t, err)
	assert.Error(t, r.Finish(context.Background(), bogus))
}
