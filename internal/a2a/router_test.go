package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/taskstore"
)

type fakeBridge struct {
	result any
	err    error
	calls  []string
}

func (b *fakeBridge) Invoke(_ context.Context, functionName string, _ any) (any, error) {
	b.calls = append(b.calls, functionName)
	return b.result, b.err
}

type recordingSink struct {
	responses []JsonRpcResponse
}

func (s *recordingSink) Send(_ context.Context, resp JsonRpcResponse) error {
	s.responses = append(s.responses, resp)
	return nil
}

type fixedClock struct {
	millis  int64
	counter uint64
}

func (c *fixedClock) Now() (int64, uint64) {
	c.counter++
	return c.millis, c.counter
}

func newTestRouter(bridge *fakeBridge) *Router {
	return New("solo", ids.NewAgentId(), taskstore.New(), bridge, NewMemDeduplicator(), &fixedClock{millis: 1000})
}

// TestMessageSendWrapsBridgeResultAsUnaryResponse checks the unary message
// path: the bridge's result is returned verbatim as `result`.
func TestMessageSendWrapsBridgeResultAsUnaryResponse(t *testing.T) {
	bridge := &fakeBridge{result: map[string]any{"message": map[string]any{"role": "agent", "parts": []any{map[string]any{"type": "text", "text": "pong"}}}}}
	ro := newTestRouter(bridge)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"message.send","params":{"message":{"role":"user","parts":[{"type":"text","text":"ping"}]}}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var br bridgeResult
	require.NoError(t, json.Unmarshal(data, &br))
	require.NotNil(t, br.Message)
	require.Len(t, br.Message.Parts, 1)
	assert.Equal(t, "pong", *br.Message.Parts[0].Text)
}

// TestMalformedJSONYieldsParseError covers the -32700/-32602 parse path.
func TestMalformedJSONYieldsParseError(t *testing.T) {
	ro := newTestRouter(&fakeBridge{})
	resp, err := ro.Dispatch(context.Background(), []byte(`not json`), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestMissingMethodIsInvalidParams covers the missing-method branch.
func TestMissingMethodIsInvalidParams(t *testing.T) {
	ro := newTestRouter(&fakeBridge{})
	resp, err := ro.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1}`), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestMalformedCorrelationIDRejected pins step 2 of the request pipeline:
// a caller-supplied correlationId is re-validated, and a malformed one
// fails the request rather than being silently replaced.
func TestMalformedCorrelationIDRejected(t *testing.T) {
	ro := newTestRouter(&fakeBridge{})
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"agent.card","params":{"correlationId":"not-a-correlation-id"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestErrorClassifierMapsKindsToJsonRpcCodes pins the error-kind to
// JSON-RPC code mapping.
func TestErrorClassifierMapsKindsToJsonRpcCodes(t *testing.T) {
	cases := []struct {
		kind errs.Kind
		code int
	}{
		{errs.InvalidArgument, -32602},
		{errs.FunctionNotFound, -32601},
		{errs.ExecutionFailed, -32000},
		{errs.ProvenanceInvalid, -32603},
		{errs.StorageError, -32603},
	}
	for _, c := range cases {
		got := classifyError(errs.New(c.kind, "boom"))
		assert.Equal(t, c.code, got.Code, "kind %s", c.kind)
	}
	// Opaque, non-*errs.Error errors default via errs.KindOf to
	// ExecutionFailed (reported as a script error).
	assert.Equal(t, -32000, classifyError(errors.New("opaque")).Code)
}

// TestClassifyMethodStripsStreamSuffixAndOwnAgentPrefix pins the method
// classification table.
func TestClassifyMethodStripsStreamSuffixAndOwnAgentPrefix(t *testing.T) {
	base, stream := classifyMethod("tasks.subscribe", "solo")
	assert.Equal(t, "tasks.subscribe", base)
	assert.True(t, stream)

	base, stream = classifyMethod("custom.func/stream", "solo")
	assert.Equal(t, "custom.func", base)
	assert.True(t, stream)

	base, stream = classifyMethod("solo::custom.func", "solo")
	assert.Equal(t, "custom.func", base)
	assert.False(t, stream)

	// A plain dotted protocol method must NOT be misparsed as agent-prefixed
	// when the prefix segment doesn't match this router's own agent name.
	base, stream = classifyMethod("message.send", "solo")
	assert.Equal(t, "message.send", base)
	assert.False(t, stream)
}

// TestTasksGetRoundTripsThroughStore covers tasks.get against a real
// taskstore.Store, including unknown-task rejection.
func TestTasksGetRoundTripsThroughStore(t *testing.T) {
	store := taskstore.New()
	store.Upsert(taskstore.Task{ID: ids.TaskId("t1"), Status: taskstore.Status{State: "working", Timestamp: "2026-01-01T00:00:00Z"}})
	ro := New("solo", ids.NewAgentId(), store, &fakeBridge{}, NewMemDeduplicator(), &fixedClock{millis: 1000})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tasks.get","params":{"id":"t1"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	raw = []byte(`{"jsonrpc":"2.0","id":2,"method":"tasks.get","params":{"id":"unknown"}}`)
	resp, err = ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestTasksCancelTransitionsState pins tasks.cancel's effect on the store.
func TestTasksCancelTransitionsState(t *testing.T) {
	store := taskstore.New()
	store.Upsert(taskstore.Task{ID: ids.TaskId("t1"), Status: taskstore.Status{State: "working"}})
	ro := New("solo", ids.NewAgentId(), store, &fakeBridge{}, NewMemDeduplicator(), &fixedClock{millis: 1000})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tasks.cancel","params":{"id":"t1"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	got := store.Get(ids.TaskId("t1"), nil)
	require.NotNil(t, got)
	assert.Equal(t, "cancelled", got.Status.State)
}

// TestTasksSubscribeStreamsDrainedUpdatesAsChunks verifies tasks.subscribe
// streams each queued update in the task's update queue as its own chunk.
func TestTasksSubscribeStreamsDrainedUpdatesAsChunks(t *testing.T) {
	store := taskstore.New()
	store.Upsert(taskstore.Task{ID: ids.TaskId("t1")})
	store.RecordStatusUpdate(ids.TaskId("t1"), nil, taskstore.Status{State: "working", Timestamp: "t1"})
	store.RecordStatusUpdate(ids.TaskId("t1"), nil, taskstore.Status{State: "completed", Timestamp: "t2"})

	ro := New("solo", ids.NewAgentId(), store, &fakeBridge{}, NewMemDeduplicator(), &fixedClock{millis: 1000})
	sink := &recordingSink{}

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tasks.subscribe","params":{"id":"t1"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, sink)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.Len(t, sink.responses, 2)
}

// TestTasksSubscribeDropsIdenticalRepeatedChunk: two identical status
// updates queued back to back collapse into a single emitted chunk,
// preserving first-occurrence order.
func TestTasksSubscribeDropsIdenticalRepeatedChunk(t *testing.T) {
	store := taskstore.New()
	store.Upsert(taskstore.Task{ID: ids.TaskId("t1")})
	store.RecordStatusUpdate(ids.TaskId("t1"), nil, taskstore.Status{State: "working", Timestamp: "t1"})
	store.RecordStatusUpdate(ids.TaskId("t1"), nil, taskstore.Status{State: "working", Timestamp: "t1"})

	ro := New("solo", ids.NewAgentId(), store, &fakeBridge{}, NewMemDeduplicator(), &fixedClock{millis: 1000})
	sink := &recordingSink{}

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tasks.subscribe","params":{"id":"t1"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, sink)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.Len(t, sink.responses, 1)
}

// TestStreamingMethodWithoutSinkIsRejected covers the sink precondition.
func TestStreamingMethodWithoutSinkIsRejected(t *testing.T) {
	ro := newTestRouter(&fakeBridge{})
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tasks.subscribe","params":{"id":"t1"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestDeduplicatorDropsRepeatedContentHash: SeenBefore returns false
// exactly once per key.
func TestDeduplicatorDropsRepeatedContentHash(t *testing.T) {
	d := NewMemDeduplicator()
	seen1, err := d.SeenBefore(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, seen1)

	seen2, err := d.SeenBefore(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, seen2)

	seen3, err := d.SeenBefore(context.Background(), "k2")
	require.NoError(t, err)
	assert.False(t, seen3)
}

type fakeNative struct {
	method string
	result any
	calls  []string
}

func (n *fakeNative) InvokeNative(_ context.Context, method string, _ any) (any, bool, error) {
	n.calls = append(n.calls, method)
	if method != n.method {
		return nil, false, nil
	}
	return n.result, true, nil
}

// TestNativeInvokerIsConsultedBeforeBridge: a method the native handler
// claims never reaches the bridge; unclaimed methods fall through.
func TestNativeInvokerIsConsultedBeforeBridge(t *testing.T) {
	bridge := &fakeBridge{result: map[string]any{}}
	ro := newTestRouter(bridge)
	native := &fakeNative{method: "llm.complete", result: map[string]any{"message": map[string]any{"role": "agent", "parts": []any{map[string]any{"type": "text", "text": "pong"}}}}}
	ro.SetNative(native)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"llm.complete","params":{"prompt":"ping"}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Empty(t, bridge.calls)

	raw = []byte(`{"jsonrpc":"2.0","id":2,"method":"custom.other","params":{}}`)
	_, err = ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Contains(t, native.calls, "custom.other")
	assert.Contains(t, bridge.calls, "custom.other")
}

// TestFunctionNotFoundBridgeErrorPropagatesCode covers dispatch to an
// unregistered custom method.
func TestFunctionNotFoundBridgeErrorPropagatesCode(t *testing.T) {
	bridge := &fakeBridge{err: errs.New(errs.FunctionNotFound, "no such function")}
	ro := newTestRouter(bridge)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"custom.doThing","params":{}}`)
	resp, err := ro.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
	assert.Contains(t, bridge.calls, "custom.doThing")
}
