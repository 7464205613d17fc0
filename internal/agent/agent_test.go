package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/a2a"
	"goa.design/agenthost/internal/external"
	"goa.design/agenthost/internal/graphstore/memstore"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/prov/event"
	"goa.design/agenthost/internal/taskstore"
)

type fakeBridge struct {
	calls []string
}

func (b *fakeBridge) Invoke(_ context.Context, functionName string, _ any) (any, error) {
	b.calls = append(b.calls, functionName)
	return map[string]any{}, nil
}

type fakeExecutor struct {
	got external.LlmRequest
	err error
}

func (e *fakeExecutor) Complete(_ context.Context, req external.LlmRequest) (external.LlmResponse, error) {
	e.got = req
	if e.err != nil {
		return external.LlmResponse{}, e.err
	}
	return external.LlmResponse{Text: "pong", StopReason: "end_turn", Usage: external.LlmUsage{InputTokens: 3, OutputTokens: 1}}, nil
}

type fixedClock struct {
	millis  int64
	counter uint64
}

func (c *fixedClock) Now() (int64, uint64) {
	c.counter++
	return c.millis, c.counter
}

func testPackage() external.AgentPackage {
	return external.AgentPackage{Name: "solo", Version: "1.0.0", EntryPoint: external.DefaultEntryPoint, Signature: "sig", Tools: []string{}}
}

func buildTestAgent(t *testing.T) (*Agent, *memstore.Store) {
	t.Helper()
	a, store, _ := buildTestAgentWith(t, nil)
	return a, store
}

func buildTestAgentWith(t *testing.T, executor external.LlmExecutor) (*Agent, *memstore.Store, *fakeBridge) {
	t.Helper()
	store := memstore.New()
	bridge := &fakeBridge{}
	a, err := Build(context.Background(), Config{
		Package:    testPackage(),
		Bridge:     bridge,
		GraphStore: store,
		Executor:   executor,
		Clock:      &fixedClock{millis: 1000},
	})
	require.NoError(t, err)
	return a, store, bridge
}

func TestBuildEmitsAgentBooted(t *testing.T) {
	a, store := buildTestAgent(t)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "solo", a.Name)
	assert.Greater(t, store.NodeCount(), 0)
}

func TestDispatchCreatesTaskOnFirstReference(t *testing.T) {
	a, _ := buildTestAgent(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"message.send","params":{"message":{"messageId":"m1","role":"user","taskId":"t1","contextId":"ctx-1000-1","parts":[{"type":"text","text":"hi"}]}}}`)

	resp, err := a.Dispatch(context.Background(), raw, nopSink{})
	require.NoError(t, err)
	require.NotNil(t, resp)

	task := a.Tasks.Get("t1", nil)
	require.NotNil(t, task)
	assert.Equal(t, "pending", task.Status.State)
}

func TestDispatchDoesNotDuplicateExistingTask(t *testing.T) {
	a, _ := buildTestAgent(t)
	a.Tasks.Upsert(taskstore.Task{ID: "t1", Status: taskstore.Status{State: "working"}})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"message.send","params":{"message":{"messageId":"m1","role":"user","taskId":"t1","parts":[{"type":"text","text":"hi"}]}}}`)
	_, err := a.Dispatch(context.Background(), raw, nopSink{})
	require.NoError(t, err)

	task := a.Tasks.Get("t1", nil)
	require.NotNil(t, task)
	assert.Equal(t, "working", task.Status.State)
}

func TestUpdateTaskStatusRecordsOldState(t *testing.T) {
	a, _ := buildTestAgent(t)
	a.Tasks.Upsert(taskstore.Task{ID: "t1", Status: taskstore.Status{State: "pending"}})

	a.UpdateTaskStatus(context.Background(), "t1", "completed")

	task := a.Tasks.Get("t1", nil)
	require.NotNil(t, task)
	assert.Equal(t, "completed", task.Status.State)
}

func TestRunLLMCallRecordsFailureAndReturnsError(t *testing.T) {
	a, store := buildTestAgent(t)
	before := store.NodeCount()

	_, err := a.RunLLMCall(context.Background(), event.CallScope{Kind: event.ScopeMessage, MessageID: "m1"}, "prompt", func(context.Context) (string, error) {
		return "", assertErr
	})
	require.Error(t, err)
	assert.Greater(t, store.NodeCount(), before)
}

// TestDispatchLlmCompleteRunsExecutorAndRecordsProvenance drives the
// llm.complete method end to end through Dispatch: the configured executor
// answers, the result comes back as an agent message, and the LlmCall
// provenance pair lands in the graph store.
func TestDispatchLlmCompleteRunsExecutorAndRecordsProvenance(t *testing.T) {
	exec := &fakeExecutor{}
	a, store, bridge := buildTestAgentWith(t, exec)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"llm.complete","params":{"prompt":"ping","maxTokens":16}}`)
	resp, err := a.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	assert.Equal(t, "ping", exec.got.Prompt)
	assert.Equal(t, 16, exec.got.MaxTokens)
	assert.Empty(t, bridge.calls)

	data, _ := json.Marshal(resp.Result)
	var out struct {
		Message *a2a.WireMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Message)
	require.Len(t, out.Message.Parts, 1)
	assert.Equal(t, "pong", *out.Message.Parts[0].Text)

	// Event ids: prov-1 AgentBooted at Build, prov-2 the call id shared by
	// the Started/Completed pair.
	node, ok := store.Node(ids.LlmCallNodeName(ids.NewEventId(2)))
	require.True(t, ok)
	assert.Equal(t, "a2a:LlmCall", node.ProvType)
	assert.Equal(t, "pong", node.Props["result"])
}

// TestDispatchLlmCompleteWithoutExecutorFallsThroughToBridge: with no
// executor configured, llm.complete behaves like any other method and is
// dispatched to the JS bridge.
func TestDispatchLlmCompleteWithoutExecutorFallsThroughToBridge(t *testing.T) {
	a, _, bridge := buildTestAgentWith(t, nil)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"llm.complete","params":{"prompt":"ping"}}`)
	resp, err := a.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Contains(t, bridge.calls, "llm.complete")
}

// TestDispatchLlmCompleteRejectsMissingPrompt covers the native method's
// params validation.
func TestDispatchLlmCompleteRejectsMissingPrompt(t *testing.T) {
	a, _, _ := buildTestAgentWith(t, &fakeExecutor{})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"llm.complete","params":{}}`)
	resp, err := a.Dispatch(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

// TestInvokeLlmCompleteServedNatively: the CLI --invoke surface reaches
// the same native handler instead of the bridge.
func TestInvokeLlmCompleteServedNatively(t *testing.T) {
	exec := &fakeExecutor{}
	a, store, bridge := buildTestAgentWith(t, exec)
	before := store.NodeCount()

	out, err := a.Invoke(context.Background(), "llm.complete", `{"prompt":"ping"}`)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, bridge.calls)
	assert.Equal(t, "ping", exec.got.Prompt)
	assert.Greater(t, store.NodeCount(), before)
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

type nopSink struct{}

func (nopSink) Send(context.Context, a2a.JsonRpcResponse) error { return nil }
