package host

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/a2a"
	"goa.design/agenthost/internal/agent"
	"goa.design/agenthost/internal/external"
	"goa.design/agenthost/internal/graphstore/memstore"
)

type fakeBridge struct{}

func (fakeBridge) Invoke(_ context.Context, _ string, _ any) (any, error) {
	return map[string]any{}, nil
}

type fixedClock struct {
	millis  int64
	counter uint64
}

func (c *fixedClock) Now() (int64, uint64) {
	c.counter++
	return c.millis, c.counter
}

func buildAgent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	a, err := agent.Build(context.Background(), agent.Config{
		Package:    external.AgentPackage{Name: name, Version: "1.0.0", Signature: "sig", Tools: []string{}},
		Bridge:     fakeBridge{},
		GraphStore: memstore.New(),
		Clock:      &fixedClock{millis: 2000},
	})
	require.NoError(t, err)
	return a
}

func TestResolveAgentSingleFallback(t *testing.T) {
	solo := buildAgent(t, "solo")
	h, err := New([]*agent.Agent{solo}, &fixedClock{millis: 1})
	require.NoError(t, err)

	resolved, err := h.ResolveAgent([]byte(`{"jsonrpc":"2.0","method":"message.send","params":{}}`))
	require.NoError(t, err)
	assert.Same(t, solo, resolved)
}

func TestResolveAgentRequiresHintWithMultipleAgents(t *testing.T) {
	a1 := buildAgent(t, "alpha")
	a2 := buildAgent(t, "beta")
	h, err := New([]*agent.Agent{a1, a2}, &fixedClock{millis: 1})
	require.NoError(t, err)

	_, err = h.ResolveAgent([]byte(`{"jsonrpc":"2.0","method":"message.send","params":{}}`))
	assert.Error(t, err)
}

func TestResolveAgentByMethodPrefix(t *testing.T) {
	a1 := buildAgent(t, "alpha")
	a2 := buildAgent(t, "beta")
	h, err := New([]*agent.Agent{a1, a2}, &fixedClock{millis: 1})
	require.NoError(t, err)

	resolved, err := h.ResolveAgent([]byte(`{"jsonrpc":"2.0","method":"beta::message.send","params":{}}`))
	require.NoError(t, err)
	assert.Same(t, a2, resolved)
}

func TestResolveAgentByParamsAgent(t *testing.T) {
	a1 := buildAgent(t, "alpha")
	a2 := buildAgent(t, "beta")
	h, err := New([]*agent.Agent{a1, a2}, &fixedClock{millis: 1})
	require.NoError(t, err)

	resolved, err := h.ResolveAgent([]byte(`{"jsonrpc":"2.0","method":"message.send","params":{"agent":"alpha"}}`))
	require.NoError(t, err)
	assert.Same(t, a1, resolved)
}

func TestResolveAgentByMessageMetadata(t *testing.T) {
	a1 := buildAgent(t, "alpha")
	a2 := buildAgent(t, "beta")
	h, err := New([]*agent.Agent{a1, a2}, &fixedClock{millis: 1})
	require.NoError(t, err)

	resolved, err := h.ResolveAgent([]byte(`{"jsonrpc":"2.0","method":"message.send","params":{"message":{"metadata":{"agent":"beta"}}}}`))
	require.NoError(t, err)
	assert.Same(t, a2, resolved)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	a1 := buildAgent(t, "dup")
	a2 := buildAgent(t, "dup")
	_, err := New([]*agent.Agent{a1, a2}, &fixedClock{millis: 1})
	assert.Error(t, err)
}

func TestRunWrapsPlaintextLine(t *testing.T) {
	solo := buildAgent(t, "solo")
	h, err := New([]*agent.Agent{solo}, &fixedClock{millis: 3000})
	require.NoError(t, err)

	in := strings.NewReader("hello there\n")
	var out bytes.Buffer
	err = h.Run(context.Background(), in, &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"jsonrpc"`)
}

func TestRunHandlesJSONRequest(t *testing.T) {
	solo := buildAgent(t, "solo")
	h, err := New([]*agent.Agent{solo}, &fixedClock{millis: 3000})
	require.NoError(t, err)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"message.send","params":{"message":{"messageId":"m1","role":"user","parts":[{"type":"text","text":"hi"}]}}}` + "\n")
	var out bytes.Buffer
	err = h.Run(context.Background(), in, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"jsonrpc"`)
}

func TestLooksLikeJSONObject(t *testing.T) {
	assert.True(t, looksLikeJSONObject([]byte(`{"a":1}`)))
	assert.False(t, looksLikeJSONObject([]byte(`plain text`)))
	assert.False(t, looksLikeJSONObject([]byte(`[1,2,3]`)))
}

var _ a2a.StreamSink = (*lineSink)(nil)
