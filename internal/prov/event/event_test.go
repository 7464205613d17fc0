package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/ids"
)

func TestAgentBootedIsGlobal(t *testing.T) {
	e := NewAgentBooted(ids.NewEventId(1), ids.NewAgentId(), "demo", "1.0.0")
	_, ok := e.TaskID()
	assert.False(t, ok)
	assert.Equal(t, KindAgentBooted, e.Kind())
}

func TestTaskCreatedIsTaskScoped(t *testing.T) {
	task := ids.TaskId("task-1")
	e := NewTaskCreated(ids.NewEventId(1), task, ids.NewAgentId())
	got, ok := e.TaskID()
	require.True(t, ok)
	assert.Equal(t, task, got)
}

func TestMessageEventsCarryOptionalTask(t *testing.T) {
	agent := ids.NewAgentId()
	received := NewMessageReceived(ids.NewEventId(1), ids.MessageId("m1"), agent, nil)
	_, ok := received.TaskID()
	assert.False(t, ok)

	task := ids.TaskId("task-1")
	receivedWithTask := NewMessageReceived(ids.NewEventId(2), ids.MessageId("m2"), agent, &task)
	got, ok := receivedWithTask.TaskID()
	require.True(t, ok)
	assert.Equal(t, task, got)
}

func TestLlmCallEventDerivesTaskFromTaskScope(t *testing.T) {
	task := ids.TaskId("task-1")
	agent := ids.NewAgentId()
	started := NewLlmCallStarted(ids.NewEventId(1), ids.NewEventId(1), TaskScope(task), &agent, "prompt")
	got, ok := started.TaskID()
	require.True(t, ok)
	assert.Equal(t, task, got)
	assert.Equal(t, ScopeTask, started.Scope.Kind)
}

func TestLlmCallEventWithMessageScopeIsGlobal(t *testing.T) {
	agent := ids.NewAgentId()
	started := NewLlmCallStarted(ids.NewEventId(1), ids.NewEventId(1), MessageScope(ids.MessageId("m1")), &agent, "prompt")
	_, ok := started.TaskID()
	assert.False(t, ok)
}

func TestToolCallEventRoundTripsFields(t *testing.T) {
	task := ids.TaskId("task-1")
	agent := ids.NewAgentId()
	completed := NewToolCallCompleted(ids.NewEventId(1), ids.NewEventId(1), TaskScope(task), &agent, "bundle/tool", "args", "output", "")
	assert.Equal(t, KindToolCallCompleted, completed.Kind())
	assert.Equal(t, "bundle/tool", completed.ToolName)
	assert.Equal(t, "output", completed.Output)
	assert.Empty(t, completed.Failure)
}

func TestEventIdentitiesAreDistinctAcrossEvents(t *testing.T) {
	a := NewTaskCreated(ids.NewEventId(1), ids.TaskId("t"), ids.NewAgentId())
	b := NewTaskCreated(ids.NewEventId(2), ids.TaskId("t"), ids.NewAgentId())
	assert.NotEqual(t, a.ID(), b.ID())
}
