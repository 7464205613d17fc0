// Package event defines the immutable ProvEvent variants produced by the
// agent runtime (LLM calls, tool invocations, messages, task transitions).
// Events are a closed, sealed union: every concrete type implements Event
// and is constructed only through the New* factories in this package, which
// enforce the scope/kind agreement invariants the normalizer later checks.
package event

import (
	"goa.design/agenthost/internal/ids"
)

// Kind enumerates the closed set of event kinds.
type Kind string

const (
	KindAgentBooted           Kind = "AgentBooted"
	KindTaskCreated           Kind = "TaskCreated"
	KindTaskStatusChanged     Kind = "TaskStatusChanged"
	KindTaskArtifactGenerated Kind = "TaskArtifactGenerated"
	KindMessageReceived       Kind = "MessageReceived"
	KindMessageSent           Kind = "MessageSent"
	KindLlmCallStarted        Kind = "LlmCallStarted"
	KindLlmCallCompleted      Kind = "LlmCallCompleted"
	KindToolCallStarted       Kind = "ToolCallStarted"
	KindToolCallCompleted     Kind = "ToolCallCompleted"
)

// ScopeKind distinguishes the two CallScope variants a Llm/Tool event's
// scope may carry.
type ScopeKind string

const (
	ScopeMessage ScopeKind = "message"
	ScopeTask    ScopeKind = "task"
)

// CallScope is the scope a Llm/Tool call event was emitted under. Global
// events (no task) must carry a Message scope; task events must carry a
// Task scope whose TaskID matches the event's own TaskID.
type CallScope struct {
	Kind      ScopeKind
	MessageID ids.MessageId
	TaskID    ids.TaskId
}

// MessageScope builds a CallScope rooted at a message (used by global
// events — the ones with no enclosing task).
func MessageScope(msg ids.MessageId) CallScope {
	return CallScope{Kind: ScopeMessage, MessageID: msg}
}

// TaskScope builds a CallScope rooted at a task.
func TaskScope(task ids.TaskId) CallScope {
	return CallScope{Kind: ScopeTask, TaskID: task}
}

// Event is the sealed interface implemented by every concrete event type.
// ID is a fresh identity for every emission (even repeated emissions of
// "the same" logical occurrence get a new EventId — determinism lives in
// the derived node ids the normalizer computes from event contents, not in
// EventId itself).
type Event interface {
	ID() ids.EventId
	Kind() Kind
	// TaskID returns the event's task id and true if the event is
	// task-scoped; ("", false) for global events.
	TaskID() (ids.TaskId, bool)
}

type base struct {
	id   ids.EventId
	kind Kind
}

func (b base) ID() ids.EventId { return b.id }
func (b base) Kind() Kind      { return b.kind }

// taskBase is embedded by task-scoped event types.
type taskBase struct {
	base
	task ids.TaskId
}

func (t taskBase) TaskID() (ids.TaskId, bool) { return t.task, true }

// globalBase is embedded by global event types.
type globalBase struct{ base }

func (globalBase) TaskID() (ids.TaskId, bool) { return "", false }

type (
	// AgentBooted is a global event emitted once per agent boot.
	AgentBooted struct {
		globalBase
		AgentID     ids.AgentId
		PackageName string
		Version     string
	}

	// TaskCreated is emitted the first time a task is referenced.
	TaskCreated struct {
		taskBase
		AgentID ids.AgentId
	}

	// TaskStatusChanged records a task status transition. Old is nil for the
	// very first status on a task.
	TaskStatusChanged struct {
		taskBase
		Old         *string
		New         string
		TimestampMs int64
	}

	// TaskArtifactGenerated records an artifact append/update on a task.
	TaskArtifactGenerated struct {
		taskBase
		ArtifactID   ids.ArtifactId
		ArtifactType string
	}

	// MessageReceived records an inbound message. AgentID corresponds to
	// metadata.agent_id and is mandatory — the normalizer rejects events
	// lacking it.
	MessageReceived struct {
		base
		task      *ids.TaskId
		MessageID ids.MessageId
		AgentID   ids.AgentId
	}

	// MessageSent records an outbound message.
	MessageSent struct {
		base
		task      *ids.TaskId
		MessageID ids.MessageId
		AgentID   ids.AgentId
	}

	// LlmCallStarted records the start of an LLM invocation. CallID is
	// shared with the matching LlmCallCompleted so the normalizer derives
	// both halves of the call onto the same a2a:LlmCall activity node
	// (llm_call:<call_id>, not llm_call:<event_id> — event ids are unique
	// per emission, but Started/Completed describe one call).
	LlmCallStarted struct {
		base
		task   *ids.TaskId
		CallID ids.EventId
		Scope  CallScope
		Agent  *ids.AgentId
		Prompt string
	}

	// LlmCallCompleted records the completion (success or failure) of an LLM
	// invocation. Prompt is repeated from the originating Started event so
	// the activity's USED-role=prompt edge is derivable from this
	// event alone, without the normalizer needing to remember Started.
	LlmCallCompleted struct {
		base
		task    *ids.TaskId
		CallID  ids.EventId
		Scope   CallScope
		Agent   *ids.AgentId
		Prompt  string
		Result  string
		Failure string
	}

	// ToolCallStarted records the start of a tool invocation. CallID plays
	// the same role as LlmCallStarted.CallID.
	ToolCallStarted struct {
		base
		task     *ids.TaskId
		CallID   ids.EventId
		Scope    CallScope
		Agent    *ids.AgentId
		ToolName string
		Args     string
	}

	// ToolCallCompleted records the completion (success or failure) of a
	// tool invocation. Args is repeated from the originating Started event,
	// for the same reason as LlmCallCompleted.Prompt.
	ToolCallCompleted struct {
		base
		task     *ids.TaskId
		CallID   ids.EventId
		Scope    CallScope
		Agent    *ids.AgentId
		ToolName string
		Args     string
		Output   string
		Failure  string
	}
)

func (m MessageReceived) TaskID() (ids.TaskId, bool) {
	if m.task == nil {
		return "", false
	}
	return *m.task, true
}

func (m MessageSent) TaskID() (ids.TaskId, bool) {
	if m.task == nil {
		return "", false
	}
	return *m.task, true
}

func (e LlmCallStarted) TaskID() (ids.TaskId, bool) {
	if e.task == nil {
		return "", false
	}
	return *e.task, true
}

func (e LlmCallCompleted) TaskID() (ids.TaskId, bool) {
	if e.task == nil {
		return "", false
	}
	return *e.task, true
}

func (e ToolCallStarted) TaskID() (ids.TaskId, bool) {
	if e.task == nil {
		return "", false
	}
	return *e.task, true
}

func (e ToolCallCompleted) TaskID() (ids.TaskId, bool) {
	if e.task == nil {
		return "", false
	}
	return *e.task, true
}

// NewAgentBooted constructs an AgentBooted event.
func NewAgentBooted(id ids.EventId, agent ids.AgentId, pkg, version string) AgentBooted {
	return AgentBooted{
		globalBase:  globalBase{base{id: id, kind: KindAgentBooted}},
		AgentID:     agent,
		PackageName: pkg,
		Version:     version,
	}
}

// NewTaskCreated constructs a TaskCreated event.
func NewTaskCreated(id ids.EventId, task ids.TaskId, agent ids.AgentId) TaskCreated {
	return TaskCreated{
		taskBase: taskBase{base{id: id, kind: KindTaskCreated}, task},
		AgentID:  agent,
	}
}

// NewTaskStatusChanged constructs a TaskStatusChanged event.
func NewTaskStatusChanged(id ids.EventId, task ids.TaskId, old *string, newState string, timestampMs int64) TaskStatusChanged {
	return TaskStatusChanged{
		taskBase:    taskBase{base{id: id, kind: KindTaskStatusChanged}, task},
		Old:         old,
		New:         newState,
		TimestampMs: timestampMs,
	}
}

// NewTaskArtifactGenerated constructs a TaskArtifactGenerated event.
func NewTaskArtifactGenerated(id ids.EventId, task ids.TaskId, artifactID ids.ArtifactId, artifactType string) TaskArtifactGenerated {
	return TaskArtifactGenerated{
		taskBase:     taskBase{base{id: id, kind: KindTaskArtifactGenerated}, task},
		ArtifactID:   artifactID,
		ArtifactType: artifactType,
	}
}

// NewMessageReceived constructs a MessageReceived event. task is nil for
// messages that do not (yet) belong to a task.
func NewMessageReceived(id ids.EventId, msg ids.MessageId, agent ids.AgentId, task *ids.TaskId) MessageReceived {
	return MessageReceived{
		base:      base{id: id, kind: KindMessageReceived},
		task:      task,
		MessageID: msg,
		AgentID:   agent,
	}
}

// NewMessageSent constructs a MessageSent event.
func NewMessageSent(id ids.EventId, msg ids.MessageId, agent ids.AgentId, task *ids.TaskId) MessageSent {
	return MessageSent{
		base:      base{id: id, kind: KindMessageSent},
		task:      task,
		MessageID: msg,
		AgentID:   agent,
	}
}

// NewLlmCallStarted constructs a LlmCallStarted event for callID (shared
// with the matching LlmCallCompleted).
func NewLlmCallStarted(id, callID ids.EventId, scope CallScope, agent *ids.AgentId, prompt string) LlmCallStarted {
	e := LlmCallStarted{base: base{id: id, kind: KindLlmCallStarted}, CallID: callID, Scope: scope, Agent: agent, Prompt: prompt}
	if scope.Kind == ScopeTask {
		t := scope.TaskID
		e.task = &t
	}
	return e
}

// NewLlmCallCompleted constructs a LlmCallCompleted event for callID
// (shared with the matching LlmCallStarted).
func NewLlmCallCompleted(id, callID ids.EventId, scope CallScope, agent *ids.AgentId, prompt, result, failure string) LlmCallCompleted {
	e := LlmCallCompleted{base: base{id: id, kind: KindLlmCallCompleted}, CallID: callID, Scope: scope, Agent: agent, Prompt: prompt, Result: result, Failure: failure}
	if scope.Kind == ScopeTask {
		t := scope.TaskID
		e.task = &t
	}
	return e
}

// NewToolCallStarted constructs a ToolCallStarted event for callID (shared
// with the matching ToolCallCompleted).
func NewToolCallStarted(id, callID ids.EventId, scope CallScope, agent *ids.AgentId, toolName, args string) ToolCallStarted {
	e := ToolCallStarted{base: base{id: id, kind: KindToolCallStarted}, CallID: callID, Scope: scope, Agent: agent, ToolName: toolName, Args: args}
	if scope.Kind == ScopeTask {
		t := scope.TaskID
		e.task = &t
	}
	return e
}

// NewToolCallCompleted constructs a ToolCallCompleted event for callID
// (shared with the matching ToolCallStarted).
func NewToolCallCompleted(id, callID ids.EventId, scope CallScope, agent *ids.AgentId, toolName, args, output, failure string) ToolCallCompleted {
	e := ToolCallCompleted{base: base{id: id, kind: KindToolCallCompleted}, CallID: callID, Scope: scope, Agent: agent, ToolName: toolName, Args: args, Output: output, Failure: failure}
	if scope.Kind == ScopeTask {
		t := scope.TaskID
		e.task = &t
	}
	return e
}
