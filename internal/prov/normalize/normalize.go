package normalize

import (
	"sync"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/prov/event"
)

// taskInfo is the per-task bookkeeping the normalizer keeps to resolve
// call attribution (a task's owning agent is recorded at TaskCreated or
// when a message with a task_id is processed) and to find the previous
// TaskState node for a status transition's WasDerivedFrom edge. Neither is
// derivable from the agent registry alone.
type taskInfo struct {
	agentID ids.AgentId
	// currentStateEvent/previousStateEvent track the last two distinct
	// status-change event ids seen for this task, so a delivery retry of
	// currentStateEvent resolves to the same predecessor instead of
	// chaining onto itself.
	currentStateEvent  ids.EventId
	hasCurrentState    bool
	previousStateEvent ids.EventId
	hasPreviousState   bool
	terminated         bool
}

// Normalizer holds the guarded mutable state the pure normalize functions
// need: the set of agents seen via AgentBooted (the agent registry) and
// the per-task attribution map described above.
type Normalizer struct {
	mu       sync.Mutex
	agents   map[ids.AgentId]bool
	tasks    map[ids.TaskId]*taskInfo
	messages map[ids.MessageId]ids.AgentId
}

// New constructs an empty Normalizer.
func New() *Normalizer {
	return &Normalizer{
		agents:   make(map[ids.AgentId]bool),
		tasks:    make(map[ids.TaskId]*taskInfo),
		messages: make(map[ids.MessageId]ids.AgentId),
	}
}

func (n *Normalizer) knowsAgent(agent ids.AgentId) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.agents[agent]
}

func (n *Normalizer) registerAgent(agent ids.AgentId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.agents[agent] = true
}

func (n *Normalizer) taskInfoFor(task ids.TaskId) *taskInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	ti, ok := n.tasks[task]
	if !ok {
		ti = &taskInfo{}
		n.tasks[task] = ti
	}
	return ti
}

func (n *Normalizer) agentForTask(task ids.TaskId) (ids.AgentId, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ti, ok := n.tasks[task]
	if !ok || ti.agentID == "" {
		return "", false
	}
	return ti.agentID, true
}

// validateEvent is the validation gate: it rejects events before any
// normalization is attempted.
func (n *Normalizer) validateEvent(e event.Event) error {
	switch ev := e.(type) {
	case event.MessageReceived:
		if ev.AgentID == "" {
			return errs.New(errs.ProvenanceInvalid, "message event missing metadata.agent_id")
		}
		return n.requireKnownAgent(ev.AgentID)
	case event.MessageSent:
		if ev.AgentID == "" {
			return errs.New(errs.ProvenanceInvalid, "message event missing metadata.agent_id")
		}
		return n.requireKnownAgent(ev.AgentID)
	case event.TaskCreated:
		return n.requireKnownAgent(ev.AgentID)
	case event.LlmCallStarted:
		return n.validateCallScope(ev.Scope, taskPtr(ev), ev.Agent)
	case event.LlmCallCompleted:
		return n.validateCallScope(ev.Scope, taskPtr(ev), ev.Agent)
	case event.ToolCallStarted:
		return n.validateCallScope(ev.Scope, taskPtr(ev), ev.Agent)
	case event.ToolCallCompleted:
		return n.validateCallScope(ev.Scope, taskPtr(ev), ev.Agent)
	}
	return nil
}

// taskPtr adapts event.Event's public TaskID() accessor to the *ids.TaskId
// shape the rest of this file works with; Llm/Tool event task fields are
// unexported in the event package so this method is the only way in.
func taskPtr(e event.Event) *ids.TaskId {
	if t, ok := e.TaskID(); ok {
		return &t
	}
	return nil
}

func (n *Normalizer) requireKnownAgent(agent ids.AgentId) error {
	if agent == "" || !n.knowsAgent(agent) {
		return errs.Newf(errs.ProvenanceInvalid, "agent %q is unknown to the normalizer's registry (no prior AgentBooted)", agent)
	}
	return nil
}

// validateCallScope rejects LLM/Tool events whose CallScope disagrees with
// the event's own kind: global events (task == nil) must carry a Message
// scope; task events must carry a Task scope whose TaskID matches.
func (n *Normalizer) validateCallScope(scope event.CallScope, task *ids.TaskId, agent *ids.AgentId) error {
	if task == nil {
		if scope.Kind != event.ScopeMessage {
			return errs.New(errs.ProvenanceInvalid, "global llm/tool call event must carry a Message CallScope")
		}
	} else {
		if scope.Kind != event.ScopeTask || scope.TaskID != *task {
			return errs.New(errs.ProvenanceInvalid, "task-scoped llm/tool call event must carry a matching Task CallScope")
		}
	}
	if agent != nil {
		return n.requireKnownAgent(*agent)
	}
	return nil
}

// Normalize runs the validation gate and, on success, normalizes e into a
// NormalizedProv. It is the sole entry point callers use.
func (n *Normalizer) Normalize(e event.Event) (*NormalizedProv, error) {
	if err := n.validateEvent(e); err != nil {
		return nil, err
	}
	switch ev := e.(type) {
	case event.AgentBooted:
		return n.normalizeAgentBooted(ev), nil
	case event.TaskCreated:
		return n.normalizeTaskCreated(ev), nil
	case event.TaskStatusChanged:
		return n.normalizeTaskStatusChanged(ev), nil
	case event.TaskArtifactGenerated:
		return n.normalizeTaskArtifactGenerated(ev), nil
	case event.MessageReceived:
		return n.normalizeMessage(ev.ID(), ev.MessageID, ev.AgentID, taskPtr(ev), true), nil
	case event.MessageSent:
		return n.normalizeMessage(ev.ID(), ev.MessageID, ev.AgentID, taskPtr(ev), false), nil
	case event.LlmCallStarted:
		return n.normalizeCall(callInput{
			eventID: ev.ID(), callID: ev.CallID, scope: ev.Scope, task: taskPtr(ev), agent: ev.Agent,
			provType: provLlmCall, promptArgsRole: "prompt", promptArgsNode: provPrompt,
			promptArgsValue: ev.Prompt, props: map[string]any{"prompt": ev.Prompt},
		}), nil
	case event.LlmCallCompleted:
		failure := ev.Failure
		return n.normalizeCall(callInput{
			eventID: ev.ID(), callID: ev.CallID, scope: ev.Scope, task: taskPtr(ev), agent: ev.Agent,
			provType: provLlmCall, promptArgsRole: "prompt", promptArgsNode: provPrompt,
			promptArgsValue: ev.Prompt, props: map[string]any{"prompt": ev.Prompt, "result": ev.Result, "failure": failure},
		}), nil
	case event.ToolCallStarted:
		return n.normalizeCall(callInput{
			eventID: ev.ID(), callID: ev.CallID, scope: ev.Scope, task: taskPtr(ev), agent: ev.Agent,
			provType: provToolCall, promptArgsRole: "args", promptArgsNode: provArgs,
			promptArgsValue: ev.Args, props: map[string]any{"tool_name": ev.ToolName, "args": ev.Args},
		}), nil
	case event.ToolCallCompleted:
		return n.normalizeCall(callInput{
			eventID: ev.ID(), callID: ev.CallID, scope: ev.Scope, task: taskPtr(ev), agent: ev.Agent,
			provType: provToolCall, promptArgsRole: "args", promptArgsNode: provArgs,
			promptArgsValue: ev.Args, props: map[string]any{"tool_name": ev.ToolName, "args": ev.Args, "output": ev.Output, "failure": ev.Failure},
		}), nil
	}
	return nil, errs.Newf(errs.ProvenanceInvalid, "unrecognized event kind %T", e)
}

// normalizeAgentBooted bootstraps an agent's provenance subgraph: Archive
// entity, AgentBoot activity, AgentRuntimeInstance agent, and the runner
// association.
func (n *Normalizer) normalizeAgentBooted(ev event.AgentBooted) *NormalizedProv {
	n.registerAgent(ev.AgentID)

	archive := archiveNode(ev.AgentID, ev.PackageName, ev.Version)
	boot := agentBootNode(ev.AgentID)
	instance := agentRuntimeInstanceNode(ev.AgentID)
	runner := runnerNode()

	doc := Document{
		Entities:   []Node{archive},
		Activities: []Node{boot},
		Agents:     []Node{instance, runner},
		Edges: []Edge{
			newEdge(RelUsed, boot.Name, archive.Name, "archive", "", nil, boot.Label, archive.Label),
			newEdge(RelWasGeneratedBy, instance.Name, boot.Name, "", "", nil, instance.Label, boot.Label),
			newEdge(RelWasAssociatedWith, boot.Name, runner.Name, "executing_agent", "", nil, boot.Label, runner.Label),
		},
	}
	return &NormalizedProv{Document: doc, AgentLabels: map[string]string{instance.Name: instance.Label, runner.Name: runner.Label}}
}

// normalizeTaskCreated attaches a new task entity to its TaskExecution
// activity with executing_agent and invoking_agent associations.
func (n *Normalizer) normalizeTaskCreated(ev event.TaskCreated) *NormalizedProv {
	task, _ := ev.TaskID()
	ti := n.taskInfoFor(task)
	n.mu.Lock()
	ti.agentID = ev.AgentID
	n.mu.Unlock()

	taskEntity := taskEntityNode(task, ev.AgentID)
	taskExec := taskExecutionNode(task, nil)
	instance := agentRuntimeInstanceNode(ev.AgentID)
	runner := runnerNode()

	doc := Document{
		Entities:   []Node{taskEntity},
		Activities: []Node{taskExec},
		Agents:     []Node{instance, runner},
		Edges: []Edge{
			newEdge(RelWasAssociatedWith, taskExec.Name, instance.Name, "executing_agent", "", nil, taskExec.Label, instance.Label),
			newEdge(RelWasAssociatedWith, taskExec.Name, runner.Name, "invoking_agent", "", nil, taskExec.Label, runner.Label),
			newEdge(RelWasGeneratedBy, taskEntity.Name, taskExec.Name, "", "", nil, taskEntity.Label, taskExec.Label),
		},
	}
	return &NormalizedProv{Document: doc, AgentLabels: map[string]string{instance.Name: instance.Label, runner.Name: runner.Label}}
}

var terminalStates = map[string]bool{"completed": true, "failed": true, "cancelled": true}

// normalizeTaskStatusChanged records a TaskState entity, chains it to the
// previous state via WasDerivedFrom(type=status_transition), and on the
// first terminal state stamps end_time_ms on the TaskExecution exactly
// once.
func (n *Normalizer) normalizeTaskStatusChanged(ev event.TaskStatusChanged) *NormalizedProv {
	task, _ := ev.TaskID()
	ti := n.taskInfoFor(task)

	state := taskStateNode(task, ev.ID(), ev.New, ev.TimestampMs)

	n.mu.Lock()
	isRetry := ti.hasCurrentState && ti.currentStateEvent == ev.ID()
	if !isRetry {
		ti.previousStateEvent, ti.hasPreviousState = ti.currentStateEvent, ti.hasCurrentState
		ti.currentStateEvent, ti.hasCurrentState = ev.ID(), true
	}
	prevEvent, hasPrev := ti.previousStateEvent, ti.hasPreviousState
	agentID := ti.agentID
	markTerminal := terminalStates[ev.New]
	alreadyTerminated := ti.terminated
	var endTime *int64
	if markTerminal && (!alreadyTerminated || isRetry) {
		ti.terminated = true
		t := ev.TimestampMs
		endTime = &t
	}
	n.mu.Unlock()

	taskEntity := taskEntityNode(task, agentID)

	taskExec := taskExecutionNode(task, endTime)

	doc := Document{
		Entities:   []Node{state, taskEntity},
		Activities: []Node{taskExec},
		Edges: []Edge{
			newEdge(RelUsed, taskExec.Name, state.Name, "task_state", "", nil, taskExec.Label, state.Label),
		},
	}

	var derived []DerivedRelation
	if ev.Old != nil && hasPrev {
		// The predecessor node is re-declared (with only the props this
		// event itself carries) so the transition edge never dangles; the
		// additive upsert leaves the predecessor's original timestamp
		// untouched.
		prevState := newNode(KindEntity, ids.TaskStateNodeName(task, prevEvent), provTaskState, map[string]any{"state": *ev.Old})
		doc.Entities = append(doc.Entities, prevState)
		doc.Edges = append(doc.Edges, newEdge(RelWasDerivedFrom, state.Name, prevState.Name, "", "status_transition", nil, state.Label, prevState.Label))
		derived = append(derived, DerivedRelation{From: state.Name, To: prevState.Name, Kind: DerivedTaskStatusTransit})
	}
	if endTime != nil {
		doc.Edges = append(doc.Edges, newEdge(RelWasGeneratedBy, taskEntity.Name, taskExec.Name, "", "", endTime, taskEntity.Label, taskExec.Label))
	}

	return &NormalizedProv{Document: doc, DerivedRelations: derived}
}

// normalizeTaskArtifactGenerated links an artifact entity to the
// TaskExecution that generated it.
func (n *Normalizer) normalizeTaskArtifactGenerated(ev event.TaskArtifactGenerated) *NormalizedProv {
	task, _ := ev.TaskID()
	artifact := artifactNode(task, ev.ArtifactID, ev.ArtifactType)
	taskExec := taskExecutionNode(task, nil)
	taskEntity := taskEntityNode(task, "")

	doc := Document{
		Entities:   []Node{artifact, taskEntity},
		Activities: []Node{taskExec},
		Edges: []Edge{
			newEdge(RelWasGeneratedBy, artifact.Name, taskExec.Name, "", "", nil, artifact.Label, taskExec.Label),
		},
	}
	derived := []DerivedRelation{{From: taskEntity.Name, To: artifact.Name, Kind: DerivedTaskArtifact}}
	return &NormalizedProv{Document: doc, DerivedRelations: derived}
}

// normalizeMessage handles both message directions: a task-scoped message
// attaches directly to the TaskExecution; a global message gets its own
// MessageProcessing activity.
func (n *Normalizer) normalizeMessage(eventID ids.EventId, msg ids.MessageId, agent ids.AgentId, task *ids.TaskId, received bool) *NormalizedProv {
	n.mu.Lock()
	n.messages[msg] = agent
	n.mu.Unlock()

	message := messageNode(msg, agent)
	doc := Document{Entities: []Node{message}}
	var derived []DerivedRelation

	if task != nil {
		// A message with a task id also attributes the task to its agent,
		// for later call events that carry no agent of their own.
		ti := n.taskInfoFor(*task)
		n.mu.Lock()
		if ti.agentID == "" {
			ti.agentID = agent
		}
		n.mu.Unlock()

		taskEntity := taskEntityNode(*task, "")
		taskExec := taskExecutionNode(*task, nil)
		doc.Entities = append(doc.Entities, taskEntity)
		doc.Activities = append(doc.Activities, taskExec)
		if received {
			doc.Edges = append(doc.Edges, newEdge(RelUsed, taskExec.Name, message.Name, "input_message", "", nil, taskExec.Label, message.Label))
		} else {
			doc.Edges = append(doc.Edges, newEdge(RelWasGeneratedBy, message.Name, taskExec.Name, "", "", nil, message.Label, taskExec.Label))
		}
		derived = append(derived, DerivedRelation{From: taskEntity.Name, To: message.Name, Kind: DerivedTaskMessage})
		return &NormalizedProv{Document: doc, DerivedRelations: derived}
	}

	processing := messageProcessingNode(msg)
	doc.Activities = append(doc.Activities, processing)
	if received {
		doc.Edges = append(doc.Edges, newEdge(RelUsed, processing.Name, message.Name, "input_message", "", nil, processing.Label, message.Label))
	} else {
		doc.Edges = append(doc.Edges, newEdge(RelWasGeneratedBy, message.Name, processing.Name, "", "", nil, message.Label, processing.Label))
	}

	if n.knowsAgent(agent) {
		instance := agentRuntimeInstanceNode(agent)
		doc.Agents = append(doc.Agents, instance)
		doc.Edges = append(doc.Edges, newEdge(RelWasAssociatedWith, processing.Name, instance.Name, "executing_agent", "", nil, processing.Label, instance.Label))
	}
	return &NormalizedProv{Document: doc, DerivedRelations: derived}
}

// callInput bundles the fields shared by all four LLM/Tool event variants
// so normalizeCall can treat them uniformly.
type callInput struct {
	eventID         ids.EventId
	callID          ids.EventId
	scope           event.CallScope
	task            *ids.TaskId
	agent           *ids.AgentId
	provType        string
	promptArgsRole  string
	promptArgsNode  string
	promptArgsValue string
	props           map[string]any
}

// normalizeCall handles LLM/Tool call attribution: the activity node is
// keyed by the shared call id (not the individual Started/Completed event
// id, since both describe one call — see event.LlmCallStarted.CallID);
// it gets a USED-role=prompt/args edge plus, depending on CallScope,
// either a WAS_CONSUMED_BY edge to the originating message and a derived
// A2A_MESSAGE_CALL edge, or an A2A_TASK_CALL edge to the TaskExecution.
func (n *Normalizer) normalizeCall(in callInput) *NormalizedProv {
	var activityName, promptArgsName string
	if in.provType == provLlmCall {
		activityName = ids.LlmCallNodeName(in.callID)
		promptArgsName = ids.PromptNodeName(in.callID)
	} else {
		activityName = ids.ToolCallNodeName(in.callID)
		promptArgsName = ids.ArgsNodeName(in.callID)
	}
	activity := newNode(KindActivity, activityName, in.provType, in.props)
	promptArgs := newNode(KindEntity, promptArgsName, in.promptArgsNode, map[string]any{"value": in.promptArgsValue})

	doc := Document{
		Activities: []Node{activity},
		Entities:   []Node{promptArgs},
		Edges: []Edge{
			newEdge(RelUsed, activity.Name, promptArgs.Name, in.promptArgsRole, "", nil, activity.Label, promptArgs.Label),
		},
	}

	agent := in.agent
	if agent == nil {
		if in.task != nil {
			if a, ok := n.agentForTask(*in.task); ok {
				agent = &a
			}
		}
	}
	if agent != nil && n.knowsAgent(*agent) {
		instance := agentRuntimeInstanceNode(*agent)
		doc.Agents = append(doc.Agents, instance)
		doc.Edges = append(doc.Edges, newEdge(RelWasAssociatedWith, activity.Name, instance.Name, "calling_agent", "", nil, activity.Label, instance.Label))
	}

	var derived []DerivedRelation
	switch in.scope.Kind {
	case event.ScopeMessage:
		messageEntity := messageNode(in.scope.MessageID, "")
		doc.Entities = append(doc.Entities, messageEntity)
		doc.Edges = append(doc.Edges, newEdge(RelUsed, activity.Name, messageEntity.Name, "input_message", "", nil, activity.Label, messageEntity.Label))
		processing := messageProcessingNode(in.scope.MessageID)
		doc.Activities = append(doc.Activities, processing)
		derived = append(derived, DerivedRelation{From: processing.Name, To: activity.Name, Kind: DerivedMessageCall})
	case event.ScopeTask:
		taskExec := taskExecutionNode(in.scope.TaskID, nil)
		doc.Activities = append(doc.Activities, taskExec)
		derived = append(derived, DerivedRelation{From: taskExec.Name, To: activity.Name, Kind: DerivedTaskCall})
	}

	return &NormalizedProv{Document: doc, DerivedRelations: derived}
}
