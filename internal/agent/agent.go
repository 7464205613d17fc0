// Package agent implements the agent builder/owner: it binds the task
// store, tool registry, interceptor pipeline, provenance normalizer,
// graph store writer, and A2A router into a single named Agent,
// generating its AgentId, registering its tool allowlist, wiring its
// interceptors, and translating the runtime events those components
// produce (task creation, status transitions, artifact generation,
// LLM/tool calls) into the provenance plane.
package agent

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"goa.design/agenthost/internal/a2a"
	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/external"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/interceptor"
	"goa.design/agenthost/internal/prov/event"
	"goa.design/agenthost/internal/prov/normalize"
	"goa.design/agenthost/internal/scope"
	"goa.design/agenthost/internal/taskstore"
	"goa.design/agenthost/internal/telemetry"
	"goa.design/agenthost/internal/tools"
)

// Clock supplies monotonic millis/counter pairs for both the router's id
// synthesis and this package's own event id generation, so tests stay
// deterministic (same seam as a2a.Clock; agent.Build installs the same
// clock in both places by default).
type Clock = a2a.Clock

// Config is everything Build needs to bind one agent into being. Only
// Package, Bridge, and GraphStore are required; the rest default to
// sensible production values (noop telemetry, an in-process deduplicator,
// a system clock, no interceptors; provenance is recorded by the agent
// itself, not by an interceptor). Executor is optional: when set, the agent serves the
// llm.complete method natively through it; when nil, llm.complete falls
// through to the JS bridge like any other method.
type Config struct {
	Package      external.AgentPackage
	Bridge       external.JsBridge
	GraphStore   external.GraphStore
	Executor     external.LlmExecutor
	Interceptors []interceptor.Interceptor
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Clock        Clock
	Dedup        a2a.Deduplicator
}

// Agent owns one loaded package's runtime: its identity, its task store,
// tool registry, interceptor pipeline, provenance normalizer, graph store
// writer, and A2A router. One Agent per loaded package; immutable after
// Build.
type Agent struct {
	ID          ids.AgentId
	Name        string
	Version     string
	PackageName string
	Allowlist   []string

	Tasks  *taskstore.Store
	Tools  *tools.Registry
	Router *a2a.Router

	pipeline   *interceptor.Pipeline
	normalizer *normalize.Normalizer
	graph      external.GraphStore
	bridge     external.JsBridge
	executor   external.LlmExecutor
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	clock      Clock

	eventCounter atomic.Uint64
}

// Build constructs an Agent from cfg: it generates a fresh AgentId,
// registers the package's declared tool allowlist, wires the interceptor
// pipeline from the caller's interceptors in registration order (RunLLMCall
// and RunToolCall record the Started event before the pipeline runs and the
// Completed event after it), and emits the AgentBooted provenance
// event before returning.
func Build(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.Bridge == nil {
		return nil, errs.New(errs.InvalidArgument, "agent.Build requires a JsBridge")
	}
	if cfg.GraphStore == nil {
		return nil, errs.New(errs.InvalidArgument, "agent.Build requires a GraphStore")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = a2a.NewSystemClock(func() int64 { return time.Now().UnixMilli() })
	}

	agentID := ids.NewAgentId()
	tasksStore := taskstore.New()
	toolsReg := tools.NewRegistry(cfg.Package.Tools)
	pipeline := interceptor.New(cfg.Interceptors...)
	router := a2a.New(cfg.Package.Name, agentID, tasksStore, cfg.Bridge, cfg.Dedup, clock)

	a := &Agent{
		ID:          agentID,
		Name:        cfg.Package.Name,
		Version:     cfg.Package.Version,
		PackageName: cfg.Package.Name,
		Allowlist:   cfg.Package.Tools,
		Tasks:       tasksStore,
		Tools:       toolsReg,
		Router:      router,
		pipeline:    pipeline,
		normalizer:  normalize.New(),
		graph:       cfg.GraphStore,
		bridge:      cfg.Bridge,
		executor:    cfg.Executor,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
	}
	router.SetCard(a2a.CardInfo{
		Name:      a.Name,
		Version:   a.Version,
		Tools:     toolsReg.List(),
		Allowlist: a.Allowlist,
	})
	router.SetNative(a)

	a.emit(ctx, event.NewAgentBooted(a.nextEventID(), a.ID, a.PackageName, a.Version))
	return a, nil
}

// Dispatch runs the full A2A request pipeline for one raw JSON-RPC request,
// first ensuring the task it references (if any) exists and has a recorded
// TaskCreated provenance event (tasks are created on first reference),
// then delegating to the router.
func (a *Agent) Dispatch(ctx context.Context, raw []byte, sink a2a.StreamSink) (*a2a.JsonRpcResponse, error) {
	a.ensureTaskReferenced(ctx, raw)
	return a.Router.Dispatch(ctx, raw, sink)
}

func (a *Agent) ensureTaskReferenced(ctx context.Context, raw []byte) {
	taskID, contextID, ok := a2a.PeekMessageTask(raw)
	if !ok {
		return
	}
	t := ids.TaskId(taskID)
	if existing := a.Tasks.Get(t, nil); existing != nil {
		return
	}
	task := taskstore.Task{ID: t, Status: taskstore.Status{State: "pending", Timestamp: time.Now().UTC().Format(time.RFC3339)}}
	if contextID != "" {
		c := ids.ContextId(contextID)
		task.ContextID = &c
	}
	a.Tasks.Upsert(task)
	a.emit(ctx, event.NewTaskCreated(a.nextEventID(), t, a.ID))
}

// UpdateTaskStatus records a new status for taskID in the task store and
// emits the corresponding TaskStatusChanged provenance event, with old set
// to the task's current status state (nil if this is the task's first
// status).
func (a *Agent) UpdateTaskStatus(ctx context.Context, taskID ids.TaskId, newState string) {
	var old *string
	var ctxID *ids.ContextId
	if existing := a.Tasks.Get(taskID, nil); existing != nil {
		ctxID = existing.ContextID
		if existing.Status.State != "" {
			s := existing.Status.State
			old = &s
		}
	}
	ts := time.Now().UTC()
	a.Tasks.RecordStatusUpdate(taskID, ctxID, taskstore.Status{State: newState, Timestamp: ts.Format(time.RFC3339)})
	a.emit(ctx, event.NewTaskStatusChanged(a.nextEventID(), taskID, old, newState, ts.UnixMilli()))
}

// UpdateArtifact appends artifact to taskID's artifact list and emits the
// corresponding TaskArtifactGenerated provenance event.
func (a *Agent) UpdateArtifact(ctx context.Context, taskID ids.TaskId, artifact taskstore.Artifact) {
	var ctxID *ids.ContextId
	if existing := a.Tasks.Get(taskID, nil); existing != nil {
		ctxID = existing.ContextID
	}
	a.Tasks.RecordArtifactUpdate(taskID, ctxID, artifact)

	artifactType := ""
	if artifact.Type != nil {
		artifactType = *artifact.Type
	}
	var artifactID ids.ArtifactId
	if artifact.ArtifactID != nil {
		artifactID = *artifact.ArtifactID
	}
	a.emit(ctx, event.NewTaskArtifactGenerated(a.nextEventID(), taskID, artifactID, artifactType))
}

// ReceiveMessage emits a MessageReceived provenance event for an inbound
// message. fromAgent is the sending agent attributed in metadata.agent_id,
// mandatory whenever a message crosses the provenance boundary.
func (a *Agent) ReceiveMessage(ctx context.Context, msgID ids.MessageId, fromAgent ids.AgentId, task *ids.TaskId) {
	a.emit(ctx, event.NewMessageReceived(a.nextEventID(), msgID, fromAgent, task))
}

// SentMessage emits a MessageSent provenance event for an outbound message.
func (a *Agent) SentMessage(ctx context.Context, msgID ids.MessageId, fromAgent ids.AgentId, task *ids.TaskId) {
	a.emit(ctx, event.NewMessageSent(a.nextEventID(), msgID, fromAgent, task))
}

// RunLLMCall runs fn through the interceptor pipeline and records the
// matching LlmCallStarted/LlmCallCompleted provenance pair around it,
// sharing one CallID between the two events so the normalizer derives one
// a2a:LlmCall activity node for the whole call. fn's own error is never
// swallowed: it is recorded as the call's
// Failure and re-raised to the caller, same as the interceptor pipeline's
// own contract.
func (a *Agent) RunLLMCall(ctx context.Context, callScope event.CallScope, prompt string, fn func(ctx context.Context) (string, error)) (string, error) {
	callID := a.nextEventID()
	agentID := a.ID
	a.emit(ctx, event.NewLlmCallStarted(a.nextEventID(), callID, callScope, &agentID, prompt))

	result, err := a.pipeline.RunLLMCall(ctx, interceptor.CallInfo{Kind: interceptor.CallLLM, Name: "llm", Args: prompt}, fn)

	failure := ""
	if err != nil {
		failure = err.Error()
	}
	a.emit(ctx, event.NewLlmCallCompleted(a.nextEventID(), callID, callScope, &agentID, prompt, result, failure))
	return result, err
}

// RunToolCall runs fn through the interceptor pipeline and records the
// matching ToolCallStarted/ToolCallCompleted provenance pair, mirroring
// RunLLMCall.
func (a *Agent) RunToolCall(ctx context.Context, callScope event.CallScope, toolName, args string, fn func(ctx context.Context) (string, error)) (string, error) {
	callID := a.nextEventID()
	agentID := a.ID
	a.emit(ctx, event.NewToolCallStarted(a.nextEventID(), callID, callScope, &agentID, toolName, args))

	result, err := a.pipeline.RunToolCall(ctx, interceptor.CallInfo{Kind: interceptor.CallTool, Name: toolName, Args: args}, fn)

	failure := ""
	if err != nil {
		failure = err.Error()
	}
	a.emit(ctx, event.NewToolCallCompleted(a.nextEventID(), callID, callScope, &agentID, toolName, args, result, failure))
	return result, err
}

// Invoke runs one direct call outside the A2A protocol (the CLI host's
// `--invoke <agent> <function> <json-args>` surface). Natively served
// methods (llm.complete) are handled in-process and record their own
// provenance; everything else goes to the JS bridge, recorded as a
// ToolCallStarted/ToolCallCompleted pair under a synthetic message scope
// so it still produces valid provenance even though no real A2A message
// carried it. argsJSON may be empty, meaning no arguments.
func (a *Agent) Invoke(ctx context.Context, function, argsJSON string) (any, error) {
	var args any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invoke args not valid JSON")
		}
	}

	if out, handled, err := a.InvokeNative(ctx, function, args); handled {
		return out, err
	}

	var result any
	_, err := a.RunToolCall(ctx, event.MessageScope(ids.MessageId("cli-invoke")), function, argsJSON, func(ctx context.Context) (string, error) {
		out, err := a.bridge.Invoke(ctx, function, args)
		if err != nil {
			return "", err
		}
		result = out
		data, err := json.Marshal(out)
		if err != nil {
			return "", errs.Wrap(errs.ExecutionFailed, err, "invoke result not JSON-encodable")
		}
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LlmCompleteMethod is the A2A method the agent serves natively through
// its configured LlmExecutor.
const LlmCompleteMethod = "llm.complete"

// llmCompleteParams is the wire shape of llm.complete's params.
type llmCompleteParams struct {
	Prompt    string `json:"prompt"`
	System    string `json:"system,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// InvokeNative implements a2a.NativeInvoker: llm.complete is served by the
// configured executor; every other method falls through to the JS bridge.
// With no executor configured, llm.complete falls through too, so a JS
// agent may still export a function of that name.
func (a *Agent) InvokeNative(ctx context.Context, method string, params any) (any, bool, error) {
	if method != LlmCompleteMethod || a.executor == nil {
		return nil, false, nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, true, errs.Wrap(errs.InvalidArgument, err, "llm.complete params not JSON-encodable")
	}
	var p llmCompleteParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, true, errs.Wrap(errs.InvalidArgument, err, "invalid llm.complete params")
	}
	if p.Prompt == "" {
		return nil, true, errs.New(errs.InvalidArgument, "llm.complete requires prompt")
	}

	resp, err := a.CompleteLLM(ctx, external.LlmRequest{
		Model:     p.Model,
		System:    p.System,
		Prompt:    p.Prompt,
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		return nil, true, err
	}
	return map[string]any{
		"message": map[string]any{
			"role":  "agent",
			"parts": []any{map[string]any{"type": "text", "text": resp.Text}},
			"metadata": map[string]any{
				"stopReason":   resp.StopReason,
				"inputTokens":  resp.Usage.InputTokens,
				"outputTokens": resp.Usage.OutputTokens,
			},
		},
	}, true, nil
}

// CompleteLLM runs one completion through the configured executor, wrapped
// by the interceptor pipeline and recorded as an LlmCallStarted/Completed
// provenance pair scoped to the calling request.
func (a *Agent) CompleteLLM(ctx context.Context, req external.LlmRequest) (external.LlmResponse, error) {
	if a.executor == nil {
		return external.LlmResponse{}, errs.New(errs.FunctionNotFound, "no llm executor configured")
	}

	var resp external.LlmResponse
	_, err := a.RunLLMCall(ctx, a.callScope(ctx), req.Prompt, func(ctx context.Context) (string, error) {
		r, err := a.executor.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		resp = r
		return r.Text, nil
	})
	if err != nil {
		return external.LlmResponse{}, err
	}
	return resp, nil
}

// callScope derives the CallScope for a call made under the current
// request's scope: task-scoped when the request carries a task id,
// otherwise message-scoped (falling back to the context id as the message
// identity for methods that carry no message of their own).
func (a *Agent) callScope(ctx context.Context) event.CallScope {
	if sc, ok := scope.Current(ctx); ok {
		if sc.TaskID != nil {
			return event.TaskScope(*sc.TaskID)
		}
		if sc.MessageID != nil {
			return event.MessageScope(*sc.MessageID)
		}
		return event.MessageScope(ids.MessageId(string(sc.ContextID)))
	}
	return event.MessageScope(ids.MessageId("direct-invoke"))
}

// nextEventID returns the next monotonic EventId for this agent. Backed by
// an atomic counter: concurrent requests against the same Agent must never
// collide on an EventId.
func (a *Agent) nextEventID() ids.EventId {
	return ids.NewEventId(a.eventCounter.Add(1))
}

// emit normalizes ev and upserts it into the graph store. Provenance is a
// side effect, not a precondition: normalization or storage
// failures are logged and otherwise swallowed so they never fail the
// originating A2A request.
func (a *Agent) emit(ctx context.Context, ev event.Event) {
	prov, err := a.normalizer.Normalize(ev)
	if err != nil {
		a.logger.Error(ctx, "provenance event rejected", "kind", string(ev.Kind()), "error", err.Error())
		return
	}
	if err := a.graph.Upsert(ctx, prov); err != nil {
		a.logger.Error(ctx, "provenance upsert failed", "kind", string(ev.Kind()), "error", err.Error())
		a.metrics.IncCounter("agenthost.provenance.upsert_failed", 1, "agent", a.Name)
	}
}
