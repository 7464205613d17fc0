package a2a

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/external"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/scope"
	"goa.design/agenthost/internal/taskstore"
	"goa.design/agenthost/internal/tools"
)

// StreamSink receives successive JSON-RPC response chunks for a streaming
// method, in emission order. Send returning an error aborts the remainder
// of the stream.
type StreamSink interface {
	Send(ctx context.Context, resp JsonRpcResponse) error
}

// Clock supplies the (millis, counter) pair the router uses to synthesize
// context/correlation ids, injected so dispatch stays deterministic in
// tests (mirrors ids.NewContextId/NewCorrelationId's own caller-supplies-
// the-clock design).
type Clock interface {
	Now() (millis int64, counter uint64)
}

// SystemClock is the production Clock, backed by an atomic counter so
// concurrent dispatches never synthesize the same id even within the same
// millisecond. Callers needing wall-clock millis supply them externally
// (the router never calls time.Now() itself, keeping with the no-hidden-
// clock-reads discipline the ids package establishes).
type SystemClock struct {
	millisFn func() int64
	counter  atomic.Uint64
}

// NewSystemClock constructs a SystemClock whose millisecond reading comes
// from millisFn (typically a thin wrapper over time.Now().UnixMilli()).
func NewSystemClock(millisFn func() int64) *SystemClock {
	return &SystemClock{millisFn: millisFn}
}

// Now returns the current millis and the next monotonic counter value.
func (c *SystemClock) Now() (int64, uint64) {
	return c.millisFn(), c.counter.Add(1)
}

// PeekMessageTask inspects a raw JSON-RPC request without any dispatch side
// effects and reports the taskId/contextId a message.send or
// message.sendStream request references, if any. The agent builder uses
// this ahead of Dispatch to detect a task's first reference and create it
// before the router ever sees the request.
func PeekMessageTask(raw []byte) (taskID, contextID string, ok bool) {
	var req JsonRpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", "", false
	}
	base, _ := classifyMethod(req.Method, "")
	if base != "message.send" && base != "message.sendStream" {
		return "", "", false
	}
	wm, err := parseMessageParams(req.Params)
	if err != nil || wm.TaskID == "" {
		return "", "", false
	}
	return wm.TaskID, wm.ContextID, true
}

// NativeInvoker handles methods the agent serves in-process rather than
// through the JS bridge (the agent builder's llm.complete, for example).
// InvokeNative returns handled=false to fall through to the bridge; a
// handled result is run through the same result pipeline as a bridge
// result, so native methods produce the same wire shapes.
type NativeInvoker interface {
	InvokeNative(ctx context.Context, method string, params any) (result any, handled bool, err error)
}

// CardInfo is the static agent.card descriptor content, installed once on
// a Router via SetCard by the agent builder after the tool registry has
// been populated.
type CardInfo struct {
	Name      string
	Version   string
	Tools     []tools.Export
	Allowlist []string
}

// Router implements the JSON-RPC request pipeline for exactly one agent
// (agentName/agentID are fixed at construction; the multi-agent host owns
// resolving which agent's Router a given request belongs to before calling
// Dispatch). Protocol methods hit the task store directly; every other
// method falls through to the JsBridge.
type Router struct {
	agentName string
	agentID   ids.AgentId
	tasks     *taskstore.Store
	bridge    external.JsBridge
	native    NativeInvoker
	dedup     Deduplicator
	clock     Clock
	card      CardInfo
}

// SetCard installs the static agent.card descriptor this router answers
// tasks/agent.card requests with. Called once by the agent builder after
// the tool registry has been populated.
func (ro *Router) SetCard(card CardInfo) { ro.card = card }

// SetNative installs the in-process method handler consulted before the JS
// bridge. Called once by the agent builder.
func (ro *Router) SetNative(native NativeInvoker) { ro.native = native }

// New constructs a Router bound to one agent.
func New(agentName string, agentID ids.AgentId, tasks *taskstore.Store, bridge external.JsBridge, dedup Deduplicator, clock Clock) *Router {
	if dedup == nil {
		dedup = NewMemDeduplicator()
	}
	return &Router{agentName: agentName, agentID: agentID, tasks: tasks, bridge: bridge, dedup: dedup, clock: clock}
}

// Dispatch runs the full request pipeline over one raw JSON-RPC request. For
// a unary method it returns the single response. For a streaming method it
// writes each chunk to sink (deduplicated, in first-occurrence order) and
// returns nil; sink must be non-nil for a streaming method.
func (ro *Router) Dispatch(ctx context.Context, raw []byte, sink StreamSink) (*JsonRpcResponse, error) {
	req, parseErr := parseRequest(raw)
	if parseErr != nil {
		return errorResponse(nil, parseErr), nil
	}

	millis, counter := ro.clock.Now()

	var envelope struct {
		CorrelationID string `json:"correlationId"`
		ContextID     string `json:"contextId"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &envelope)
	}

	corrID, err := resolveCorrelationID(envelope.CorrelationID, millis, counter)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	ctxID, err := resolveContextID(envelope.ContextID, millis, counter)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	_ = corrID // validated above; not otherwise used by Dispatch

	base, streamSuffix := classifyMethod(req.Method, ro.agentName)
	streaming := isStreamMethod(base, streamSuffix)

	var msgID *ids.MessageId
	var taskID *ids.TaskId
	if base == "message.send" || base == "message.sendStream" {
		wm, err := parseMessageParams(req.Params)
		if err != nil {
			return errorResponse(req.ID, err), nil
		}
		if wm.MessageID != "" {
			m := ids.MessageId(wm.MessageID)
			msgID = &m
		}
		if wm.TaskID != "" {
			t := ids.TaskId(wm.TaskID)
			taskID = &t
		}
	}

	sc := scope.WithAgentID(ctx, ro.agentID, millis, counter)
	sc.ContextID = ctxID
	sc.MessageID = msgID
	sc.TaskID = taskID
	dispatchCtx := scope.WithScope(ctx, sc)

	if streaming {
		if sink == nil {
			return errorResponse(req.ID, errs.New(errs.InvalidArgument, "streaming method requires a sink")), nil
		}
		if err := ro.dispatchStream(dispatchCtx, req, base, sink); err != nil {
			return nil, err
		}
		return nil, nil
	}

	result, err := ro.dispatchUnary(dispatchCtx, req, base)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	return &JsonRpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}, nil
}

// resolveCorrelationID re-validates a caller-supplied correlation id (the
// temporal format is re-checked on parse) or synthesizes a fresh one.
func resolveCorrelationID(raw string, millis int64, counter uint64) (ids.CorrelationId, error) {
	if raw == "" {
		return ids.NewCorrelationId(millis, counter), nil
	}
	id, _, _, err := ids.ParseCorrelationId(raw)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "malformed correlationId")
	}
	return id, nil
}

// resolveContextID re-validates a caller-supplied context id or synthesizes
// a fresh one, mirroring resolveCorrelationID.
func resolveContextID(raw string, millis int64, counter uint64) (ids.ContextId, error) {
	if raw == "" {
		return ids.NewContextId(millis, counter), nil
	}
	id, _, _, err := ids.ParseContextId(raw)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "malformed contextId")
	}
	return id, nil
}

func parseRequest(raw []byte) (*JsonRpcRequest, error) {
	var req JsonRpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "parse error")
	}
	if req.Method == "" {
		return nil, errs.New(errs.InvalidArgument, "missing method")
	}
	return &req, nil
}

func errorResponse(id any, err error) *JsonRpcResponse {
	return &JsonRpcResponse{JSONRPC: "2.0", ID: id, Error: classifyError(err)}
}

func parseMessageParams(raw json.RawMessage) (*WireMessage, error) {
	var p struct {
		Message *WireMessage `json:"message"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invalid message params")
		}
	}
	if p.Message == nil {
		return nil, errs.New(errs.InvalidArgument, "message params missing message")
	}
	return p.Message, nil
}

// dispatchUnary handles every non-streaming method: the fixed protocol
// methods (tasks.get/list/cancel, agent.card) against the task store
// directly, and everything else via the JS bridge.
func (ro *Router) dispatchUnary(ctx context.Context, req *JsonRpcRequest, base string) (any, error) {
	switch base {
	case "tasks.get":
		return ro.handleTasksGet(req.Params)
	case "tasks.list":
		return ro.handleTasksList(req.Params)
	case "tasks.cancel":
		return ro.handleTasksCancel(req.Params)
	case "agent.card":
		return ro.handleAgentCard()
	case "message.send":
		return ro.handleMessageSend(ctx, req.Params)
	default:
		out, err := ro.invoke(ctx, base, decodeParams(req.Params))
		if err != nil {
			return nil, err
		}
		return ro.runResultPipeline(ctx, out)
	}
}

// invoke tries the native handler first and falls through to the JS bridge
// for every method it does not claim.
func (ro *Router) invoke(ctx context.Context, method string, params any) (any, error) {
	if ro.native != nil {
		if out, handled, err := ro.native.InvokeNative(ctx, method, params); handled {
			return out, err
		}
	}
	return ro.bridge.Invoke(ctx, method, params)
}

func decodeParams(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func (ro *Router) handleMessageSend(ctx context.Context, raw json.RawMessage) (any, error) {
	wm, err := parseMessageParams(raw)
	if err != nil {
		return nil, err
	}
	ro.insertInboundMessage(*wm)
	out, err := ro.bridge.Invoke(ctx, "message.send", wm)
	if err != nil {
		return nil, err
	}
	return ro.runResultPipeline(ctx, out)
}

func (ro *Router) insertInboundMessage(wm WireMessage) {
	msg := taskstore.Message{
		MessageID: ids.MessageId(wm.MessageID),
		Role:      wm.Role,
		Parts:     partsFromWire(wm.Parts),
		Metadata:  wm.Metadata,
	}
	if wm.TaskID != "" {
		t := ids.TaskId(wm.TaskID)
		msg.TaskID = &t
	}
	if wm.ContextID != "" {
		c := ids.ContextId(wm.ContextID)
		msg.ContextID = &c
	}
	ro.tasks.InsertMessage(msg)
}

// runResultPipeline decodes a single bridge result and writes any
// task/message/artifact state it carries into the task store, returning the
// wire-shaped value the unary response embeds directly as `result`.
func (ro *Router) runResultPipeline(_ context.Context, out any) (any, error) {
	br, err := decodeBridgeResult(out)
	if err != nil {
		return nil, err
	}
	ro.applyBridgeResult(br)
	return br, nil
}

func decodeBridgeResult(out any) (*bridgeResult, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errs.Wrap(errs.ExecutionFailed, err, "bridge result not JSON-encodable")
	}
	var br bridgeResult
	if err := json.Unmarshal(data, &br); err != nil {
		return nil, errs.Wrap(errs.ExecutionFailed, err, "bridge result malformed")
	}
	return &br, nil
}

// applyBridgeResult writes any task-store-relevant state a bridge result
// chunk carries back into the store, so a subsequent tasks.get/subscribe
// observes it. Only Message is handled here: StatusUpdate/ArtifactUpdate
// chunks are expected to originate from the task store itself (via
// RecordStatusUpdate/RecordArtifactUpdate called by the agent builder as
// it executes a task), not from raw bridge output.
func (ro *Router) applyBridgeResult(br *bridgeResult) {
	if br == nil || br.Message == nil || br.Message.TaskID == "" {
		return
	}
	ro.tasks.InsertMessage(taskstore.Message{
		MessageID: ids.MessageId(br.Message.MessageID),
		Role:      br.Message.Role,
		Parts:     partsFromWire(br.Message.Parts),
		Metadata:  br.Message.Metadata,
		TaskID:    taskIDPtr(br.Message.TaskID),
	})
}

func taskIDPtr(s string) *ids.TaskId {
	if s == "" {
		return nil
	}
	t := ids.TaskId(s)
	return &t
}

func (ro *Router) handleTasksGet(raw json.RawMessage) (any, error) {
	var p struct {
		ID            string `json:"id"`
		HistoryLength *int   `json:"historyLength"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, errs.New(errs.InvalidArgument, "tasks.get requires id")
	}
	t := ro.tasks.Get(ids.TaskId(p.ID), p.HistoryLength)
	if t == nil {
		return nil, errs.Newf(errs.InvalidArgument, "unknown task %q", p.ID)
	}
	wt := taskToWire(*t)
	return wt, nil
}

func (ro *Router) handleTasksList(raw json.RawMessage) (any, error) {
	var p struct {
		ContextID        string `json:"contextId"`
		Status           string `json:"status"`
		PageSize         int    `json:"pageSize"`
		PageToken        string `json:"pageToken"`
		IncludeArtifacts bool   `json:"includeArtifacts"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invalid tasks.list params")
		}
	}
	filter := taskstore.ListFilter{PageSize: p.PageSize, PageToken: p.PageToken, IncludeArtifacts: p.IncludeArtifacts}
	if p.ContextID != "" {
		c := ids.ContextId(p.ContextID)
		filter.ContextID = &c
	}
	if p.Status != "" {
		filter.Status = &p.Status
	}
	page := ro.tasks.List(filter)
	out := struct {
		Tasks         []WireTask `json:"tasks"`
		NextPageToken string     `json:"nextPageToken,omitempty"`
	}{NextPageToken: page.NextPageToken}
	for _, t := range page.Tasks {
		out.Tasks = append(out.Tasks, taskToWire(t))
	}
	return out, nil
}

func (ro *Router) handleTasksCancel(raw json.RawMessage) (any, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, errs.New(errs.InvalidArgument, "tasks.cancel requires id")
	}
	t := ro.tasks.Cancel(ids.TaskId(p.ID))
	if t == nil {
		return nil, errs.Newf(errs.InvalidArgument, "unknown task %q", p.ID)
	}
	return taskToWire(*t), nil
}

// handleAgentCard answers agent.card with the static descriptor: {name,
// version, capabilities: {streaming, tools}, tools_allowlist}.
func (ro *Router) handleAgentCard() (any, error) {
	type toolExport struct {
		Name               string                    `json:"name"`
		ClassName          string                    `json:"className"`
		Description        string                    `json:"description"`
		InputSchema        map[string]any            `json:"inputSchema,omitempty"`
		OutputSchema       map[string]any            `json:"outputSchema,omitempty"`
		Tags               []string                  `json:"tags,omitempty"`
		SecretRequirements []tools.SecretRequirement `json:"secretRequirements,omitempty"`
		IsHostTool         bool                      `json:"isHostTool"`
	}
	exports := make([]toolExport, len(ro.card.Tools))
	for i, t := range ro.card.Tools {
		exports[i] = toolExport{
			Name:               t.Name,
			ClassName:          t.ClassName,
			Description:        t.Description,
			InputSchema:        t.InputSchema,
			OutputSchema:       t.OutputSchema,
			Tags:               t.Tags,
			SecretRequirements: t.SecretRequirements,
			IsHostTool:         t.IsHostTool,
		}
	}
	return struct {
		Name         string `json:"name"`
		Version      string `json:"version"`
		Capabilities struct {
			Streaming bool         `json:"streaming"`
			Tools     []toolExport `json:"tools"`
		} `json:"capabilities"`
		ToolsAllowlist []string `json:"toolsAllowlist"`
	}{
		Name:    ro.agentName,
		Version: ro.card.Version,
		Capabilities: struct {
			Streaming bool         `json:"streaming"`
			Tools     []toolExport `json:"tools"`
		}{Streaming: true, Tools: exports},
		ToolsAllowlist: ro.card.Allowlist,
	}, nil
}

// dispatchStream handles every streaming method, writing deduplicated
// chunks to sink in first-occurrence order.
func (ro *Router) dispatchStream(ctx context.Context, req *JsonRpcRequest, base string, sink StreamSink) error {
	streamID := streamIDFor(req)

	var chunks []chunk
	switch base {
	case "tasks.subscribe":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			return sink.Send(ctx, *errorResponse(req.ID, errs.New(errs.InvalidArgument, "tasks.subscribe requires id")))
		}
		for _, ev := range ro.tasks.DrainUpdates(ids.TaskId(p.ID)) {
			chunks = append(chunks, updateEventToChunk(ev))
		}
	case "message.sendStream":
		wm, err := parseMessageParams(req.Params)
		if err != nil {
			return sink.Send(ctx, *errorResponse(req.ID, err))
		}
		ro.insertInboundMessage(*wm)
		out, err := ro.bridge.Invoke(ctx, base, wm)
		if err != nil {
			return sink.Send(ctx, *errorResponse(req.ID, err))
		}
		cs, err := decodeBridgeChunks(out)
		if err != nil {
			return sink.Send(ctx, *errorResponse(req.ID, err))
		}
		for _, br := range cs {
			ro.applyBridgeResult(&br)
			chunks = append(chunks, bridgeResultToChunk(br))
		}
	default:
		out, err := ro.invoke(ctx, base, decodeParams(req.Params))
		if err != nil {
			return sink.Send(ctx, *errorResponse(req.ID, err))
		}
		cs, err := decodeBridgeChunks(out)
		if err != nil {
			return sink.Send(ctx, *errorResponse(req.ID, err))
		}
		for _, br := range cs {
			ro.applyBridgeResult(&br)
			chunks = append(chunks, bridgeResultToChunk(br))
		}
	}

	for _, c := range chunks {
		key, err := contentHash(streamID, c)
		if err != nil {
			return err
		}
		seen, err := ro.dedup.SeenBefore(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		resp := JsonRpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"chunk": c}}
		if err := sink.Send(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

func streamIDFor(req *JsonRpcRequest) string {
	data, _ := json.Marshal(req.ID)
	return req.Method + ":" + string(data)
}

func decodeBridgeChunks(out any) ([]bridgeResult, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errs.Wrap(errs.ExecutionFailed, err, "bridge result not JSON-encodable")
	}
	var arr []bridgeResult
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}
	var single bridgeResult
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, errs.Wrap(errs.ExecutionFailed, err, "bridge result malformed")
	}
	return []bridgeResult{single}, nil
}

func bridgeResultToChunk(br bridgeResult) chunk {
	return chunk{Message: br.Message, Task: br.Task, StatusUpdate: br.StatusUpdate, ArtifactUpdate: br.ArtifactUpdate}
}

func updateEventToChunk(ev taskstore.UpdateEvent) chunk {
	c := chunk{}
	if ev.Status != nil {
		ws := statusToWire(*ev.Status)
		c.StatusUpdate = &ws
	}
	if ev.Artifact != nil {
		wa := artifactToWire(*ev.Artifact)
		c.ArtifactUpdate = &wa
	}
	return c
}
