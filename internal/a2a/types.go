// Package a2a implements the JSON-RPC request router: parsing, scope
// installation, method classification and dispatch, response formatting,
// error classification, and streaming-chunk deduplication. Protocol
// methods (tasks.get/list/cancel, tasks.subscribe, agent.card) are served
// from the task store; everything else dispatches through the JS bridge.
package a2a

import (
	"encoding/json"

	"goa.design/agenthost/internal/taskstore"
)

// JsonRpcRequest is the parsed JSON-RPC 2.0 request envelope.
type JsonRpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JsonRpcResponse is the emitted JSON-RPC 2.0 response envelope. Exactly one
// of Result/Error is set.
type JsonRpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JsonRpcError `json:"error,omitempty"`
}

// JsonRpcError is a JSON-RPC 2.0 error object, produced by classifyError.
type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// WirePart is a single content chunk of a wire Message or Artifact.
type WirePart struct {
	Type     string          `json:"type"`
	Text     *string         `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	URI      *string         `json:"uri,omitempty"`
	MIMEType *string         `json:"mimeType,omitempty"`
}

// WireMessage is the wire representation of an A2A message.
type WireMessage struct {
	MessageID string         `json:"messageId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Role      string         `json:"role"`
	Parts     []WirePart     `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WireStatus is the wire representation of a task status snapshot.
type WireStatus struct {
	State     string       `json:"state"`
	Message   *WireMessage `json:"message,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// WireArtifact is the wire representation of an artifact update.
type WireArtifact struct {
	ArtifactID string     `json:"artifactId,omitempty"`
	Type       string     `json:"type,omitempty"`
	Parts      []WirePart `json:"parts,omitempty"`
	Append     *bool      `json:"append,omitempty"`
	LastChunk  *bool      `json:"lastChunk,omitempty"`
}

// WireTask is the wire representation of a full task snapshot.
type WireTask struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    WireStatus     `json:"status"`
	History   []WireMessage  `json:"history,omitempty"`
	Artifacts []WireArtifact `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// chunk is the `{chunk: {...}}` envelope a stream response's result
// carries.
type chunk struct {
	StatusUpdate   *WireStatus   `json:"statusUpdate,omitempty"`
	ArtifactUpdate *WireArtifact `json:"artifactUpdate,omitempty"`
	Message        *WireMessage  `json:"message,omitempty"`
	Task           *WireTask     `json:"task,omitempty"`
}

// bridgeResult is the shape a JS bridge invocation result is expected to
// parse into: a single chunk's worth of content. A bridge producing a
// streaming response returns a JSON array; each element decodes into one
// bridgeResult, one chunk.
type bridgeResult struct {
	Message        *WireMessage  `json:"message,omitempty"`
	Task           *WireTask     `json:"task,omitempty"`
	StatusUpdate   *WireStatus   `json:"statusUpdate,omitempty"`
	ArtifactUpdate *WireArtifact `json:"artifactUpdate,omitempty"`
}

func partsFromWire(parts []WirePart) []taskstore.Part {
	out := make([]taskstore.Part, len(parts))
	for i, p := range parts {
		out[i] = taskstore.Part{Type: p.Type, Text: p.Text, URI: p.URI}
		if len(p.Data) > 0 {
			out[i].Data = append([]byte(nil), p.Data...)
		}
	}
	return out
}

func partsToWire(parts []taskstore.Part) []WirePart {
	out := make([]WirePart, len(parts))
	for i, p := range parts {
		out[i] = WirePart{Type: p.Type, Text: p.Text, URI: p.URI}
		if len(p.Data) > 0 {
			out[i].Data = append([]byte(nil), p.Data...)
		}
	}
	return out
}

func statusToWire(s taskstore.Status) WireStatus {
	ws := WireStatus{State: s.State, Timestamp: s.Timestamp}
	if s.Message != nil {
		m := messageToWire(*s.Message)
		ws.Message = &m
	}
	return ws
}

func messageToWire(m taskstore.Message) WireMessage {
	wm := WireMessage{Role: m.Role, Parts: partsToWire(m.Parts), Metadata: m.Metadata, MessageID: string(m.MessageID)}
	if m.TaskID != nil {
		wm.TaskID = string(*m.TaskID)
	}
	if m.ContextID != nil {
		wm.ContextID = string(*m.ContextID)
	}
	return wm
}

func artifactToWire(a taskstore.Artifact) WireArtifact {
	wa := WireArtifact{Parts: partsToWire(a.Parts), Append: a.Append, LastChunk: a.LastChunk}
	if a.ArtifactID != nil {
		wa.ArtifactID = string(*a.ArtifactID)
	}
	if a.Type != nil {
		wa.Type = *a.Type
	}
	return wa
}

func taskToWire(t taskstore.Task) WireTask {
	wt := WireTask{ID: string(t.ID), Status: statusToWire(t.Status), Metadata: t.Metadata}
	if t.ContextID != nil {
		wt.ContextID = string(*t.ContextID)
	}
	for _, m := range t.History {
		wt.History = append(wt.History, messageToWire(m))
	}
	for _, a := range t.Artifacts {
		wt.Artifacts = append(wt.Artifacts, artifactToWire(a))
	}
	return wt
}
