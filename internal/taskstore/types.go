// Package taskstore holds the in-memory projection of A2A Tasks, their
// message history, their artifacts, and a bounded per-task broadcast queue
// of update events for streaming subscribers. Each task is one
// independently locked record; accessors copy snapshots out rather than
// aliasing mutable state.
package taskstore

import (
	"goa.design/agenthost/internal/ids"
)

// Part is a single content chunk of a Message or Artifact. Exactly one of
// Text/Data/URI is populated per part.
type Part struct {
	Type string
	Text *string
	Data []byte
	URI  *string
}

// Message is a single turn of conversation, persisted into a Task's
// history. AgentID corresponds to metadata.agent_id.
type Message struct {
	MessageID ids.MessageId
	Role      string
	Parts     []Part
	ContextID *ids.ContextId
	TaskID    *ids.TaskId
	AgentID   *ids.AgentId
	Metadata  map[string]any
}

// Status is a task status snapshot.
type Status struct {
	State     string
	Message   *Message
	Timestamp string
}

// Artifact is a single generated output, possibly one chunk of a larger
// reassembled whole (Append/LastChunk are advisory; storage is per-append,
// never merged in place).
type Artifact struct {
	ArtifactID *ids.ArtifactId
	Type       *string
	Parts      []Part
	Append     *bool
	LastChunk  *bool
}

// Task is the full projection of an A2A task: status, ordered history,
// appended artifacts, and free-form metadata.
type Task struct {
	ID        ids.TaskId
	ContextID *ids.ContextId
	Status    Status
	History   []Message
	Artifacts []Artifact
	Metadata  map[string]any
}

// UpdateKind distinguishes the two TaskUpdateEvent variants.
type UpdateKind string

const (
	UpdateStatus   UpdateKind = "status"
	UpdateArtifact UpdateKind = "artifact"
)

// UpdateEvent is a single entry in a task's broadcast queue, consumed by
// streaming subscribers via DrainUpdates.
type UpdateEvent struct {
	Kind      UpdateKind
	TaskID    ids.TaskId
	ContextID *ids.ContextId
	Status    *Status
	Artifact  *Artifact
}

// ListFilter narrows List to a subset of tasks.
type ListFilter struct {
	ContextID        *ids.ContextId
	Status           *string
	PageSize         int
	PageToken        string
	IncludeArtifacts bool
}

// Page is one page of List results.
type Page struct {
	Tasks         []Task
	NextPageToken string
}
