package taskstore

import (
	"strconv"
	"sync"
	"time"

	"goa.design/agenthost/internal/ids"
)

// DefaultQueueCapacity bounds each task's update-event queue. Once full, a
// Record* call drops the oldest queued event to make room (slow-consumer
// policy) rather than blocking the writer or growing without bound.
const DefaultQueueCapacity = 256

// record is the store's internal per-task unit: a single mutex guarding
// both the Task snapshot and its pending update queue (one mutex, point
// mutations only).
type record struct {
	mu    sync.RWMutex
	task  Task
	queue []UpdateEvent
}

// Store is the in-memory Task projection: a map of records plus a stable
// insertion order, guarded by a single top-level lock for membership
// changes (insert/delete of a task id) while per-task mutations take only
// that task's own lock.
type Store struct {
	mu            sync.RWMutex
	records       map[ids.TaskId]*record
	order         []ids.TaskId
	queueCapacity int
}

// New constructs an empty Store with the default queue capacity.
func New() *Store {
	return &Store{records: make(map[ids.TaskId]*record), queueCapacity: DefaultQueueCapacity}
}

// NewWithQueueCapacity constructs an empty Store with a custom per-task
// update-queue capacity (mainly for tests exercising the overflow policy).
func NewWithQueueCapacity(capacity int) *Store {
	return &Store{records: make(map[ids.TaskId]*record), queueCapacity: capacity}
}

func cloneTask(t Task) Task {
	cp := t
	cp.History = append([]Message(nil), t.History...)
	cp.Artifacts = append([]Artifact(nil), t.Artifacts...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Upsert stores task, replacing any previous value, and returns the
// previous value if one existed (nil otherwise). It is the only operation
// that may introduce a new TaskId into order[].
func (s *Store) Upsert(task Task) *Task {
	s.mu.Lock()
	r, existed := s.records[task.ID]
	if !existed {
		r = &record{task: cloneTask(task)}
		s.records[task.ID] = r
		s.order = append(s.order, task.ID)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	r.mu.Lock()
	prev := cloneTask(r.task)
	r.task = cloneTask(task)
	r.mu.Unlock()
	return &prev
}

// Get returns the task for id with history truncated per historyLimit
// (nil or negative returns all history; 0 clears it; a positive K keeps
// the last K messages), or nil if absent.
func (s *Store) Get(id ids.TaskId, historyLimit *int) *Task {
	r := s.recordFor(id)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	t := cloneTask(r.task)
	r.mu.RUnlock()

	t.History = truncateHistory(t.History, historyLimit)
	return &t
}

func truncateHistory(history []Message, limit *int) []Message {
	if limit == nil || *limit < 0 {
		return history
	}
	if *limit == 0 {
		return nil
	}
	if *limit >= len(history) {
		return history
	}
	return history[len(history)-*limit:]
}

// Cancel sets task id's status to "cancelled" and returns the updated task,
// or nil if the task does not exist.
func (s *Store) Cancel(id ids.TaskId) *Task {
	r := s.recordFor(id)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.task.Status = Status{State: "cancelled", Timestamp: nowRFC3339()}
	t := cloneTask(r.task)
	r.mu.Unlock()
	return &t
}

// InsertMessage appends msg to the history of the task msg.TaskID resolves
// to. If TaskID is nil or does not resolve to a known task, InsertMessage
// is a no-op; task creation on first reference is the agent builder's
// concern, not the store's.
func (s *Store) InsertMessage(msg Message) {
	if msg.TaskID == nil {
		return
	}
	r := s.recordFor(*msg.TaskID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.task.History = append(r.task.History, msg)
	r.mu.Unlock()
}

// RecordStatusUpdate appends a Status TaskUpdateEvent to task_id's queue and
// updates the task's current status snapshot. It is a no-op if the task
// does not exist.
func (s *Store) RecordStatusUpdate(taskID ids.TaskId, contextID *ids.ContextId, status Status) {
	r := s.recordFor(taskID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.task.Status = status
	s.enqueue(r, UpdateEvent{Kind: UpdateStatus, TaskID: taskID, ContextID: contextID, Status: &status})
	r.mu.Unlock()
}

// RecordArtifactUpdate appends an Artifact TaskUpdateEvent to task_id's
// queue and appends artifact to the task's artifact list (storage is
// always per-append; Append/LastChunk are advisory hints for the reader).
// It is a no-op if the task does not exist.
func (s *Store) RecordArtifactUpdate(taskID ids.TaskId, contextID *ids.ContextId, artifact Artifact) {
	r := s.recordFor(taskID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.task.Artifacts = append(r.task.Artifacts, artifact)
	s.enqueue(r, UpdateEvent{Kind: UpdateArtifact, TaskID: taskID, ContextID: contextID, Artifact: &artifact})
	r.mu.Unlock()
}

// enqueue appends to r.queue, dropping the oldest entry first if the queue
// is already at capacity. Callers must hold r.mu.
func (s *Store) enqueue(r *record, ev UpdateEvent) {
	capacity := s.queueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if len(r.queue) >= capacity {
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, ev)
}

// DrainUpdates returns and clears task_id's pending update queue, in
// insertion order. Returns nil for an unknown task.
func (s *Store) DrainUpdates(taskID ids.TaskId) []UpdateEvent {
	r := s.recordFor(taskID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	drained := r.queue
	r.queue = nil
	r.mu.Unlock()
	return drained
}

// List returns a page of tasks matching filter, walked from filter.PageToken
// (the decimal offset into order[]), in insertion order.
func (s *Store) List(filter ListFilter) Page {
	s.mu.RLock()
	order := append([]ids.TaskId(nil), s.order...)
	s.mu.RUnlock()

	offset := 0
	if filter.PageToken != "" {
		if n, err := strconv.Atoi(filter.PageToken); err == nil && n > 0 {
			offset = n
		}
	}
	if offset > len(order) {
		offset = len(order)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = len(order) - offset
	}

	var out []Task
	idx := offset
	for idx < len(order) && len(out) < pageSize {
		id := order[idx]
		idx++
		r := s.recordFor(id)
		if r == nil {
			continue
		}
		r.mu.RLock()
		t := cloneTask(r.task)
		r.mu.RUnlock()

		if filter.ContextID != nil && (t.ContextID == nil || *t.ContextID != *filter.ContextID) {
			continue
		}
		if filter.Status != nil && t.Status.State != *filter.Status {
			continue
		}
		if !filter.IncludeArtifacts {
			t.Artifacts = nil
		}
		out = append(out, t)
	}

	page := Page{Tasks: out}
	if idx < len(order) {
		page.NextPageToken = strconv.Itoa(idx)
	}
	return page
}

func (s *Store) recordFor(id ids.TaskId) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }
