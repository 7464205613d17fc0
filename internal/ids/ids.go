// Package ids defines strongly-typed identifier newtypes for the agent
// runtime host, following the five id constructions the provenance plane
// relies on for idempotency: external, temporal, monotonic, UUID, and
// derived. Each family gets its own type so callers cannot accidentally mix,
// say, a TaskId with a ContextId at compile time.
package ids

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type (
	// TaskId is an external id: opaque, supplied by the caller.
	TaskId string
	// MessageId is an external id: opaque, supplied by the caller.
	MessageId string
	// ArtifactId is an external id: opaque, supplied by the caller (may be
	// absent — see taskstore.Artifact).
	ArtifactId string

	// ContextId is a temporal id of the form ctx-<unix_millis>-<counter>.
	ContextId string
	// CorrelationId is a temporal id of the form corr-<unix_millis>-<counter>.
	CorrelationId string

	// EventId is a monotonic id of the form prov-<counter>.
	EventId string

	// AgentId is a UUID v4.
	AgentId string
	// ToolSessionId is a UUID v4.
	ToolSessionId string
)

// NewAgentId generates a fresh UUID v4 AgentId.
func NewAgentId() AgentId { return AgentId(uuid.NewString()) }

// NewToolSessionId generates a fresh UUID v4 ToolSessionId.
func NewToolSessionId() ToolSessionId { return ToolSessionId(uuid.NewString()) }

// ParseAgentId validates that s is a well-formed UUID and returns it as an
// AgentId.
func ParseAgentId(s string) (AgentId, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid agent id %q: %w", s, err)
	}
	return AgentId(s), nil
}

// ParseToolSessionId validates that s is a well-formed UUID and returns it as
// a ToolSessionId.
func ParseToolSessionId(s string) (ToolSessionId, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid tool session id %q: %w", s, err)
	}
	return ToolSessionId(s), nil
}

// NewContextId builds a temporal ContextId from a millisecond timestamp and
// a monotonic counter. Callers supply both rather than reading the clock
// here so tests and the request router stay deterministic.
func NewContextId(millis int64, counter uint64) ContextId {
	return ContextId(fmt.Sprintf("ctx-%d-%d", millis, counter))
}

// ParseContextId validates the ctx-<millis>-<counter> shape and returns the
// parsed millis/counter pair alongside the id itself.
func ParseContextId(s string) (ContextId, int64, uint64, error) {
	millis, counter, err := parseTemporal(s, "ctx")
	if err != nil {
		return "", 0, 0, err
	}
	return ContextId(s), millis, counter, nil
}

// NewCorrelationId builds a temporal CorrelationId.
func NewCorrelationId(millis int64, counter uint64) CorrelationId {
	return CorrelationId(fmt.Sprintf("corr-%d-%d", millis, counter))
}

// ParseCorrelationId validates the corr-<millis>-<counter> shape.
func ParseCorrelationId(s string) (CorrelationId, int64, uint64, error) {
	millis, counter, err := parseTemporal(s, "corr")
	if err != nil {
		return "", 0, 0, err
	}
	return CorrelationId(s), millis, counter, nil
}

func parseTemporal(s, prefix string) (int64, uint64, error) {
	rest, ok := strings.CutPrefix(s, prefix+"-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed %s id %q: missing %q prefix", prefix, s, prefix+"-")
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed %s id %q: expected <millis>-<counter>", prefix, s)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed %s id %q: bad millis segment: %w", prefix, s, err)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed %s id %q: bad counter segment: %w", prefix, s, err)
	}
	return millis, counter, nil
}

// NewEventId builds a monotonic EventId from a counter.
func NewEventId(counter uint64) EventId {
	return EventId(fmt.Sprintf("prov-%d", counter))
}

// TaskNodeName returns the derived, deterministic node id for a Task entity.
func TaskNodeName(task TaskId) string { return "task:" + string(task) }

// LlmCallNodeName returns the derived node id for an LlmCall activity.
func LlmCallNodeName(event EventId) string { return "llm_call:" + string(event) }

// ToolCallNodeName returns the derived node id for a ToolCall activity.
func ToolCallNodeName(event EventId) string { return "tool_call:" + string(event) }

// ArtifactNodeName returns the derived node id for an artifact keyed by
// (task, type) — stable across repeated append/last_chunk updates to the
// same artifact.
func ArtifactNodeName(task TaskId, artifactType string) string {
	return "artifact:" + string(task) + ":" + artifactType
}

// MessageNodeName returns the derived node id for a message entity.
func MessageNodeName(msg MessageId) string { return "message:" + string(msg) }

// TaskExecutionNodeName returns the derived node id for a task's execution
// activity.
func TaskExecutionNodeName(task TaskId) string { return "task_execution:" + string(task) }

// TaskStateNodeName returns the derived node id for a task status snapshot
// entity, disambiguated by the event that produced it so successive status
// changes do not collide.
func TaskStateNodeName(task TaskId, event EventId) string {
	return "task_state:" + string(task) + ":" + string(event)
}

// AgentRuntimeInstanceNodeName returns the derived node id for a booted
// agent's runtime instance.
func AgentRuntimeInstanceNodeName(agent AgentId) string {
	return "agent_runtime_instance:" + string(agent)
}

// AgentBootNodeName returns the derived node id for an agent's boot activity.
func AgentBootNodeName(agent AgentId) string { return "agent_boot:" + string(agent) }

// ArchiveNodeName returns the derived node id for the archive entity used by
// bootstrapping.
func ArchiveNodeName(agent AgentId) string { return "archive:" + string(agent) }

// MessageProcessingNodeName returns the derived node id for the activity
// that processes a single message.
func MessageProcessingNodeName(msg MessageId) string { return "message_processing:" + string(msg) }

// RunnerRuntimeInstanceName is the constant-identity Agent node representing
// the host process itself, lazily ensured present by the normalizer.
const RunnerRuntimeInstanceName = "agent_runtime_instance:runner"

// PromptNodeName returns the derived node id for an LlmCall's prompt entity,
// keyed by the call's shared CallID so Started and Completed events derive
// the same name.
func PromptNodeName(call EventId) string { return "prompt:" + string(call) }

// ArgsNodeName returns the derived node id for a ToolCall's arguments
// entity, keyed by the call's shared CallID.
func ArgsNodeName(call EventId) string { return "args:" + string(call) }
