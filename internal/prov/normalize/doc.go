// Package normalize implements the provenance normalizer: a pure transform
// from a runtime event into a typed PROV subgraph plus A2A-specific derived
// relations, with deterministic node ids so repeated normalization of equal
// inputs produces byte-identical upserts.
package normalize

import "goa.design/agenthost/internal/ids"

// NodeKind is one of the three PROV node categories.
type NodeKind string

const (
	KindEntity   NodeKind = "entity"
	KindActivity NodeKind = "activity"
	KindAgent    NodeKind = "agent"
)

// Node is a single PROV node. Name is the derived, stable primary key the
// graph store writer MERGEs on; ProvType is the "prov:type" vocabulary
// term (e.g. "a2a:LlmCall"); Label is ProvType's sanitized node label.
type Node struct {
	Name     string
	Kind     NodeKind
	ProvType string
	Label    string
	Props    map[string]any
}

// Relation is a raw PROV relation type.
type Relation string

const (
	RelUsed              Relation = "USED"
	RelWasGeneratedBy    Relation = "WAS_GENERATED_BY"
	RelWasAssociatedWith Relation = "WAS_ASSOCIATED_WITH"
	RelWasDerivedFrom    Relation = "WAS_DERIVED_FROM"
)

// Edge is a raw PROV relation between two nodes (by Name), carrying the
// optional role/type qualifiers the relabeling table matches against,
// plus the derived semantic Label itself.
type Edge struct {
	From, To string
	Relation Relation
	Role     string
	Type     string
	TimeMs   *int64
	Label    string
}

// DerivedKind enumerates the A2A-specific edges not directly expressible
// in PROV.
type DerivedKind string

const (
	DerivedTaskMessage       DerivedKind = "A2A_TASK_MESSAGE"
	DerivedTaskArtifact      DerivedKind = "A2A_TASK_ARTIFACT"
	DerivedTaskCall          DerivedKind = "A2A_TASK_CALL"
	DerivedTaskStatusTransit DerivedKind = "A2A_TASK_STATUS_TRANSITION"
	DerivedMessageCall       DerivedKind = "A2A_MESSAGE_CALL"
)

// DerivedRelation is one A2A-specific typed edge.
type DerivedRelation struct {
	From, To string
	Kind     DerivedKind
}

// Document is the PROV graph produced by normalizing one event: typed node
// collections plus the raw PROV edges between them.
type Document struct {
	Entities   []Node
	Activities []Node
	Agents     []Node
	Edges      []Edge
}

// NormalizedProv is the full output of Normalize: the PROV document, the
// A2A-specific derived relations, and a convenience map of agent node name
// to display label (used by agent.card-adjacent tooling).
type NormalizedProv struct {
	Document         Document
	DerivedRelations []DerivedRelation
	AgentLabels      map[string]string
}

// sanitizeLabel derives a graph label from a prov:type term: take the last
// ':'-delimited segment, replace non-alphanumeric characters with '_', and
// prefix "L_" if the result does not start with a letter.
func sanitizeLabel(provType string) string {
	seg := provType
	for i := len(provType) - 1; i >= 0; i-- {
		if provType[i] == ':' {
			seg = provType[i+1:]
			break
		}
	}
	out := make([]byte, len(seg))
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	label := string(out)
	if label == "" {
		return "L_"
	}
	if !((label[0] >= 'a' && label[0] <= 'z') || (label[0] >= 'A' && label[0] <= 'Z')) {
		label = "L_" + label
	}
	return label
}

func newNode(kind NodeKind, name, provType string, props map[string]any) Node {
	return Node{Name: name, Kind: kind, ProvType: provType, Label: sanitizeLabel(provType), Props: props}
}

// Vocabulary terms for every node kind the normalizer produces.
const (
	provArchive              = "a2a:Archive"
	provAgentBoot            = "a2a:AgentBoot"
	provAgentRuntimeInstance = "a2a:AgentRuntimeInstance"
	provA2ATask              = "a2a:A2ATask"
	provTaskExecution        = "a2a:TaskExecution"
	provTaskState            = "a2a:TaskState"
	provArtifact             = "a2a:Artifact"
	provMessage              = "a2a:Message"
	provMessageProcessing    = "a2a:MessageProcessing"
	provLlmCall              = "a2a:LlmCall"
	provToolCall             = "a2a:ToolCall"
	provPrompt               = "a2a:Prompt"
	provArgs                 = "a2a:Args"
)

func archiveNode(agent ids.AgentId, pkg, version string) Node {
	return newNode(KindEntity, ids.ArchiveNodeName(agent), provArchive, map[string]any{
		"package_name": pkg,
		"version":      version,
	})
}

func agentBootNode(agent ids.AgentId) Node {
	return newNode(KindActivity, ids.AgentBootNodeName(agent), provAgentBoot, nil)
}

func agentRuntimeInstanceNode(agent ids.AgentId) Node {
	return newNode(KindAgent, ids.AgentRuntimeInstanceNodeName(agent), provAgentRuntimeInstance, map[string]any{
		"agent_id": string(agent),
	})
}

func runnerNode() Node {
	return newNode(KindAgent, ids.RunnerRuntimeInstanceName, provAgentRuntimeInstance, map[string]any{
		"agent_id": "runner",
	})
}

// taskEntityNode omits agent_id when the owning agent is unknown so an
// additive upsert never blanks out the attribution a TaskCreated event
// recorded.
func taskEntityNode(task ids.TaskId, agent ids.AgentId) Node {
	props := map[string]any{"task_id": string(task)}
	if agent != "" {
		props["agent_id"] = string(agent)
	}
	return newNode(KindEntity, ids.TaskNodeName(task), provA2ATask, props)
}

func taskExecutionNode(task ids.TaskId, endTimeMs *int64) Node {
	props := map[string]any{}
	if endTimeMs != nil {
		props["end_time_ms"] = *endTimeMs
	}
	return newNode(KindActivity, ids.TaskExecutionNodeName(task), provTaskExecution, props)
}

func taskStateNode(task ids.TaskId, event ids.EventId, state string, timestampMs int64) Node {
	return newNode(KindEntity, ids.TaskStateNodeName(task, event), provTaskState, map[string]any{
		"state":        state,
		"timestamp_ms": timestampMs,
	})
}

func artifactNode(task ids.TaskId, artifactID ids.ArtifactId, artifactType string) Node {
	return newNode(KindEntity, ids.ArtifactNodeName(task, artifactType), provArtifact, map[string]any{
		"artifact_id": string(artifactID),
		"type":        artifactType,
	})
}

// messageNode omits agent_id when the agent is unknown (a call event's
// scope names a message without its sender) so an additive upsert never
// blanks out the agent_id a MessageReceived/MessageSent event recorded.
func messageNode(msg ids.MessageId, agent ids.AgentId) Node {
	var props map[string]any
	if agent != "" {
		props = map[string]any{"agent_id": string(agent)}
	}
	return newNode(KindEntity, ids.MessageNodeName(msg), provMessage, props)
}

func messageProcessingNode(msg ids.MessageId) Node {
	return newNode(KindActivity, ids.MessageProcessingNodeName(msg), provMessageProcessing, nil)
}
