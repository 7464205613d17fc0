package normalize

// relabel rewrites raw PROV relations into semantic edge labels for graph
// queries when a matched tuple of (from-label, to-label, role, prov:type)
// is recognized. Unmatched tuples retain their raw relation name.
func relabel(rel Relation, fromLabel, toLabel, role, typ string) string {
	switch rel {
	case RelUsed:
		switch {
		case fromLabel == "TaskExecution" && toLabel == "Message" && role == "input_message":
			return "WAS_SPAWNED_BY"
		case fromLabel == "MessageProcessing" && toLabel == "Message" && role == "input_message":
			return "WAS_RECEIVED_BY"
		case (fromLabel == "LlmCall" || fromLabel == "ToolCall") && toLabel == "Message" && role == "input_message":
			return "WAS_CONSUMED_BY"
		case fromLabel == "TaskExecution" && toLabel == "TaskState" && role == "task_state":
			return "WAS_UPDATED_BY"
		case fromLabel == "AgentBoot" && toLabel == "Archive" && role == "archive":
			return "WAS_BOOTSTRAPPED_BY"
		}
	case RelWasGeneratedBy:
		switch {
		case fromLabel == "Message" && toLabel == "MessageProcessing":
			return "WAS_EMITTED_BY"
		case fromLabel == "Artifact" && toLabel == "TaskExecution":
			return "WAS_GENERATED_BY"
		case fromLabel == "A2ATask" && toLabel == "TaskExecution":
			return "WAS_CREATED_BY"
		case fromLabel == "AgentRuntimeInstance" && toLabel == "AgentBoot":
			return "WAS_SPAWNED_BY"
		}
	case RelWasAssociatedWith:
		switch role {
		case "executing_agent":
			return "WAS_EXECUTED_BY"
		case "invoking_agent":
			return "WAS_INVOKED_BY"
		case "calling_agent":
			return "WAS_CALLED_BY"
		}
	case RelWasDerivedFrom:
		if typ == "status_transition" {
			return "WAS_TRANSITIONED_FROM"
		}
	}
	return string(rel)
}

func newEdge(rel Relation, from, to, role, typ string, timeMs *int64, fromLabel, toLabel string) Edge {
	return Edge{
		From:     from,
		To:       to,
		Relation: rel,
		Role:     role,
		Type:     typ,
		TimeMs:   timeMs,
		Label:    relabel(rel, fromLabel, toLabel, role, typ),
	}
}
