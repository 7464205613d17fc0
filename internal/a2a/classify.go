package a2a

import (
	"strings"

	"goa.design/agenthost/internal/errs"
)

// classifyError maps an internal errs.Kind (via errs.KindOf) to a JSON-RPC
// error code and message. Opaque errors default (via errs.KindOf) to
// ExecutionFailed, reported as "Script error" since the bridge boundary is
// the expected source of opaque errors.
func classifyError(err error) *JsonRpcError {
	if err == nil {
		return nil
	}
	code, msg := codeAndMessage(err)
	return &JsonRpcError{Code: code, Message: msg, Data: err.Error()}
}

// isStreamMethod reports whether method is one of the recognized streaming
// shapes: message.sendStream, tasks.subscribe, or any method carrying a
// /stream, .stream, or :stream suffix.
func isStreamMethod(base string, streamSuffix bool) bool {
	if streamSuffix {
		return true
	}
	return base == "message.sendStream" || base == "tasks.subscribe"
}

// classifyMethod splits method into its dispatchable base name and whether
// it streams (per isStreamMethod: a stream suffix, or a base of
// message.sendStream or tasks.subscribe), stripping a trailing /stream,
// .stream, or :stream suffix and, if present, an agent-name prefix matching
// ownAgentName. Only a prefix the router can unambiguously attribute to
// itself is stripped — a blind split on "." or "/" would misparse protocol
// methods like "message.send" as agent-prefixed.
func classifyMethod(method, ownAgentName string) (base string, stream bool) {
	base = method
	for _, suf := range []string{"/stream", ".stream", ":stream"} {
		if strings.HasSuffix(base, suf) {
			base = strings.TrimSuffix(base, suf)
			stream = true
			break
		}
	}
	if ownAgentName != "" {
		for _, sep := range []string{"::", "/", "."} {
			prefix := ownAgentName + sep
			if strings.HasPrefix(base, prefix) {
				base = strings.TrimPrefix(base, prefix)
				break
			}
		}
	}
	return base, isStreamMethod(base, stream)
}

func codeAndMessage(err error) (int, string) {
	switch errs.KindOf(err) {
	case errs.InvalidArgument:
		return -32602, "Invalid params"
	case errs.FunctionNotFound:
		return -32601, "Method not found"
	case errs.ExecutionFailed:
		return -32000, "Script error"
	default:
		return -32603, "Internal error"
	}
}
