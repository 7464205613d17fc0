// Package external collects the interfaces the host depends on but does not
// implement itself: the compiled agent package's JS entry point, the LLM
// provider, the graph store, and the on-disk package layout. Concrete
// adapters live in sibling packages (internal/llmexec for LlmExecutor,
// internal/graphstore for GraphStore) so this package stays dependency-free,
// a deliberate split between small consumer-side interfaces
// and their concrete provider packages.
package external

import (
	"context"

	"goa.design/agenthost/internal/graphstore"
)

// JsBridge invokes a named function exported by an agent package's compiled
// JS entry point with a single JSON-shaped argument, returning the raw
// JSON-shaped result. The A2A router (internal/a2a) is its primary caller:
// any method that is not a protocol method (tasks/*, agent/*) is dispatched
// here by method name.
type JsBridge interface {
	// Invoke calls functionName with args and returns the decoded result.
	// A FunctionNotFound error indicates no such export exists; any other
	// failure is ExecutionFailed.
	Invoke(ctx context.Context, functionName string, args any) (any, error)
}

// LlmExecutor runs one LLM completion call against a concrete provider.
// internal/llmexec supplies Anthropic- and OpenAI-backed implementations;
// the interceptor pipeline wraps calls made through it.
type LlmExecutor interface {
	Complete(ctx context.Context, req LlmRequest) (LlmResponse, error)
}

// LlmRequest is the provider-agnostic shape of a single completion request.
type LlmRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// LlmResponse is the provider-agnostic shape of a single completion result.
type LlmResponse struct {
	Text       string
	StopReason string
	Usage      LlmUsage
}

// LlmUsage reports token accounting for a completion call.
type LlmUsage struct {
	InputTokens  int
	OutputTokens int
}

// GraphStore is the provenance graph writer every host binary is configured
// against (memory or Mongo-backed); it is simply an alias for
// graphstore.Writer so callers outside internal/graphstore don't need to
// import that package directly for the type name.
type GraphStore = graphstore.Writer

// AgentPackage describes an already-extracted agent package directory per
// the manifest.json shape: {name, version, entry_point, signature, tools}.
type AgentPackage struct {
	Name        string
	Version     string
	EntryPoint  string
	Signature   string
	Tools       []string
	Dir         string
	BamlSrcPath string
}

// DefaultEntryPoint is the entry_point manifest default when unspecified.
const DefaultEntryPoint = "dist/index.js"
