// Package tools implements the tool registry and the tool session FSM:
// metadata registration with allowlist enforcement, the
// strict Open -> Send -> Next* -> Finish|Abort lifecycle, and a small plan
// interpreter that drives a session end to end.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/agenthost/internal/errs"
	"goa.design/agenthost/internal/ids"
	"goa.design/agenthost/internal/scope"
)

// SecretRequirement documents a secret a tool needs supplied at invocation
// time, carried as a typed pair (rather than an opaque string) so
// agent.card's tool export can render it for operators.
type SecretRequirement struct {
	Name        string
	Description string
}

// Metadata is the registry's catalog entry for a single tool, host-native
// or JS-defined.
type Metadata struct {
	// Name is the full "<bundle>/<local>" tool name.
	Name string
	// Bundle and Local are Name split on "/" (see ParseName).
	Bundle, Local string
	// ClassName is derived from Bundle+Local, capitalized (ParseName).
	ClassName string

	Description        string
	InputSchema        map[string]any
	OutputSchema       map[string]any
	OpenInputSchema    map[string]any
	Tags               []string
	SecretRequirements []SecretRequirement
	IsHostTool         bool

	compiledInput *jsonschemav6.Schema
}

// Export is the public subset of Metadata returned by agent.card. It
// never includes the compiled schema or other internal detail.
type Export struct {
	Name               string
	ClassName          string
	Description        string
	InputSchema        map[string]any
	OutputSchema       map[string]any
	Tags               []string
	SecretRequirements []SecretRequirement
	IsHostTool         bool
}

// ParseName splits a tool name into its bundle/local parts and derives the
// registry's class name: "support/calculate" -> bundle="support",
// local="calculate", class="SupportCalculate".
func ParseName(name string) (bundle, local, class string, err error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errs.Newf(errs.InvalidArgument, "tool name %q must have the form <bundle>/<local>", name)
	}
	bundle, local = parts[0], parts[1]
	class = capitalize(bundle) + capitalize(local)
	return bundle, local, class, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Export returns the public subset of m for agent.card.
func (m Metadata) Export() Export {
	return Export{
		Name:               m.Name,
		ClassName:          m.ClassName,
		Description:        m.Description,
		InputSchema:        m.InputSchema,
		OutputSchema:       m.OutputSchema,
		Tags:               m.Tags,
		SecretRequirements: m.SecretRequirements,
		IsHostTool:         m.IsHostTool,
	}
}

// Registry is the tool metadata catalog plus the live tool sessions map.
// Registration (writes) is rare and setup-time; session traffic (reads plus
// per-session locking) is the hot path.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Metadata
	allowlist map[string]struct{}

	sessMu   sync.Mutex
	sessions map[ids.ToolSessionId]*sessionEntry
}

// NewRegistry constructs an empty Registry gated by allowlist (the agent's
// declared tool_allowlist). A nil allowlist allows every host tool to
// register (used for agents whose allowlist is not yet determined, e.g.
// tests); in production the agent builder always supplies one.
func NewRegistry(allowlist []string) *Registry {
	al := make(map[string]struct{}, len(allowlist))
	for _, name := range allowlist {
		al[name] = struct{}{}
	}
	return &Registry{
		tools:     make(map[string]*Metadata),
		allowlist: al,
		sessions:  make(map[ids.ToolSessionId]*sessionEntry),
	}
}

// Register adds a tool to the catalog. Host tools (IsHostTool) whose name
// is absent from the agent's allowlist are rejected; JS-defined tools are
// not allowlist-gated since they are declared per-agent by the package
// itself.
func (r *Registry) Register(m Metadata) error {
	bundle, local, class, err := ParseName(m.Name)
	if err != nil {
		return err
	}
	m.Bundle, m.Local, m.ClassName = bundle, local, class

	if m.IsHostTool && len(r.allowlist) > 0 {
		if _, ok := r.allowlist[m.Name]; !ok {
			return errs.Newf(errs.InvalidArgument, "host tool %q is not in the agent's tool allowlist", m.Name)
		}
	}

	if len(m.InputSchema) > 0 {
		compiled, err := compileSchema(m.InputSchema)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("compile input schema for tool %q", m.Name))
		}
		m.compiledInput = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[m.Name] = &m
	return nil
}

func compileSchema(doc map[string]any) (*jsonschemav6.Schema, error) {
	c := jsonschemav6.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// Get returns the metadata for name, or nil if unregistered.
func (r *Registry) Get(name string) *Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns every registered tool's public Export, sorted by name.
func (r *Registry) List() []Export {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Export, 0, len(r.tools))
	for _, m := range r.tools {
		out = append(out, m.Export())
	}
	sortExportsByName(out)
	return out
}

func sortExportsByName(out []Export) {
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Name < out[j-1].Name; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
}

// Infer scans the catalog for tools whose input schema matches input: the
// predicate is "type is object and every required key is present". Zero
// matches or more than one match is an error.
func (r *Registry) Infer(input map[string]any) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Metadata
	for _, m := range r.tools {
		if schemaMatchesInput(m.InputSchema, input) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errs.New(errs.InvalidArgument, "no registered tool's input schema matches the given input")
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return nil, errs.Newf(errs.InvalidArgument, "ambiguous tool input: matches %s", strings.Join(names, ", "))
	}
}

func schemaMatchesInput(schema map[string]any, input map[string]any) bool {
	if schema == nil {
		return false
	}
	if t, ok := schema["type"].(string); !ok || t != "object" {
		return false
	}
	required, _ := schema["required"].([]any)
	for _, r := range required {
		key, ok := r.(string)
		if !ok {
			return false
		}
		if _, present := input[key]; !present {
			return false
		}
	}
	return true
}

// ValidateInput validates payload against name's compiled input schema, a
// no-op success if the tool has no schema.
func (r *Registry) ValidateInput(name string, payload any) error {
	m := r.Get(name)
	if m == nil {
		return errs.Newf(errs.FunctionNotFound, "tool %q is not registered", name)
	}
	if m.compiledInput == nil {
		return nil
	}
	if err := m.compiledInput.Validate(payload); err != nil {
		return errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("input for tool %q failed schema validation", name))
	}
	return nil
}

// scopedCtx reinstalls snapshot on ctx so tool callbacks always see the
// originator's scope, even when the session advances on a different
// goroutine.
func scopedCtx(ctx context.Context, snapshot scope.Scope) context.Context {
	return scope.WithScope(ctx, snapshot)
}

// nativeReflector inlines everything with no $schema/$id noise and honors
// jsonschema struct tags for descriptions/required/enum/default/bounds.
var nativeReflector = &jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

// generateNativeSchema reflects a Go type into a JSON Schema document usable
// as Metadata.InputSchema/OutputSchema, so host-native tools never
// hand-author their schemas.
func generateNativeSchema[T any]() (map[string]any, error) {
	schema := nativeReflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal generated schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	return doc, nil
}

// NativeTool is what a host-native tool implementation supplies to
// RegisterNative: everything Metadata needs except the schemas, which are
// reflected from In/Out.
type NativeTool struct {
	Name               string
	Description        string
	Tags               []string
	SecretRequirements []SecretRequirement
}

// RegisterNative registers a host-native tool whose input/output shapes are
// Go types In and Out, generating both JSON Schema documents via
// generateNativeSchema instead of requiring the caller to hand-author them.
// IsHostTool is always true for natively registered tools.
func RegisterNative[In, Out any](r *Registry, t NativeTool) error {
	inSchema, err := generateNativeSchema[In]()
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("generate input schema for native tool %q", t.Name))
	}
	outSchema, err := generateNativeSchema[Out]()
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, fmt.Sprintf("generate output schema for native tool %q", t.Name))
	}
	return r.Register(Metadata{
		Name:               t.Name,
		Description:        t.Description,
		InputSchema:        inSchema,
		OutputSchema:       outSchema,
		OpenInputSchema:    inSchema,
		Tags:               t.Tags,
		SecretRequirements: t.SecretRequirements,
		IsHostTool:         true,
	})
}
