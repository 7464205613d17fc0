package normalize

import "fmt"

// Validate checks one normalized document for structural well-formedness —
// no dangling relation endpoints — independently of whatever the graph
// store does with it. The checks run in-process over the Document
// Normalize already produced, so callers can assert well-formedness
// without standing up a store.
//
// A real MERGE-based writer never introduces a dangling edge on its own —
// every edge Normalize emits references a node emitted in the same or an
// earlier call — but Validate exists to catch it if that invariant is ever
// violated, and to let tests assert it directly.
func Validate(p *NormalizedProv) error {
	if p == nil {
		return fmt.Errorf("prov/normalize: nil document")
	}

	known := make(map[string]struct{}, len(p.Document.Entities)+len(p.Document.Activities)+len(p.Document.Agents))
	for _, n := range p.Document.Entities {
		known[n.Name] = struct{}{}
	}
	for _, n := range p.Document.Activities {
		known[n.Name] = struct{}{}
	}
	for _, n := range p.Document.Agents {
		known[n.Name] = struct{}{}
	}

	for _, e := range p.Document.Edges {
		if _, ok := known[e.From]; !ok {
			return fmt.Errorf("prov/normalize: dangling edge %s %s -> %s: %q not declared in this document", e.Relation, e.From, e.To, e.From)
		}
		if _, ok := known[e.To]; !ok {
			return fmt.Errorf("prov/normalize: dangling edge %s %s -> %s: %q not declared in this document", e.Relation, e.From, e.To, e.To)
		}
	}
	for _, d := range p.DerivedRelations {
		if _, ok := known[d.From]; !ok {
			return fmt.Errorf("prov/normalize: dangling derived relation %s %s -> %s: %q not declared in this document", d.Kind, d.From, d.To, d.From)
		}
		if _, ok := known[d.To]; !ok {
			return fmt.Errorf("prov/normalize: dangling derived relation %s %s -> %s: %q not declared in this document", d.Kind, d.From, d.To, d.To)
		}
	}
	return nil
}
