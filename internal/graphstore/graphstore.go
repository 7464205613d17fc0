// Package graphstore defines the provenance graph writer contract: an
// idempotent, MERGE-by-name sink for the Document/DerivedRelation
// pairs the normalizer (internal/prov/normalize) produces, plus the
// deterministic emission order repeated writes of the same input must
// reproduce (entities, then activities, then agents, then raw edges, then
// derived edges — each category sorted lexicographically by id).
package graphstore

import (
	"context"
	"sort"

	"goa.design/agenthost/internal/prov/normalize"
)

// Writer is the sink a provenance pipeline upserts normalized events into.
// Implementations must treat every Upsert as MERGE-by-name: writing the same
// Document twice must leave the store in the same state as writing it once.
type Writer interface {
	Upsert(ctx context.Context, prov *normalize.NormalizedProv) error
}

// Op is one ordered write operation extracted from a NormalizedProv, in the
// exact sequence a Writer must apply them.
type Op struct {
	NodeOp *normalize.Node
	EdgeOp *EdgeOp
}

// EdgeOp is a raw or derived edge write, carrying enough of the source
// document's shape for a Writer to MERGE it without needing the original
// Document back.
type EdgeOp struct {
	From, To string
	Relation string
	Role     string
	Type     string
	TimeMs   *int64
	Label    string
	Derived  bool
}

// Plan orders a NormalizedProv into a deterministic operation sequence:
// entities, activities, agents (each sorted by Name), then raw PROV
// edges sorted by (from, to, relation), then A2A-specific derived edges
// sorted by (from, to).
func Plan(prov *normalize.NormalizedProv) []Op {
	var ops []Op

	entities := append([]normalize.Node(nil), prov.Document.Entities...)
	sortNodes(entities)
	for i := range entities {
		ops = append(ops, Op{NodeOp: &entities[i]})
	}

	activities := append([]normalize.Node(nil), prov.Document.Activities...)
	sortNodes(activities)
	for i := range activities {
		ops = append(ops, Op{NodeOp: &activities[i]})
	}

	agents := append([]normalize.Node(nil), prov.Document.Agents...)
	sortNodes(agents)
	for i := range agents {
		ops = append(ops, Op{NodeOp: &agents[i]})
	}

	edges := append([]normalize.Edge(nil), prov.Document.Edges...)
	sortEdges(edges)
	for _, e := range edges {
		ops = append(ops, Op{EdgeOp: &EdgeOp{
			From: e.From, To: e.To, Relation: string(e.Relation),
			Role: e.Role, Type: e.Type, TimeMs: e.TimeMs, Label: e.Label,
		}})
	}

	derived := append([]normalize.DerivedRelation(nil), prov.DerivedRelations...)
	sort.Slice(derived, func(i, j int) bool {
		if derived[i].From != derived[j].From {
			return derived[i].From < derived[j].From
		}
		return derived[i].To < derived[j].To
	})
	for _, d := range derived {
		ops = append(ops, Op{EdgeOp: &EdgeOp{
			From: d.From, To: d.To, Relation: string(d.Kind), Label: string(d.Kind), Derived: true,
		}})
	}

	return ops
}

func sortNodes(nodes []normalize.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
}

func sortEdges(edges []normalize.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Relation < edges[j].Relation
	})
}
