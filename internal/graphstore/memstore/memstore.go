// Package memstore provides an in-memory graphstore.Writer (a node map and
// an edge map behind one mutex):
// useful for fast unit tests of components that depend on a graphstore.Writer
// without needing a live MongoDB (see graphstore/mongostore for that).
package memstore

import (
	"context"
	"sync"

	"goa.design/agenthost/internal/graphstore"
	"goa.design/agenthost/internal/prov/normalize"
)

// StoredEdge is one upserted edge, keyed by (From, To, Relation) so a
// repeated MERGE of the same edge overwrites rather than duplicates.
type StoredEdge struct {
	From, To string
	Relation string
	Role     string
	Type     string
	TimeMs   *int64
	Label    string
	Derived  bool
}

type edgeKey struct {
	from, to, relation string
}

// Store is a goroutine-safe in-memory Writer. The zero value is not usable;
// construct with New.
type Store struct {
	mu    sync.Mutex
	nodes map[string]normalize.Node
	edges map[edgeKey]StoredEdge
}

var _ graphstore.Writer = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{nodes: make(map[string]normalize.Node), edges: make(map[edgeKey]StoredEdge)}
}

// Upsert applies graphstore.Plan's deterministic operation sequence,
// MERGE-by-name for nodes and MERGE-by-(from,to,relation) for edges.
func (s *Store) Upsert(_ context.Context, prov *normalize.NormalizedProv) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range graphstore.Plan(prov) {
		switch {
		case op.NodeOp != nil:
			mergeNode(s.nodes, *op.NodeOp)
		case op.EdgeOp != nil:
			key := edgeKey{op.EdgeOp.From, op.EdgeOp.To, op.EdgeOp.Relation}
			s.edges[key] = StoredEdge{
				From: op.EdgeOp.From, To: op.EdgeOp.To, Relation: op.EdgeOp.Relation,
				Role: op.EdgeOp.Role, Type: op.EdgeOp.Type, TimeMs: op.EdgeOp.TimeMs,
				Label: op.EdgeOp.Label, Derived: op.EdgeOp.Derived,
			}
		}
	}
	return nil
}

// mergeNode applies node as a MERGE, not a replace: identity fields
// (Kind/ProvType/Label) are set once on insert, and Props is merged key by
// key onto any existing node rather than replacing the map wholesale, so a
// later event re-touching the same derived node (e.g. a task artifact write
// after the TaskExecution node already has end_time_ms set) can never wipe
// properties a previous event recorded.
func mergeNode(nodes map[string]normalize.Node, node normalize.Node) {
	existing, ok := nodes[node.Name]
	if !ok {
		if node.Props == nil {
			node.Props = map[string]any{}
		} else {
			props := make(map[string]any, len(node.Props))
			for k, v := range node.Props {
				props[k] = v
			}
			node.Props = props
		}
		nodes[node.Name] = node
		return
	}
	if existing.Kind == "" {
		existing.Kind = node.Kind
	}
	if existing.ProvType == "" {
		existing.ProvType = node.ProvType
	}
	if existing.Label == "" {
		existing.Label = node.Label
	}
	if existing.Props == nil {
		existing.Props = map[string]any{}
	}
	for k, v := range node.Props {
		existing.Props[k] = v
	}
	nodes[node.Name] = existing
}

// Node returns the current node stored under name, if any.
func (s *Store) Node(name string) (normalize.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	return n, ok
}

// NodeCount returns the number of distinct nodes currently stored.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// EdgeCount returns the number of distinct (from, to, relation) edges
// currently stored.
func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}
