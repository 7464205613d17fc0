// Package mongostore provides a MongoDB-backed graphstore.Writer.
//
// This implementation persists the provenance graph across two collections,
// prov_nodes and prov_edges, for durability across restarts, suitable for
// production deployments.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/agenthost/internal/graphstore"
	"goa.design/agenthost/internal/prov/normalize"
)

// Store is a MongoDB implementation of the graphstore.Writer interface.
type Store struct {
	nodes *mongo.Collection
	edges *mongo.Collection
}

var _ graphstore.Writer = (*Store)(nil)

// nodeDocument is the MongoDB document representation of a PROV node.
type nodeDocument struct {
	Name     string         `bson:"_id"`
	Kind     string         `bson:"kind"`
	ProvType string         `bson:"prov_type"`
	Label    string         `bson:"label"`
	Props    map[string]any `bson:"props,omitempty"`
}

// edgeDocument is the MongoDB document representation of a PROV or derived
// edge. ID is the deterministic MERGE key: (from, to, relation).
type edgeDocument struct {
	ID       string `bson:"_id"`
	From     string `bson:"from"`
	To       string `bson:"to"`
	Relation string `bson:"relation"`
	Role     string `bson:"role,omitempty"`
	Type     string `bson:"type,omitempty"`
	TimeMs   *int64 `bson:"time_ms,omitempty"`
	Label    string `bson:"label"`
	Derived  bool   `bson:"derived"`
}

// New creates a new MongoDB-backed Store using the given database. The two
// collections (prov_nodes, prov_edges) are created lazily by MongoDB on
// first write.
func New(db *mongo.Database) *Store {
	return &Store{
		nodes: db.Collection("prov_nodes"),
		edges: db.Collection("prov_edges"),
	}
}

// Upsert applies graphstore.Plan's deterministic operation sequence as a
// series of MERGE-by-id writes, so that writing the same NormalizedProv
// twice leaves the two collections in the same state as writing it once.
// Node writes are additive ($set per props.<key>, $setOnInsert for
// the immutable kind/prov_type/label identity fields): a later event that
// re-touches an already-upserted node (e.g. a task artifact write after the
// TaskExecution node already carries end_time_ms) can only add or overwrite
// the keys it actually carries, never blank out properties a previous event
// recorded.
func (s *Store) Upsert(ctx context.Context, prov *normalize.NormalizedProv) error {
	upsert := options.UpdateOne().SetUpsert(true)
	replace := options.Replace().SetUpsert(true)
	for _, op := range graphstore.Plan(prov) {
		switch {
		case op.NodeOp != nil:
			update := bson.M{
				"$setOnInsert": bson.M{
					"kind":      string(op.NodeOp.Kind),
					"prov_type": op.NodeOp.ProvType,
					"label":     op.NodeOp.Label,
				},
			}
			if len(op.NodeOp.Props) > 0 {
				set := bson.M{}
				for k, v := range op.NodeOp.Props {
					set["props."+k] = v
				}
				update["$set"] = set
			}
			if _, err := s.nodes.UpdateOne(ctx, bson.M{"_id": op.NodeOp.Name}, update, upsert); err != nil {
				return fmt.Errorf("mongodb upsert node %q: %w", op.NodeOp.Name, err)
			}
		case op.EdgeOp != nil:
			id := edgeID(op.EdgeOp.From, op.EdgeOp.To, op.EdgeOp.Relation)
			doc := edgeDocument{
				ID: id, From: op.EdgeOp.From, To: op.EdgeOp.To, Relation: op.EdgeOp.Relation,
				Role: op.EdgeOp.Role, Type: op.EdgeOp.Type, TimeMs: op.EdgeOp.TimeMs,
				Label: op.EdgeOp.Label, Derived: op.EdgeOp.Derived,
			}
			if _, err := s.edges.ReplaceOne(ctx, bson.M{"_id": id}, doc, replace); err != nil {
				return fmt.Errorf("mongodb upsert edge %q: %w", id, err)
			}
		}
	}
	return nil
}

func edgeID(from, to, relation string) string {
	return from + "|" + relation + "|" + to
}

// EnsureIndexes creates the indexes the graph's common query shapes need: a
// compound unique (from, relation, to) index enforcing the edge MERGE key
// explicitly, rather than relying only on the incidental uniqueness of the
// synthesized _id, plus a compound
// (from, relation) index for outbound-edge lookups and a compound
// (to, relation) index for inbound-edge lookups.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	edges := db.Collection("prov_edges")
	_, err := edges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "from", Value: 1}, {Key: "relation", Value: 1}, {Key: "to", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "from", Value: 1}, {Key: "relation", Value: 1}}},
		{Keys: bson.D{{Key: "to", Value: 1}, {Key: "relation", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb ensure prov_edges indexes: %w", err)
	}
	return nil
}
