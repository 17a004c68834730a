package store

import "context"

// Graph is the G adapter: typed entities and relations with continuous
// decay, scoped by user.
type Graph interface {
	// MergeEntity upserts by (user_id, id): on hit, increments mention_count,
	// bumps last_mentioned_at, unions attributes, and never overwrites
	// first_mentioned_at.
	MergeEntity(ctx context.Context, e Entity) error

	// MergeRelation upserts by (user_id, source_id, target_id, type): on
	// hit, weight = max(existing, new), provenance = union, confidence =
	// max(existing, new), updated_at = now.
	MergeRelation(ctx context.Context, r Relation) error

	GetEntity(ctx context.Context, userID, entityID string) (*Entity, error)

	// SearchEntitiesByName resolves free-form query text to existing entity
	// nodes: case-insensitive contains match for Latin names, exact
	// substring match for CJK (no case to fold). Used by retrieval's query
	// entity extraction to turn extracted tokens into traversal anchors.
	SearchEntitiesByName(ctx context.Context, userID, query string, limit int) ([]Entity, error)

	// QueryPaths traverses up to maxHops from the given anchor entity ids,
	// returning facts with effective_weight computed at read time.
	QueryPaths(ctx context.Context, userID string, anchors []string, maxHops int, maxNodesPerHop int) ([]Fact, error)

	// ApplyDecay scans up to pageSize edges older than one day since
	// updated_at and writes back the decayed weight, advancing updated_at.
	// Returns the number of edges touched.
	ApplyDecay(ctx context.Context, pageSize int) (int, error)
}
