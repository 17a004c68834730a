package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgGraph struct{ pool *pgxpool.Pool }

// NewPostgresGraph wires the G adapter onto Postgres. Unlike a bare
// last-write-wins upsert, entity and relation merges here follow §4.5.2:
// mention_count increments, first_mentioned_at is preserved, and relation
// weight/provenance/confidence are merged by max/union rather than
// overwritten.
func NewPostgresGraph(pool *pgxpool.Pool) Graph {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entities (
  user_id TEXT NOT NULL, id TEXT NOT NULL, name TEXT NOT NULL, type TEXT NOT NULL,
  mention_count INT NOT NULL DEFAULT 1,
  first_mentioned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_mentioned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
  PRIMARY KEY(user_id, id)
)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS relations (
  user_id TEXT NOT NULL, source_id TEXT NOT NULL, target_id TEXT NOT NULL, type TEXT NOT NULL,
  weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0.03,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  provenance JSONB NOT NULL DEFAULT '[]'::jsonb,
  confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  PRIMARY KEY(user_id, source_id, target_id, type)
)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS relations_source_idx ON relations(user_id, source_id)`)
	return &pgGraph{pool: pool}
}

func (g *pgGraph) MergeEntity(ctx context.Context, e Entity) error {
	attrs, _ := json.Marshal(e.Attributes)
	_, err := g.pool.Exec(ctx, `
INSERT INTO entities(user_id, id, name, type, mention_count, first_mentioned_at, last_mentioned_at, attributes)
VALUES ($1,$2,$3,$4,1,now(),now(),$5)
ON CONFLICT (user_id, id) DO UPDATE SET
  name = EXCLUDED.name,
  mention_count = entities.mention_count + 1,
  last_mentioned_at = now(),
  attributes = entities.attributes || EXCLUDED.attributes
`, e.UserID, e.ID, e.Name, e.Type, attrs)
	return err
}

func (g *pgGraph) GetEntity(ctx context.Context, userID, entityID string) (*Entity, error) {
	row := g.pool.QueryRow(ctx, `SELECT user_id, id, name, type, mention_count, first_mentioned_at, last_mentioned_at, attributes
		FROM entities WHERE user_id=$1 AND id=$2`, userID, entityID)
	var e Entity
	var attrs []byte
	if err := row.Scan(&e.UserID, &e.ID, &e.Name, &e.Type, &e.MentionCount, &e.FirstMentionedAt, &e.LastMentionedAt, &attrs); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(attrs, &e.Attributes)
	return &e, nil
}

// SearchEntitiesByName resolves query text to existing entity nodes via a
// case-insensitive ILIKE contains match, bounded by limit.
func (g *pgGraph) SearchEntitiesByName(ctx context.Context, userID, query string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := g.pool.Query(ctx, `
SELECT user_id, id, name, type, mention_count, first_mentioned_at, last_mentioned_at, attributes
FROM entities WHERE user_id=$1 AND name ILIKE '%' || $2 || '%' LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities by name: %w", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		var attrs []byte
		if err := rows.Scan(&e.UserID, &e.ID, &e.Name, &e.Type, &e.MentionCount, &e.FirstMentionedAt, &e.LastMentionedAt, &attrs); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(attrs, &e.Attributes)
		out = append(out, e)
	}
	return out, nil
}

func (g *pgGraph) MergeRelation(ctx context.Context, r Relation) error {
	if r.SourceID == r.TargetID {
		return fmt.Errorf("self-loop rejected: %s", r.SourceID)
	}
	prov, _ := json.Marshal(r.Provenance)
	decay := r.DecayRate
	if decay <= 0 {
		decay = DefaultDecayRate
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO relations(user_id, source_id, target_id, type, weight, decay_rate, created_at, updated_at, provenance, confidence)
VALUES ($1,$2,$3,$4,$5,$6,now(),now(),$7,$8)
ON CONFLICT (user_id, source_id, target_id, type) DO UPDATE SET
  weight = GREATEST(relations.weight, EXCLUDED.weight),
  confidence = GREATEST(relations.confidence, EXCLUDED.confidence),
  updated_at = now(),
  provenance = (
    SELECT jsonb_agg(DISTINCT e) FROM jsonb_array_elements_text(relations.provenance || EXCLUDED.provenance) e
  )
`, r.UserID, r.SourceID, r.TargetID, r.Type, r.Weight, decay, prov, r.Confidence)
	return err
}

// QueryPaths traverses the relations table breadth-first, bounding node
// expansion per hop and deduping visits in the caller's process (Postgres
// recursive CTEs don't cleanly express the per-hop node cap from §4.4.1).
func (g *pgGraph) QueryPaths(ctx context.Context, userID string, anchors []string, maxHops, maxNodesPerHop int) ([]Fact, error) {
	visited := map[string]bool{}
	frontier := append([]string{}, anchors...)
	for _, a := range frontier {
		visited[a] = true
	}
	var facts []Fact
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		rows, err := g.pool.Query(ctx, `
SELECT source_id, type, target_id, weight, decay_rate, updated_at
FROM relations WHERE user_id=$1 AND source_id = ANY($2)
ORDER BY source_id LIMIT $3`, userID, frontier, len(frontier)*maxNodesPerHop)
		if err != nil {
			return nil, fmt.Errorf("query paths: %w", err)
		}
		var next []string
		perSource := map[string]int{}
		for rows.Next() {
			var source, target string
			var relType RelationType
			r := Relation{}
			if err := rows.Scan(&source, &relType, &target, &r.Weight, &r.DecayRate, &r.UpdatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			if perSource[source] >= maxNodesPerHop {
				continue
			}
			perSource[source]++
			facts = append(facts, Fact{Entity: source, Relation: relType, Target: target, Hop: hop, EffectiveWeight: r.EffectiveWeight(time.Now())})
			if !visited[target] {
				visited[target] = true
				next = append(next, target)
			}
		}
		rows.Close()
		frontier = next
	}
	return facts, nil
}

func (g *pgGraph) ApplyDecay(ctx context.Context, pageSize int) (int, error) {
	rows, err := g.pool.Query(ctx, `
SELECT user_id, source_id, target_id, type, weight, decay_rate, updated_at
FROM relations WHERE updated_at < now() - interval '1 day' LIMIT $1`, pageSize)
	if err != nil {
		return 0, fmt.Errorf("scan decay page: %w", err)
	}
	type edgeID struct{ userID, source, target string; typ RelationType }
	var toUpdate []edgeID
	var newWeights []float64
	for rows.Next() {
		var id edgeID
		r := Relation{}
		if err := rows.Scan(&id.userID, &id.source, &id.target, &id.typ, &r.Weight, &r.DecayRate, &r.UpdatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		toUpdate = append(toUpdate, id)
		newWeights = append(newWeights, r.EffectiveWeight(time.Now()))
	}
	rows.Close()
	for i, id := range toUpdate {
		if _, err := g.pool.Exec(ctx, `UPDATE relations SET weight=$5, updated_at=now()
			WHERE user_id=$1 AND source_id=$2 AND target_id=$3 AND type=$4`,
			id.userID, id.source, id.target, id.typ, newWeights[i]); err != nil {
			return i, err
		}
	}
	return len(toUpdate), nil
}
