package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type relKey struct {
	userID, source, target string
	relType                RelationType
}

// memGraph is the in-process fallback G adapter: a mutex-guarded adjacency
// map, the same shape as the teacher's minimal in-memory graph, generalized
// to user-scoped typed entities/relations with merge and decay semantics.
type memGraph struct {
	mu        sync.Mutex
	entities  map[string]Entity // key: userID+"/"+id
	relations map[relKey]Relation
	adjacency map[string][]relKey // key: userID+"/"+sourceID
}

func NewMemoryGraph() Graph {
	return &memGraph{
		entities:  make(map[string]Entity),
		relations: make(map[relKey]Relation),
		adjacency: make(map[string][]relKey),
	}
}

func entKey(userID, id string) string { return userID + "/" + id }

func (g *memGraph) MergeEntity(_ context.Context, e Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := entKey(e.UserID, e.ID)
	now := time.Now()
	existing, ok := g.entities[key]
	if !ok {
		if e.FirstMentionedAt.IsZero() {
			e.FirstMentionedAt = now
		}
		if e.LastMentionedAt.IsZero() {
			e.LastMentionedAt = now
		}
		if e.MentionCount == 0 {
			e.MentionCount = 1
		}
		g.entities[key] = e
		return nil
	}
	existing.MentionCount++
	existing.LastMentionedAt = now
	existing.Name = e.Name
	if existing.Attributes == nil {
		existing.Attributes = map[string]any{}
	}
	for k, v := range e.Attributes {
		existing.Attributes[k] = v
	}
	g.entities[key] = existing
	return nil
}

func (g *memGraph) MergeRelation(_ context.Context, r Relation) error {
	if r.SourceID == r.TargetID {
		return fmt.Errorf("self-loop rejected: %s", r.SourceID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	k := relKey{userID: r.UserID, source: r.SourceID, target: r.TargetID, relType: r.Type}
	now := time.Now()
	if existing, ok := g.relations[k]; ok {
		if r.Weight > existing.Weight {
			existing.Weight = r.Weight
		}
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
		existing.Provenance = unionProvenance(existing.Provenance, r.Provenance)
		existing.UpdatedAt = now
		g.relations[k] = existing
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.DecayRate <= 0 {
		r.DecayRate = DefaultDecayRate
	}
	g.relations[k] = r
	adjKey := entKey(r.UserID, r.SourceID)
	g.adjacency[adjKey] = append(g.adjacency[adjKey], k)
	return nil
}

func unionProvenance(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

// SearchEntitiesByName scans the user's entities for a name containing
// query (lowercased comparison — a no-op fold for CJK, case-insensitive
// for Latin script). Bounded by limit, order is insertion-map-arbitrary
// since this is the in-memory fallback.
func (g *memGraph) SearchEntitiesByName(_ context.Context, userID, query string, limit int) ([]Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var out []Entity
	prefix := userID + "/"
	for key, e := range g.entities {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (g *memGraph) GetEntity(_ context.Context, userID, entityID string) (*Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[entKey(userID, entityID)]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

// QueryPaths runs a bounded, deduping BFS from the anchor entities.
func (g *memGraph) QueryPaths(_ context.Context, userID string, anchors []string, maxHops, maxNodesPerHop int) ([]Fact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	visited := map[string]bool{}
	var facts []Fact
	frontier := append([]string{}, anchors...)
	for _, a := range frontier {
		visited[a] = true
	}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			keys := g.adjacency[entKey(userID, node)]
			count := 0
			for _, k := range keys {
				if count >= maxNodesPerHop {
					break
				}
				r := g.relations[k]
				facts = append(facts, Fact{
					Entity:          node,
					Relation:        r.Type,
					Target:          r.TargetID,
					Hop:             hop,
					EffectiveWeight: r.EffectiveWeight(now),
				})
				count++
				if !visited[r.TargetID] {
					visited[r.TargetID] = true
					next = append(next, r.TargetID)
				}
			}
		}
		frontier = next
	}
	return facts, nil
}

// ApplyDecay rewrites weight and updated_at for up to pageSize edges
// untouched for more than a day; purely a bookkeeping pass since EffectiveWeight is
// already computed at read time without mutation.
func (g *memGraph) ApplyDecay(_ context.Context, pageSize int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	touched := 0
	for k, r := range g.relations {
		if touched >= pageSize {
			break
		}
		if now.Sub(r.UpdatedAt) < 24*time.Hour {
			continue
		}
		r.Weight = r.EffectiveWeight(now)
		r.UpdatedAt = now
		g.relations[k] = r
		touched++
	}
	return touched, nil
}
