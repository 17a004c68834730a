// Package retrieve implements the hybrid retrieval module (Re) from §4.4:
// a vector-search and graph-traversal fork-join, a unified rerank over the
// combined candidate set, and the recency/question-intent adjustments that
// shape what the conversation core puts in front of the generation oracle.
package retrieve

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"manifold/internal/config"
	"manifold/internal/extract"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

// perSourceTimeout bounds each fork-join branch independently; a slow or
// unreachable vector/graph backend yields an empty result for its branch
// rather than stalling the whole retrieval.
const perSourceTimeout = 1500 * time.Millisecond

// Candidate is one reranked memory in the final retrieval result.
type Candidate struct {
	Memory store.Memory
	Score  float64
}

// Result is the combined output of a hybrid_retrieve call: reranked
// memories plus the structured graph facts that have no single memory to
// attach to (facts are surfaced to the prompt as a separate list).
type Result struct {
	Candidates []Candidate
	Facts      []store.Fact
}

// Service wires the store adapters and embedding/generation oracles needed
// to run hybrid retrieval for one user turn.
type Service struct {
	Vector   store.Vector
	Graph    store.Graph
	R        store.Relational
	Embedder oracle.Embedder
	Provider oracle.Provider // optional; used only for the query-entity fallback
	Model    string
	Cfg      config.RetrievalConfig
}

func (s *Service) topK() int {
	if s.Cfg.TopK > 0 {
		return s.Cfg.TopK
	}
	return 20
}

func (s *Service) topKVector() int {
	if s.Cfg.TopKVector > 0 {
		return s.Cfg.TopKVector
	}
	return 32
}

func (s *Service) maxHops() int {
	if s.Cfg.MaxHops > 0 {
		return s.Cfg.MaxHops
	}
	return 3
}

func (s *Service) maxNodesPerHop() int {
	if s.Cfg.MaxNodesPerHop > 0 {
		return s.Cfg.MaxNodesPerHop
	}
	return 50
}

func (s *Service) weights() (cos, edge, rec, aff float64) {
	cos, edge, rec, aff = s.Cfg.WeightCosine, s.Cfg.WeightEdge, s.Cfg.WeightRecency, s.Cfg.WeightAffinity
	if cos == 0 && edge == 0 && rec == 0 && aff == 0 {
		return 0.55, 0.20, 0.15, 0.10
	}
	return
}

func (s *Service) recencyHalfLifeDays() float64 {
	if s.Cfg.RecencyHalfLifeDays > 0 {
		return s.Cfg.RecencyHalfLifeDays
	}
	return 30
}

func (s *Service) recentBoostDays() int {
	if s.Cfg.RecentBoostDays > 0 {
		return s.Cfg.RecentBoostDays
	}
	return 7
}

func (s *Service) recentBoostScore() float64 {
	if s.Cfg.RecentBoostScore > 0 {
		return s.Cfg.RecentBoostScore
	}
	return 0.15
}

// HybridRetrieve runs the vector-search and graph-traversal branches in
// parallel with independent deadlines, reranks the combined candidates,
// and applies the recency boost — all per §4.4.
func (s *Service) HybridRetrieve(ctx context.Context, userID, query string, affinityScore float64) (Result, error) {
	var vecHits []store.VectorHit
	var facts []store.Fact

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecHits = s.vectorBranch(gctx, userID, query)
		return nil
	})
	g.Go(func() error {
		facts = s.graphBranch(gctx, userID, query)
		return nil
	})
	_ = g.Wait() // branches never return an error; each degrades to empty internally

	ids := make([]string, 0, len(vecHits))
	for _, h := range vecHits {
		ids = append(ids, h.ID)
	}
	memsByID := map[string]store.Memory{}
	if len(ids) > 0 {
		mems, err := s.R.GetMemoriesByIDs(ctx, userID, ids)
		if err == nil {
			for _, m := range mems {
				memsByID[m.ID] = m
			}
		}
	}

	cosByMem := make(map[string]float64, len(vecHits))
	for _, h := range vecHits {
		cosByMem[h.ID] = h.Cosine
	}

	edgeBoostByMem := edgeWeightByMemory(facts, memsByID)

	isQuestion := extract.IsQuestion(query)

	candidates := make([]Candidate, 0, len(memsByID))
	for id, mem := range memsByID {
		score := s.score(mem, cosByMem[id], edgeBoostByMem[id], affinityScore)
		if !isQuestion && withinDays(mem.CreatedAt, s.recentBoostDays()) {
			score += s.recentBoostScore()
		}
		candidates = append(candidates, Candidate{Memory: mem, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Memory.CreatedAt.After(candidates[j].Memory.CreatedAt)
	})
	if k := s.topK(); len(candidates) > k {
		candidates = candidates[:k]
	}

	return Result{Candidates: candidates, Facts: facts}, nil
}

// RetrieveEntityFacts runs the §4.4.1 graph fact lookup on its own, for
// callers that join it against hybrid_retrieve at a separate point in the
// turn algorithm (§4.1 step 4 names both calls explicitly, run in
// parallel with independent per-source timeouts).
func (s *Service) RetrieveEntityFacts(ctx context.Context, userID, query string) []store.Fact {
	return s.graphBranch(ctx, userID, query)
}

func (s *Service) vectorBranch(ctx context.Context, userID, query string) []store.VectorHit {
	cctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
	defer cancel()
	if s.Embedder == nil || s.Vector == nil {
		return nil
	}
	vecs, err := s.Embedder.EmbedBatch(cctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	hits, err := s.Vector.Search(cctx, userID, vecs[0], s.topKVector())
	if err != nil {
		return nil
	}
	return hits
}

func (s *Service) graphBranch(ctx context.Context, userID, query string) []store.Fact {
	cctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
	defer cancel()
	if s.Graph == nil {
		return nil
	}

	entities := ExtractQueryEntities(cctx, s.Provider, s.Model, query)
	if len(entities) == 0 {
		return nil
	}

	anchorSet := map[string]bool{}
	var anchors []string
	for _, e := range entities {
		matches, err := s.Graph.SearchEntitiesByName(cctx, userID, e, 5)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !anchorSet[m.ID] {
				anchorSet[m.ID] = true
				anchors = append(anchors, m.ID)
			}
		}
	}
	if len(anchors) == 0 {
		return nil
	}

	facts, err := s.Graph.QueryPaths(cctx, userID, anchors, s.maxHops(), s.maxNodesPerHop())
	if err != nil {
		return nil
	}

	if WantsSemanticExpansion(query) {
		expanded := facts[:0:0]
		for _, f := range facts {
			expanded = append(expanded, f)
		}
		for _, f := range facts {
			if f.Relation == store.RelLivesIn && IsCoastalCity(f.Target) {
				expanded = append(expanded, f)
			}
		}
		facts = expanded
	}

	return facts
}

// score implements §4.4.2's unified rerank formula.
func (s *Service) score(m store.Memory, cos, edgeBoost, affinityScore float64) float64 {
	wCos, wEdge, wRec, wAff := s.weights()
	recency := math.Exp(-ageDays(m.CreatedAt) / s.recencyHalfLifeDays())
	affBonus := 0.0
	if m.Valence > 0 {
		affBonus = m.Valence * affinityScore
	}
	return wCos*cos + wEdge*edgeBoost + wRec*recency + wAff*affBonus
}

func ageDays(t time.Time) float64 {
	return time.Since(t).Hours() / 24
}

func withinDays(t time.Time, days int) bool {
	return time.Since(t) <= time.Duration(days)*24*time.Hour
}

// edgeWeightByMemory sums effective_weight for every fact whose entity or
// target name is textually present in a memory's content. Relation.
// Provenance records conversation/turn ids rather than memory ids, so
// there is no direct fact-to-memory foreign key to join on; mention
// matching is the closest available approximation of "edges touching m"
// from Fact and Memory alone.
func edgeWeightByMemory(facts []store.Fact, mems map[string]store.Memory) map[string]float64 {
	out := make(map[string]float64, len(mems))
	for id, m := range mems {
		var sum float64
		for _, f := range facts {
			if containsName(m.Content, f.Entity) || containsName(m.Content, f.Target) {
				sum += f.EffectiveWeight
			}
		}
		if sum > 0 {
			out[id] = sum
		}
	}
	return out
}

func containsName(content, name string) bool {
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(name))
}
