package extract

import "manifold/internal/store"

// DefaultConfidenceThreshold and StrictConfidenceThreshold are the two
// operating points for the critic's confidence floor: default is used for
// ordinary turns, strict for content flagged as sensitive or already in
// conflict.
const (
	DefaultConfidenceThreshold = 0.5
	StrictConfidenceThreshold  = 0.7
)

// CriticStats reports, per drop reason, how many candidates the critic
// removed — surfaced so the drainer can log extraction quality.
type CriticStats struct {
	LowConfidenceEntities   int
	DisallowedEntityType    int
	DuplicateEntityID       int
	EmptyEntityName         int
	SelfLoopRelation        int
	LowConfidenceRelations  int
	DisallowedRelationType  int
	DanglingRelation        int
	DuplicateRelation       int
}

// RunCritic filters a merged IR down to the entities and relations that
// clear every admissibility rule, in the fixed order the algorithm
// specifies: entities are vetted first (name, confidence, type, dedup),
// then relations are vetted against the surviving entity set.
func RunCritic(ir IR, threshold float64) (IR, CriticStats) {
	var stats CriticStats

	seenEntityID := make(map[string]bool)
	keptEntities := make([]IREntity, 0, len(ir.Entities))
	survivingIDs := map[string]bool{store.UserEntityID: true}

	for _, e := range ir.Entities {
		if e.Name == "" && !e.IsUser {
			stats.EmptyEntityName++
			continue
		}
		if e.Confidence < threshold {
			stats.LowConfidenceEntities++
			continue
		}
		if !store.AllowedEntityTypes[e.Type] {
			stats.DisallowedEntityType++
			continue
		}
		if seenEntityID[e.ID] {
			stats.DuplicateEntityID++
			continue
		}
		seenEntityID[e.ID] = true
		survivingIDs[e.ID] = true
		keptEntities = append(keptEntities, e)
	}

	seenRelKey := make(map[string]bool)
	keptRelations := make([]IRRelation, 0, len(ir.Relations))
	for _, r := range ir.Relations {
		if r.SourceID == r.TargetID {
			stats.SelfLoopRelation++
			continue
		}
		if r.Confidence < threshold {
			stats.LowConfidenceRelations++
			continue
		}
		if !store.AllowedRelationTypes[r.Type] {
			stats.DisallowedRelationType++
			continue
		}
		if !survivingIDs[r.SourceID] || !survivingIDs[r.TargetID] {
			stats.DanglingRelation++
			continue
		}
		key := r.SourceID + "|" + r.TargetID + "|" + string(r.Type)
		if seenRelKey[key] {
			stats.DuplicateRelation++
			continue
		}
		seenRelKey[key] = true
		keptRelations = append(keptRelations, r)
	}

	out := IR{Entities: keptEntities, Relations: keptRelations, Metadata: ir.Metadata}
	overall := out.Metadata.OverallConfidence
	if overall == 0 && out.Sufficient() {
		var max float64
		for _, r := range keptRelations {
			if r.Confidence > max {
				max = r.Confidence
			}
		}
		out.Metadata.OverallConfidence = max
	}
	return out, stats
}
