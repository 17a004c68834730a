// Package extract converts raw conversational text into a closed-vocabulary
// Intermediate Representation of entities and relations, combining a
// deterministic rule extractor with an optional oracle call and a
// structured-fact augmentation pass, then filters the result through the
// IR Critic before it reaches the graph store.
package extract

import (
	"manifold/internal/store"
)

// IREntity is one extracted entity candidate prior to critic filtering.
type IREntity struct {
	ID         string
	Name       string
	Type       store.EntityType
	Confidence float64
	IsUser     bool
	Attributes map[string]any
}

// IRRelation is one extracted relation candidate prior to critic filtering.
type IRRelation struct {
	SourceID   string
	TargetID   string
	Type       store.RelationType
	Confidence float64
	Desc       string
	Weight     float64
}

// IRMetadata carries provenance for the extraction run.
type IRMetadata struct {
	Source           string // "rule" | "oracle" | "rule+oracle"
	OverallConfidence float64
	Timestamp        string
}

// IR is the merged, pre-critic extraction result.
type IR struct {
	Entities  []IREntity
	Relations []IRRelation
	Metadata  IRMetadata
}

// Sufficient reports whether the IR contains at least one relation, the
// bar the drainer uses to decide whether a memory needs a G write.
func (ir IR) Sufficient() bool {
	return len(ir.Relations) > 0
}
