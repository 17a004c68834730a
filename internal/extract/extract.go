package extract

import (
	"context"

	"manifold/internal/oracle"
)

// Options configures one Extract call.
type Options struct {
	// Provider is the generation oracle used for the oracle extraction
	// pass. May be nil, in which case extraction runs rule-only.
	Provider oracle.Provider
	Model    string
	// Strict raises the critic's confidence floor, used for turns already
	// flagged by conflict detection as needing tighter admission.
	Strict bool
}

// Extract runs the full extraction pipeline over one turn's text: the
// deterministic rule pass, the bounded oracle pass, structured-fact
// augmentation, a merge of all three, and finally the IR Critic. Callers
// should skip this entirely for text where IsQuestion is true — questions
// never produce graph writes.
func Extract(ctx context.Context, text string, opts Options) (IR, CriticStats) {
	ruleEntities, ruleRelations := applyRules(text)
	oracleEntities, oracleRelations := applyOracle(ctx, opts.Provider, opts.Model, text)
	augEntities, augRelations := augmentStructuredFacts(text)

	entities, relations := mergeIR(
		[][]IREntity{ruleEntities, oracleEntities, augEntities},
		[][]IRRelation{ruleRelations, oracleRelations, augRelations},
	)

	source := "rule"
	if opts.Provider != nil {
		source = "rule+oracle"
	}
	var maxConf float64
	for _, r := range relations {
		if r.Confidence > maxConf {
			maxConf = r.Confidence
		}
	}

	merged := IR{
		Entities:  entities,
		Relations: relations,
		Metadata: IRMetadata{
			Source:            source,
			OverallConfidence: maxConf,
		},
	}

	threshold := DefaultConfidenceThreshold
	if opts.Strict {
		threshold = StrictConfidenceThreshold
	}
	return RunCritic(merged, threshold)
}
