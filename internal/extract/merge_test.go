package extract

import (
	"testing"

	"manifold/internal/store"
)

func TestMergeIR_UnionsEntitiesAndTakesMaxConfidence(t *testing.T) {
	a := []IREntity{{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.5}}
	b := []IREntity{{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.9,
		Attributes: map[string]any{"country": "US"}}}

	entities, _ := mergeIR([][]IREntity{a, b}, nil)
	if len(entities) != 1 {
		t.Fatalf("expected 1 merged entity, got %d", len(entities))
	}
	if entities[0].Confidence != 0.9 {
		t.Fatalf("expected merged confidence 0.9, got %v", entities[0].Confidence)
	}
	if entities[0].Attributes["country"] != "US" {
		t.Fatalf("expected attributes to be filled in from the second group, got %+v", entities[0].Attributes)
	}
}

func TestMergeIR_UnionsRelationsByKey(t *testing.T) {
	a := []IRRelation{{SourceID: "user", TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.55}}
	b := []IRRelation{{SourceID: "user", TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.8, Desc: "oracle-confirmed"}}

	_, relations := mergeIR(nil, [][]IRRelation{a, b})
	if len(relations) != 1 {
		t.Fatalf("expected 1 merged relation, got %d", len(relations))
	}
	if relations[0].Confidence != 0.8 {
		t.Fatalf("expected merged confidence 0.8, got %v", relations[0].Confidence)
	}
	if relations[0].Desc != "oracle-confirmed" {
		t.Fatalf("expected desc to be filled in, got %q", relations[0].Desc)
	}
}

func TestMergeIR_DistinctKeysStayDistinct(t *testing.T) {
	a := []IRRelation{{SourceID: "user", TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.55}}
	b := []IRRelation{{SourceID: "user", TargetID: "location_chicago", Type: store.RelFrom, Confidence: 0.55}}

	_, relations := mergeIR(nil, [][]IRRelation{a, b})
	if len(relations) != 2 {
		t.Fatalf("expected 2 distinct relations, got %d", len(relations))
	}
}
