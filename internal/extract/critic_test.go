package extract

import (
	"testing"

	"manifold/internal/store"
)

func TestRunCritic_DropsLowConfidenceAndDisallowedTypes(t *testing.T) {
	ir := IR{
		Entities: []IREntity{
			{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.6},
			{ID: "bogus", Name: "Bogus", Type: store.EntityType("Alien"), Confidence: 0.9},
			{ID: "weak", Name: "Weak", Type: store.EntityLocation, Confidence: 0.1},
		},
		Relations: []IRRelation{
			{SourceID: store.UserEntityID, TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.7},
		},
	}
	out, stats := RunCritic(ir, DefaultConfidenceThreshold)
	if len(out.Entities) != 1 || out.Entities[0].ID != "location_austin" {
		t.Fatalf("expected only location_austin to survive, got %+v", out.Entities)
	}
	if stats.DisallowedEntityType != 1 || stats.LowConfidenceEntities != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(out.Relations) != 1 {
		t.Fatalf("expected 1 surviving relation, got %+v", out.Relations)
	}
}

func TestRunCritic_DropsSelfLoopAndDanglingRelations(t *testing.T) {
	ir := IR{
		Entities: []IREntity{
			{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.6},
		},
		Relations: []IRRelation{
			{SourceID: "location_austin", TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.9},
			{SourceID: store.UserEntityID, TargetID: "location_nowhere", Type: store.RelLivesIn, Confidence: 0.9},
		},
	}
	out, stats := RunCritic(ir, DefaultConfidenceThreshold)
	if len(out.Relations) != 0 {
		t.Fatalf("expected no surviving relations, got %+v", out.Relations)
	}
	if stats.SelfLoopRelation != 1 || stats.DanglingRelation != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunCritic_DropsDuplicateEntityAndRelation(t *testing.T) {
	ir := IR{
		Entities: []IREntity{
			{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.6},
			{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.9},
		},
		Relations: []IRRelation{
			{SourceID: store.UserEntityID, TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.6},
			{SourceID: store.UserEntityID, TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.9},
		},
	}
	out, stats := RunCritic(ir, DefaultConfidenceThreshold)
	if len(out.Entities) != 1 || len(out.Relations) != 1 {
		t.Fatalf("expected dedup to 1 entity and 1 relation, got entities=%+v relations=%+v", out.Entities, out.Relations)
	}
	if stats.DuplicateEntityID != 1 || stats.DuplicateRelation != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunCritic_StrictThreshold(t *testing.T) {
	ir := IR{
		Entities: []IREntity{
			{ID: "location_austin", Name: "Austin", Type: store.EntityLocation, Confidence: 0.6},
		},
		Relations: []IRRelation{
			{SourceID: store.UserEntityID, TargetID: "location_austin", Type: store.RelLivesIn, Confidence: 0.6},
		},
	}
	out, _ := RunCritic(ir, StrictConfidenceThreshold)
	if len(out.Relations) != 0 {
		t.Fatalf("expected strict threshold (0.7) to drop a 0.6-confidence relation, got %+v", out.Relations)
	}
}
