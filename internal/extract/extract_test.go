package extract

import (
	"context"
	"testing"

	"manifold/internal/store"
)

func TestExtract_RuleOnly_SufficientIR(t *testing.T) {
	ir, stats := Extract(context.Background(), "I live in Austin and I love hiking.", Options{})
	if !ir.Sufficient() {
		t.Fatalf("expected a sufficient IR, got %+v (stats=%+v)", ir, stats)
	}
	if ir.Metadata.Source != "rule" {
		t.Fatalf("expected source=rule with no provider, got %q", ir.Metadata.Source)
	}
	var livesIn bool
	for _, r := range ir.Relations {
		if r.Type == store.RelLivesIn {
			livesIn = true
		}
	}
	if !livesIn {
		t.Fatalf("expected a LIVES_IN relation to survive the critic, got %+v", ir.Relations)
	}
}

func TestExtract_EmptyText_NotSufficient(t *testing.T) {
	ir, _ := Extract(context.Background(), "", Options{})
	if ir.Sufficient() {
		t.Fatalf("expected no relations for empty text, got %+v", ir)
	}
}
