package extract

import (
	"context"
	"encoding/json"
	"testing"

	"manifold/internal/oracle"
	"manifold/internal/store"
)

type fakeProvider struct {
	reply oracle.Message
	err   error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []oracle.Message, tools []oracle.ToolSchema, model string) (oracle.Message, error) {
	return f.reply, f.err
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []oracle.Message, tools []oracle.ToolSchema, model string, h oracle.StreamHandler) error {
	return f.err
}

func TestApplyOracle_ParsesToolCall(t *testing.T) {
	payload, _ := json.Marshal(oracleExtraction{
		Entities: []oracleEntity{{Name: "Austin", Type: "Location"}},
		Relations: []oracleRelation{
			{Source: "user", Target: "Austin", Type: "LIVES_IN"},
		},
	})
	p := &fakeProvider{reply: oracle.Message{
		Role: "assistant",
		ToolCalls: []oracle.ToolCall{
			{Name: "emit_extraction", Args: payload},
		},
	}}

	entities, relations := applyOracle(context.Background(), p, "test-model", "I live in Austin")
	if len(entities) != 1 || entities[0].Name != "Austin" {
		t.Fatalf("expected one Austin entity, got %+v", entities)
	}
	if len(relations) != 1 || relations[0].Type != store.RelLivesIn || relations[0].SourceID != store.UserEntityID {
		t.Fatalf("expected one LIVES_IN relation from user, got %+v", relations)
	}
}

func TestApplyOracle_NilProviderReturnsEmpty(t *testing.T) {
	entities, relations := applyOracle(context.Background(), nil, "model", "anything")
	if entities != nil || relations != nil {
		t.Fatalf("expected nil results for nil provider, got entities=%+v relations=%+v", entities, relations)
	}
}

func TestApplyOracle_MissingToolCallReturnsEmpty(t *testing.T) {
	p := &fakeProvider{reply: oracle.Message{Role: "assistant", Content: "no structured output"}}
	entities, relations := applyOracle(context.Background(), p, "model", "anything")
	if entities != nil || relations != nil {
		t.Fatalf("expected nil results when no tool call is present, got entities=%+v relations=%+v", entities, relations)
	}
}

func TestMapRelationToken_KnownAndUnknown(t *testing.T) {
	if got := MapRelationToken("coworker"); got != store.RelColleagueOf {
		t.Fatalf("expected COLLEAGUE_OF, got %v", got)
	}
	if got := MapRelationToken("同事"); got != store.RelColleagueOf {
		t.Fatalf("expected COLLEAGUE_OF for 同事, got %v", got)
	}
	if got := MapRelationToken("something completely unrelated"); got != store.RelRelatedTo {
		t.Fatalf("expected RELATED_TO fallback, got %v", got)
	}
}
