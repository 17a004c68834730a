package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manifold/internal/affinity"
	"manifold/internal/config"
	"manifold/internal/oracle"
	"manifold/internal/retrieve"
	"manifold/internal/store"
	"manifold/internal/testhelpers"
)

func newTestService(t *testing.T, provider oracle.Provider) *Service {
	t.Helper()
	r := store.NewMemoryRelational()
	v := store.NewMemoryVector(8)
	g := store.NewMemoryGraph()
	embedder := oracle.NewDeterministicEmbedder(8, true, 1)
	return &Service{
		R: r,
		Retrieve: &retrieve.Service{
			Vector:   v,
			Graph:    g,
			R:        r,
			Embedder: embedder,
			Provider: provider,
			Model:    "test-model",
		},
		Affinity: &affinity.Service{R: r, Cfg: config.AffinityConfig{}},
		Provider: provider,
		Model:    "test-model",
		Cfg:      config.Config{},
	}
}

func TestProcessTurn_GreetingShortCircuitsWithNoPersistence(t *testing.T) {
	svc := newTestService(t, &testhelpers.FakeProvider{Err: assertErr("generate should not be called")})
	reply, err := svc.ProcessTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "hello!"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)
	assert.Empty(t, reply.MemoryID)

	turns, _ := svc.R.RecentTurns(context.Background(), "s1", 10)
	assert.Empty(t, turns, "greeting short-circuit must not write any turn")
}

func TestProcessTurn_IdempotencyKeyReplaysCachedReply(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: oracle.Message{Role: "assistant", Content: "first reply"}}
	svc := newTestService(t, provider)
	req := Request{UserID: "u1", SessionID: "s1", Text: "tell me something new", IdempotencyKey: "key-1"}

	first, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "first reply", first.Text)

	provider.Resp = oracle.Message{Role: "assistant", Content: "second reply"}
	second, err := svc.ProcessTurn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text, "replayed turn must return the cached reply, not a freshly generated one")
}

func TestProcessTurn_QuestionSkipsExtractionButKeepsHistory(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: oracle.Message{Role: "assistant", Content: "Qingdao is on the coast."}}
	svc := newTestService(t, provider)
	reply, err := svc.ProcessTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "where is Qingdao?"})
	require.NoError(t, err)
	assert.Equal(t, "Qingdao is on the coast.", reply.Text)
	require.NotEmpty(t, reply.MemoryID)

	mem, err := svc.R.GetMemory(context.Background(), "u1", reply.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, mem)

	turns, _ := svc.R.RecentTurns(context.Background(), "s1", 10)
	assert.Len(t, turns, 2, "question turns still persist user+assistant turns")
}

func TestProcessTurn_NormalTurnPersistsAndUpdatesAffinity(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: oracle.Message{Role: "assistant", Content: "Nice to hear that!"}}
	svc := newTestService(t, provider)

	before, _, err := svc.Affinity.Get(context.Background(), "u1")
	require.NoError(t, err)

	reply, err := svc.ProcessTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "thank you so much, I'm so happy today"})
	require.NoError(t, err)
	assert.Equal(t, "Nice to hear that!", reply.Text)

	after, _, err := svc.Affinity.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Greater(t, after, before, "positive-valence turn should raise affinity")

	turns, _ := svc.R.RecentTurns(context.Background(), "s1", 10)
	assert.Len(t, turns, 2)
}

func TestProcessTurn_MemorizeOnlySkipsGeneration(t *testing.T) {
	svc := newTestService(t, &testhelpers.FakeProvider{Err: assertErr("generate should not be called for memorize-only")})
	reply, err := svc.ProcessTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "note: my flight is at 6pm", MemorizeOnly: true})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	require.NotEmpty(t, reply.MemoryID)

	mem, err := svc.R.GetMemory(context.Background(), "u1", reply.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, mem)
}

func TestProcessTurn_GenerationFailureDegradesGracefully(t *testing.T) {
	svc := newTestService(t, &testhelpers.FakeProvider{Err: assertErr("boom")})
	reply, err := svc.ProcessTurn(context.Background(), Request{UserID: "u1", SessionID: "s1", Text: "how is the weather"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)
}

// assertErr is a trivial error type for fakes that should never be invoked
// on the happy path being tested.
type assertErr string

func (e assertErr) Error() string { return string(e) }
