package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/config"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Relational, store.Vector) {
	t.Helper()
	r := store.NewMemoryRelational()
	v := store.NewMemoryVector(8)
	g := store.NewMemoryGraph()
	return &Service{
		Vector:   v,
		Graph:    g,
		R:        r,
		Embedder: oracle.NewDeterministicEmbedder(8, true, 1),
	}, r, v
}

func insertMemory(t *testing.T, r store.Relational, v store.Vector, id, userID, content string, valence float64, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	mem := store.Memory{
		ID: id, UserID: userID, Content: content, Valence: valence,
		Status: store.MemoryCommitted, CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, r.InsertMemorizeOnly(ctx, store.Turn{ID: id + "-t", UserID: userID, SessionID: "s1"}, mem, store.OutboxEvent{ID: id + "-e"}))
	emb, err := oracle.NewDeterministicEmbedder(8, true, 1).EmbedBatch(ctx, []string{content})
	require.NoError(t, err)
	require.NoError(t, v.Upsert(ctx, id, userID, emb[0]))
}

func TestHybridRetrieve_RanksBySimilarity(t *testing.T) {
	s, r, v := newTestService(t)
	insertMemory(t, r, v, "m1", "u1", "I love hiking in the mountains", 0.5, 48*time.Hour)
	insertMemory(t, r, v, "m2", "u1", "my favorite programming language is go", 0.2, 48*time.Hour)

	res, err := s.HybridRetrieve(context.Background(), "u1", "I love hiking in the mountains", 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	require.Equal(t, "m1", res.Candidates[0].Memory.ID)
}

func TestHybridRetrieve_RecentBoostAppliesWithinWindow(t *testing.T) {
	s, r, v := newTestService(t)
	insertMemory(t, r, v, "old", "u1", "unrelated filler text about nothing much at all", 0, 400*24*time.Hour)
	insertMemory(t, r, v, "new", "u1", "another unrelated filler text about nothing much at all", 0, time.Hour)

	res, err := s.HybridRetrieve(context.Background(), "u1", "filler", 0.5)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	qv, err := s.Embedder.EmbedBatch(context.Background(), []string{"filler"})
	require.NoError(t, err)
	hits, err := v.Search(context.Background(), "u1", qv[0], 32)
	require.NoError(t, err)
	cos := map[string]float64{}
	for _, h := range hits {
		cos[h.ID] = h.Cosine
	}
	for _, c := range res.Candidates {
		want := s.score(c.Memory, cos[c.Memory.ID], 0, 0.5)
		if c.Memory.ID == "new" {
			want += 0.15
		}
		require.InDelta(t, want, c.Score, 1e-6)
	}
}

func TestHybridRetrieve_TopKCap(t *testing.T) {
	s, r, v := newTestService(t)
	s.Cfg = config.RetrievalConfig{TopK: 2}
	for i := 0; i < 5; i++ {
		insertMemory(t, r, v, "m"+string(rune('a'+i)), "u1", "memory number filler content here", 0, time.Hour)
	}
	res, err := s.HybridRetrieve(context.Background(), "u1", "memory filler", 0.5)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Candidates), 2)
}

func TestHybridRetrieve_ScopedByUser(t *testing.T) {
	s, r, v := newTestService(t)
	insertMemory(t, r, v, "m1", "u1", "shared interest in cooking", 0, time.Hour)
	insertMemory(t, r, v, "m2", "u2", "shared interest in cooking", 0, time.Hour)

	res, err := s.HybridRetrieve(context.Background(), "u1", "cooking", 0.5)
	require.NoError(t, err)
	for _, c := range res.Candidates {
		require.Equal(t, "u1", c.Memory.UserID)
	}
}

func TestRetrieveEntityFacts_NoAnchorsReturnsEmpty(t *testing.T) {
	s, _, _ := newTestService(t)
	facts := s.RetrieveEntityFacts(context.Background(), "u1", "how are you today")
	require.Empty(t, facts)
}

func TestRetrieveEntityFacts_TraversesFromMatchedAnchor(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.Graph.MergeEntity(ctx, store.Entity{ID: "user", UserID: "u1", Name: "user", Type: store.EntityPerson}))
	require.NoError(t, s.Graph.MergeEntity(ctx, store.Entity{ID: "sarah", UserID: "u1", Name: "Sarah", Type: store.EntityPerson}))
	require.NoError(t, s.Graph.MergeRelation(ctx, store.Relation{
		UserID: "u1", SourceID: "user", TargetID: "sarah", Type: store.RelFriendOf,
		Weight: 0.9, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	facts := s.RetrieveEntityFacts(ctx, "u1", "what do you know about Sarah")
	require.NotEmpty(t, facts)
}

func TestScore_QuestionSkipsRecencyBoost(t *testing.T) {
	s, r, v := newTestService(t)
	insertMemory(t, r, v, "m1", "u1", "do you remember my favorite color", 0, time.Hour)

	query := "do you remember my favorite color?"
	res, err := s.HybridRetrieve(context.Background(), "u1", query, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)

	qv, err := s.Embedder.EmbedBatch(context.Background(), []string{query})
	require.NoError(t, err)
	hits, err := v.Search(context.Background(), "u1", qv[0], 32)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	c := res.Candidates[0]
	require.InDelta(t, s.score(c.Memory, hits[0].Cosine, 0, 0.5), c.Score, 1e-6)
}
