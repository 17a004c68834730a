package graphsvc

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/store"
)

func TestDetect_LikesDislikesSameTopic(t *testing.T) {
	m1 := store.Memory{ID: "m1", Content: "我喜欢茶", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m2 := store.Memory{ID: "m2", Content: "我讨厌茶", CreatedAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)}

	c, ok := Detect(m1, m2)
	require.True(t, ok)
	require.Equal(t, "m1", c.OldMemory.ID)
	require.Equal(t, "m2", c.NewMemory.ID)
	require.Contains(t, c.CommonTopics, "茶")
	require.InDelta(t, 2.0, c.TimeDiffDays, 0.01)
	require.Equal(t, ResolveSupersede, c.Resolve())
}

func TestDetect_NoOppositePair(t *testing.T) {
	m1 := store.Memory{ID: "m1", Content: "我喜欢茶", CreatedAt: time.Now()}
	m2 := store.Memory{ID: "m2", Content: "我也喜欢茶", CreatedAt: time.Now()}
	_, ok := Detect(m1, m2)
	require.False(t, ok)
}

func TestDetect_OppositeButNoSharedTopic(t *testing.T) {
	m1 := store.Memory{ID: "m1", Content: "我喜欢茶", CreatedAt: time.Now()}
	m2 := store.Memory{ID: "m2", Content: "我讨厌咖啡", CreatedAt: time.Now()}
	_, ok := Detect(m1, m2)
	require.False(t, ok)
}

func TestDetect_CloseInTimeAsksClarify(t *testing.T) {
	now := time.Now()
	m1 := store.Memory{ID: "m1", Content: "I like coffee", CreatedAt: now}
	m2 := store.Memory{ID: "m2", Content: "I hate coffee", CreatedAt: now.Add(2 * time.Hour)}
	c, ok := Detect(m1, m2)
	require.True(t, ok)
	require.Equal(t, ResolveClarify, c.Resolve())
}

func TestRecord_SupersedeSetsDeprecatingID(t *testing.T) {
	m1 := store.Memory{ID: "old", Content: "我喜欢茶", CreatedAt: time.Now().Add(-48 * time.Hour)}
	m2 := store.Memory{ID: "new", Content: "我讨厌茶", CreatedAt: time.Now()}
	c, ok := Detect(m1, m2)
	require.True(t, ok)
	rec := c.Record("u1", time.Now())
	require.Equal(t, store.ConflictSupersededByNewer, rec.Resolution)
	require.Equal(t, "new", rec.DeprecatingMemID)
	require.Equal(t, "old", rec.MemoryOldID)
}

func TestDecayJob_RunOnce_DrainsMultiplePages(t *testing.T) {
	g := store.NewMemoryGraph()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e1 := store.Entity{ID: "a" + strconv.Itoa(i), UserID: "u", Name: "a"}
		e2 := store.Entity{ID: "b" + strconv.Itoa(i), UserID: "u", Name: "b"}
		require.NoError(t, g.MergeEntity(ctx, e1))
		require.NoError(t, g.MergeEntity(ctx, e2))
		r := store.Relation{
			UserID: "u", SourceID: e1.ID, TargetID: e2.ID, Type: store.RelLikes,
			Weight: 1.0, CreatedAt: time.Now().Add(-48 * time.Hour), UpdatedAt: time.Now().Add(-48 * time.Hour),
		}
		require.NoError(t, g.MergeRelation(ctx, r))
	}
	job := DecayJob{Graph: g, PageSize: 2}
	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}
