package graphsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/store"
)

func TestScanForConflicts_SupersedesOlder(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemoryRelational()

	old := store.Memory{ID: "old", UserID: "u1", Content: "我喜欢茶", Status: store.MemoryCommitted, CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, r.InsertMemorizeOnly(ctx, store.Turn{ID: "t1", UserID: "u1", SessionID: "s1"}, old, store.OutboxEvent{ID: "e1"}))

	newMem := store.Memory{ID: "new", UserID: "u1", Content: "我讨厌茶", Status: store.MemoryCommitted, CreatedAt: time.Now()}

	clar, err := ScanForConflicts(ctx, r, "u1", newMem, 30*24*time.Hour, 100)
	require.NoError(t, err)
	require.Nil(t, clar)

	got, err := r.GetMemory(ctx, "u1", "old")
	require.NoError(t, err)
	require.Equal(t, store.MemoryDeprecated, got.Status)
}

func TestScanForConflicts_AsksClarificationWhenClose(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemoryRelational()
	now := time.Now()

	m1 := store.Memory{ID: "m1", UserID: "u1", Content: "I like coffee", Status: store.MemoryCommitted, CreatedAt: now}
	require.NoError(t, r.InsertMemorizeOnly(ctx, store.Turn{ID: "t1", UserID: "u1", SessionID: "s1"}, m1, store.OutboxEvent{ID: "e1"}))

	m2 := store.Memory{ID: "m2", UserID: "u1", Content: "I hate coffee", Status: store.MemoryCommitted, CreatedAt: now.Add(time.Hour)}

	clar, err := ScanForConflicts(ctx, r, "u1", m2, 30*24*time.Hour, 100)
	require.NoError(t, err)
	require.NotNil(t, clar)
	require.Equal(t, "m1", clar.OldID)
	require.Equal(t, "m2", clar.NewID)
}
