package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/config"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

func newTestDrainer() (*Drainer, store.Relational, store.Vector, store.Graph) {
	r := store.NewMemoryRelational()
	v := store.NewMemoryVector(8)
	g := store.NewMemoryGraph()
	d := &Drainer{
		R: r, V: v, G: g,
		Embedder: oracle.NewDeterministicEmbedder(8, true, 1),
		Cfg:      config.OutboxConfig{Workers: 1, ClaimBatchSize: 10, MaxRetries: 3, BackoffBase: 0.01, BackoffCap: 0.05},
	}
	return d, r, v, g
}

func enqueue(t *testing.T, r store.Relational, userID, memID, content string) {
	t.Helper()
	ctx := context.Background()
	mem := store.Memory{ID: memID, UserID: userID, Content: content, Status: store.MemoryPending, CreatedAt: time.Now()}
	evt := store.OutboxEvent{ID: memID + "-e", EventID: "memory_created:" + memID, MemoryID: memID, Status: store.OutboxPending,
		Payload: map[string]any{"user_id": userID, "memory_id": memID}}
	require.NoError(t, r.InsertMemorizeOnly(ctx, store.Turn{ID: memID + "-t", UserID: userID, SessionID: "s1"}, mem, evt))
}

func TestRunOnce_CommitsSufficientExtraction(t *testing.T) {
	d, r, v, _ := newTestDrainer()
	enqueue(t, r, "u1", "m1", "I live in Qingdao")

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mem, err := r.GetMemory(context.Background(), "u1", "m1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	require.Equal(t, store.MemoryCommitted, mem.Status)

	hits, err := v.Search(context.Background(), "u1", make([]float32, 8), 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestRunOnce_QuestionSkipsGraphWrite(t *testing.T) {
	d, r, _, _ := newTestDrainer()
	enqueue(t, r, "u1", "m1", "do you remember where my sister lives?")

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mem, err := r.GetMemory(context.Background(), "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, store.MemoryCommitted, mem.Status)
	require.Equal(t, true, mem.Metadata["graph_skipped"])
}

func TestRunOnce_LowConfidenceGoesToPendingReview(t *testing.T) {
	d, r, _, _ := newTestDrainer()
	enqueue(t, r, "u1", "m1", "可能昨天也许见过某人")

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mem, err := r.GetMemory(context.Background(), "u1", "m1")
	require.NoError(t, err)
	require.Equal(t, store.MemoryPendingReview, mem.Status)
}

func TestHandleFailure_TransientReschedules(t *testing.T) {
	d, r, _, _ := newTestDrainer()
	enqueue(t, r, "u1", "m1", "whatever")
	evt := store.OutboxEvent{ID: "m1-e", EventID: "memory_created:m1", MemoryID: "m1", RetryCount: 0}

	err := d.handleFailure(context.Background(), evt, Transient(assertErr("boom")))
	require.NoError(t, err)
}

func TestHandleFailure_PermanentGoesStraightToDLQ(t *testing.T) {
	d, r, _, _ := newTestDrainer()
	enqueue(t, r, "u1", "m1", "whatever")
	evt := store.OutboxEvent{ID: "m1-e", EventID: "memory_created:m1", MemoryID: "m1"}

	err := d.handleFailure(context.Background(), evt, Permanent(assertErr("schema violation")))
	require.NoError(t, err)
}

func TestBackoffSeconds_CappedAndMonotonic(t *testing.T) {
	require.LessOrEqual(t, backoffSeconds(1, 1, 10), 10.0+1)
	require.Equal(t, 10.0, backoffSeconds(30, 1, 10))
	require.Less(t, backoffSeconds(1, 1, 10), backoffSeconds(2, 1, 10))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
