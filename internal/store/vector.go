package store

import "context"

// VectorHit is one nearest-neighbor result: a memory id and its cosine
// similarity to the query vector.
type VectorHit struct {
	ID     string
	Cosine float64
}

// Vector is the V adapter: memory embeddings with cosine similarity search,
// keyed by Memory.ID and filtered by user.
type Vector interface {
	// Upsert writes embedding[d] for id, scoped to userID. Idempotent: an
	// upsert with the same id and vector is a no-op on the result set.
	Upsert(ctx context.Context, id, userID string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, userID string, qv []float32, topK int) ([]VectorHit, error)
	Dimension() int
}
