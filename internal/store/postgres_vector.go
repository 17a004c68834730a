package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgVector struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresVector wires the V adapter onto pgvector. The primary key is
// the Memory id, per §6.
func NewPostgresVector(pool *pgxpool.Pool, dim int) Vector {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memory_embeddings (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  embedding vector(%d)
)`, dim))
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS memory_embeddings_user_idx ON memory_embeddings(user_id)`)
	return &pgVector{pool: pool, dim: dim}
}

func (p *pgVector) Dimension() int { return p.dim }

func (p *pgVector) Upsert(ctx context.Context, id, userID string, embedding []float32) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO memory_embeddings(id, user_id, embedding) VALUES($1, $2, $3::vector)
ON CONFLICT (id) DO UPDATE SET embedding=EXCLUDED.embedding, user_id=EXCLUDED.user_id
`, id, userID, toVectorLiteral(embedding))
	return err
}

func (p *pgVector) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_embeddings WHERE id=$1`, id)
	return err
}

// Search uses cosine distance (<=>); cosine_similarity = 1 - distance.
func (p *pgVector) Search(ctx context.Context, userID string, qv []float32, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, 1 - (embedding <=> $1::vector) AS cosine
FROM memory_embeddings WHERE user_id = $2
ORDER BY embedding <=> $1::vector
LIMIT $3`, toVectorLiteral(qv), userID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanVectorHits(rows)
}

func scanVectorHits(rows pgx.Rows) ([]VectorHit, error) {
	var out []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ID, &h.Cosine); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
