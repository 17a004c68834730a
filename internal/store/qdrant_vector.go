package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// userIDField stores the owning user id in the point payload so Search can
// filter by it; qdrantIDField stores the original Memory id when it isn't
// itself a valid UUID (Qdrant only accepts UUIDs or uints as point ids).
const (
	userIDField   = "user_id"
	qdrantIDField = "_memory_id"
)

type qdrantVector struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// NewQdrantVector wires the V adapter onto Qdrant over gRPC, cosine metric.
func NewQdrantVector(addr, collection string, dim int) (Vector, error) {
	if collection == "" {
		collection = "memories"
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: addr, Port: 6334})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &qdrantVector{client: client, collection: collection, dim: dim}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *qdrantVector) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *qdrantVector) Dimension() int { return q.dim }

func pointIDFor(memoryID string) (*qdrant.PointId, bool) {
	if _, err := uuid.Parse(memoryID); err == nil {
		return qdrant.NewIDUUID(memoryID), false
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
	return qdrant.NewIDUUID(derived), true
}

func (q *qdrantVector) Upsert(ctx context.Context, id, userID string, embedding []float32) error {
	pointID, derived := pointIDFor(id)
	payload := map[string]any{userIDField: userID}
	if derived {
		payload[qdrantIDField] = id
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *qdrantVector) Delete(ctx context.Context, id string) error {
	pointID, _ := pointIDFor(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID),
	})
	return err
}

func (q *qdrantVector) Search(ctx context.Context, userID string, qv []float32, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(qv))
	copy(vec, qv)
	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(userIDField, userID)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	out := make([]VectorHit, 0, len(results))
	for _, hit := range results {
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if orig, ok := hit.Payload[qdrantIDField]; ok {
				id = orig.GetStringValue()
			}
		}
		out = append(out, VectorHit{ID: id, Cosine: float64(hit.Score)})
	}
	return out, nil
}

func (q *qdrantVector) Close() error { return q.client.Close() }
