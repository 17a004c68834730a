package graphsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"manifold/internal/observability"
	"manifold/internal/store"
)

// ClarificationEvent is emitted when two memories conflict but are too
// close in time for recency to settle it; the conversation core surfaces
// this as a `clarification` stream event with both literal contents.
type ClarificationEvent struct {
	UserID   string
	OldID    string
	NewID    string
	OldText  string
	NewText  string
}

// ScanForConflicts checks a newly-committed memory against the user's
// recent committed memories, resolves any conflict found, and persists the
// outcome. Returns a ClarificationEvent when resolution could not pick a
// side outright (§4.5.4's "ask to clarify" branch), nil otherwise.
func ScanForConflicts(ctx context.Context, r store.Relational, userID string, mem store.Memory, lookback time.Duration, limit int) (*ClarificationEvent, error) {
	log := observability.LoggerWithTrace(ctx)
	since := mem.CreatedAt.Add(-lookback).Unix()
	candidates, err := r.MemoriesSince(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("scan recent memories for conflicts: %w", err)
	}

	for _, other := range candidates {
		if other.ID == mem.ID {
			continue
		}
		conflict, ok := Detect(mem, other)
		if !ok {
			continue
		}
		rec := conflict.Record(userID, time.Now())
		rec.ID = uuid.NewString()

		if conflict.Resolve() == ResolveSupersede {
			if err := r.DeprecateMemory(ctx, conflict.OldMemory.ID); err != nil {
				return nil, fmt.Errorf("deprecate superseded memory: %w", err)
			}
			if err := r.InsertConflict(ctx, rec); err != nil {
				return nil, fmt.Errorf("insert conflict record: %w", err)
			}
			log.Info().Str("old_memory", conflict.OldMemory.ID).Str("new_memory", conflict.NewMemory.ID).
				Msg("conflict resolved by recency, older memory deprecated")
			return nil, nil
		}

		if err := r.InsertConflict(ctx, rec); err != nil {
			return nil, fmt.Errorf("insert conflict record: %w", err)
		}
		return &ClarificationEvent{
			UserID:  userID,
			OldID:   conflict.OldMemory.ID,
			NewID:   conflict.NewMemory.ID,
			OldText: conflict.OldMemory.Content,
			NewText: conflict.NewMemory.Content,
		}, nil
	}
	return nil, nil
}
