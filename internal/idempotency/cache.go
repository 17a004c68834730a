// Package idempotency provides a Redis-backed, TTL-bounded cache in front
// of the relational idempotency-key table, so a replayed request with the
// same key avoids a database round trip on the common hot-retry path.
// The relational table (store.Relational.GetIdempotency/InsertTurnAndMemory)
// remains the source of truth; this cache is a best-effort accelerator and
// is skipped entirely when unconfigured.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Entry mirrors the fields of store.IdempotencyKey a cache hit needs to
// answer process_turn without touching R.
type Entry struct {
	TurnID string `json:"turn_id"`
	Reply  []byte `json:"reply"`
}

// Cache wraps a Redis client scoped to idempotency-key lookups.
type Cache struct {
	client *redis.Client
}

// New connects to addr and pings it once so construction fails fast
// rather than deferring the error to the first request.
func New(addr string) (*Cache, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cache{client: c}, nil
}

func cacheKey(userID, key string) string {
	return "idemp:" + userID + ":" + key
}

// Get returns the cached entry for (userID, key), or ok=false on a cache
// miss. Errors are returned so callers can log-and-fall-through to the
// relational store rather than fail the turn.
func (c *Cache) Get(ctx context.Context, userID, key string) (Entry, bool, error) {
	if c == nil {
		return Entry{}, false, nil
	}
	val, err := c.client.Get(ctx, cacheKey(userID, key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal cached idempotency entry: %w", err)
	}
	return e, true, nil
}

// Set writes through the entry with the given TTL. Best-effort: the
// relational insert is what actually guarantees at-most-once delivery,
// so a failed cache write only costs a future cache miss.
func (c *Cache) Set(ctx context.Context, userID, key string, e Entry, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	return c.client.Set(ctx, cacheKey(userID, key), data, ttl).Err()
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
