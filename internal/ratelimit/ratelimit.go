// Package ratelimit implements a fixed-window per-client request cap with a
// Redis-backed counter and an in-memory LRU-capped fallback when Redis is
// unavailable. No other package in this module calls it.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Result reports whether a request is allowed and, if not, how long the
// caller should wait before retrying.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces requestsPerMinute per client key (typically a user id or
// IP), using a 60-second fixed window keyed by bucket timestamp.
type Limiter struct {
	requestsPerMinute int
	redis             *redis.Client
	mu                sync.Mutex
	fallback          map[string]*fallbackEntry
	order             *list.List // LRU eviction order, front = most recently used
	elems             map[string]*list.Element
	capacity          int
}

type fallbackEntry struct {
	count     int
	expiresAt time.Time
}

// New constructs a Limiter. redisAddr may be empty, in which case the
// limiter runs entirely on the in-memory fallback.
func New(requestsPerMinute, lruCapacity int, redisAddr string) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	if lruCapacity <= 0 {
		lruCapacity = 10000
	}
	l := &Limiter{
		requestsPerMinute: requestsPerMinute,
		fallback:          make(map[string]*fallbackEntry),
		order:             list.New(),
		elems:             make(map[string]*list.Element),
		capacity:          lruCapacity,
	}
	if redisAddr != "" {
		l.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return l
}

func bucketKey(clientKey string, now time.Time) string {
	bucket := now.Unix() / 60
	return fmt.Sprintf("ratelimit:%s:%d", clientKey, bucket)
}

// Allow increments the counter for clientKey's current 60-second bucket and
// reports whether the request is within requestsPerMinute.
func (l *Limiter) Allow(ctx context.Context, clientKey string) Result {
	now := time.Now()
	key := bucketKey(clientKey, now)

	var count int64
	if l.redis != nil {
		if n, err := l.redis.Incr(ctx, key).Result(); err == nil {
			count = n
			if n == 1 {
				l.redis.Expire(ctx, key, 61*time.Second)
			}
		} else {
			count = int64(l.fallbackIncr(key, now))
		}
	} else {
		count = int64(l.fallbackIncr(key, now))
	}

	if int(count) > l.requestsPerMinute {
		return Result{Allowed: false, Remaining: 0, RetryAfter: 60 * time.Second}
	}
	return Result{Allowed: true, Remaining: l.requestsPerMinute - int(count)}
}

func (l *Limiter) fallbackIncr(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.fallback[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &fallbackEntry{expiresAt: now.Add(61 * time.Second)}
		l.fallback[key] = entry
	}
	entry.count++

	if elem, ok := l.elems[key]; ok {
		l.order.MoveToFront(elem)
	} else {
		l.elems[key] = l.order.PushFront(key)
	}
	l.evictIfNeeded(now)
	return entry.count
}

// evictIfNeeded drops least-recently-used entries once the fallback map
// exceeds capacity, mirroring a bounded-memory LRU rather than letting
// per-client buckets grow unboundedly under high cardinality.
func (l *Limiter) evictIfNeeded(now time.Time) {
	for len(l.fallback) > l.capacity {
		back := l.order.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		l.order.Remove(back)
		delete(l.elems, key)
		delete(l.fallback, key)
	}
}

// Close releases the Redis client, if any.
func (l *Limiter) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}
