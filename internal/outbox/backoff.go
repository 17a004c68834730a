package outbox

import (
	"math"
	"math/rand"
	"time"
)

// backoffSeconds implements §4.2's retry schedule: `backoff(n) = min(cap,
// base * 2^n + jitter)`. retryCount is already bumped by the caller before
// this is computed, matching the spec's "schedule next run at now +
// backoff(retry_count)" phrasing.
//
// cenkalti/backoff/v5's ExponentialBackOff computes its own internal
// schedule and only exposes it through a stateful NextBackOff() call
// sequence; the drainer instead recomputes a fresh interval from a
// retry_count value persisted per OutboxEvent row, so the formula is
// reproduced directly here rather than driven through that stateful API.
func backoffSeconds(retryCount int, base, cap float64) float64 {
	if base <= 0 {
		base = 1
	}
	if cap <= 0 {
		cap = 300
	}
	raw := base*math.Pow(2, float64(retryCount)) + rand.Float64()*base
	if raw > cap {
		return cap
	}
	return raw
}
