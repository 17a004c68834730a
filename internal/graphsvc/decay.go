package graphsvc

import (
	"context"
	"time"

	"manifold/internal/observability"
	"manifold/internal/store"
)

// DecayJob periodically rewrites edge weights for edges stale more than a
// day, per §4.5.3. It is a thin scheduler over store.Graph.ApplyDecay,
// which already implements the actual decay arithmetic.
type DecayJob struct {
	Graph      store.Graph
	PageSize   int
	Interval   time.Duration
	BatchSleep time.Duration
}

// RunOnce drains one decay pass: repeated pages until a page returns fewer
// edges than requested, pausing BatchSleep between pages to bound load on
// the store.
func (j *DecayJob) RunOnce(ctx context.Context) (int, error) {
	pageSize := j.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	total := 0
	for {
		n, err := j.Graph.ApplyDecay(ctx, pageSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < pageSize {
			return total, nil
		}
		if j.BatchSleep > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(j.BatchSleep):
			}
		}
	}
}

// Run loops RunOnce on Interval until ctx is canceled, logging outcomes.
// Intended to be started once at process startup as the nightly decay job.
func (j *DecayJob) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	log := observability.LoggerWithTrace(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("decay job pass failed")
				continue
			}
			log.Info().Int("edges_touched", n).Msg("decay job pass complete")
		}
	}
}
