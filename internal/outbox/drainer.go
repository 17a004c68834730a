// Package outbox implements the Outbox Drainer (D) from §4.2: the
// asynchronous worker pool that claims pending OutboxEvent rows, runs
// extraction, fans out to the vector and graph stores, and finalizes
// (or reschedules, or dead-letters) each event.
package outbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"manifold/internal/config"
	"manifold/internal/extract"
	"manifold/internal/observability"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

// Drainer owns the store adapters and oracles needed to process one
// OutboxEvent end to end.
type Drainer struct {
	R        store.Relational
	V        store.Vector
	G        store.Graph
	Embedder oracle.Embedder
	Provider oracle.Provider
	Model    string
	Cfg      config.OutboxConfig
}

func (d *Drainer) workers() int {
	if d.Cfg.Workers > 0 {
		return d.Cfg.Workers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

func (d *Drainer) claimBatchSize() int {
	if d.Cfg.ClaimBatchSize > 0 {
		return d.Cfg.ClaimBatchSize
	}
	return 10
}

func (d *Drainer) maxRetries() int {
	if d.Cfg.MaxRetries > 0 {
		return d.Cfg.MaxRetries
	}
	return 8
}

func (d *Drainer) backoffBase() float64 {
	if d.Cfg.BackoffBase > 0 {
		return d.Cfg.BackoffBase
	}
	return 1
}

func (d *Drainer) backoffCap() float64 {
	if d.Cfg.BackoffCap > 0 {
		return d.Cfg.BackoffCap
	}
	return 300
}

func (d *Drainer) processingTimeoutSeconds() int {
	if d.Cfg.ProcessingTimeoutMin > 0 {
		return d.Cfg.ProcessingTimeoutMin * 60
	}
	return 600
}

func (d *Drainer) lowConfidenceThreshold() float64 {
	if d.Cfg.LowConfidenceThreshold > 0 {
		return d.Cfg.LowConfidenceThreshold
	}
	return 0.35
}

func (d *Drainer) pollInterval() time.Duration {
	if d.Cfg.ReconcilerInterval > 0 {
		return time.Duration(d.Cfg.ReconcilerInterval) * time.Second
	}
	return 5 * time.Second
}

// Run polls for claimable events (including stuck-processing rows, which
// ClaimOutbox requeues inline per its contract) and dispatches them across
// a fixed worker pool until ctx is canceled. This IS the reconciler: every
// poll re-claims any processing row past the timeout, so no separate
// sweep is needed.
func (d *Drainer) Run(ctx context.Context) error {
	log := observability.LoggerWithTrace(ctx)
	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	jobs := make(chan store.OutboxEvent, d.workers()*2)
	defer close(jobs)
	for i := 0; i < d.workers(); i++ {
		go func() {
			for evt := range jobs {
				if err := d.processOne(ctx, evt); err != nil {
					log.Error().Err(err).Str("event_id", evt.EventID).Msg("outbox event processing failed")
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := d.claimAndDispatch(ctx, jobs)
			if err != nil {
				log.Error().Err(err).Msg("outbox claim failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("claimed", n).Msg("outbox batch claimed")
			}
		}
	}
}

func (d *Drainer) claimAndDispatch(ctx context.Context, jobs chan<- store.OutboxEvent) (int, error) {
	events, err := d.R.ClaimOutbox(ctx, d.claimBatchSize(), d.processingTimeoutSeconds())
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}
	for _, e := range events {
		jobs <- e
	}
	return len(events), nil
}

// RunOnce claims and processes a single batch synchronously, for tests and
// for manual/administrative drains.
func (d *Drainer) RunOnce(ctx context.Context) (int, error) {
	events, err := d.R.ClaimOutbox(ctx, d.claimBatchSize(), d.processingTimeoutSeconds())
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}
	for _, e := range events {
		if err := d.processOne(ctx, e); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("event_id", e.EventID).Msg("outbox event processing failed")
		}
	}
	return len(events), nil
}

// processOne implements §4.2 steps 1-6 for a single claimed event,
// classifying failures into Transient (rescheduled with backoff) or
// Permanent (sent straight to dlq).
func (d *Drainer) processOne(ctx context.Context, evt store.OutboxEvent) error {
	mem, err := d.R.GetMemory(ctx, userIDFromPayload(evt), evt.MemoryID)
	if err != nil || mem == nil {
		return d.R.FinalizeOutboxSkipped(ctx, evt.MemoryID, evt.EventID)
	}

	if extract.IsQuestion(mem.Content) {
		return d.R.FinalizeOutboxSkipped(ctx, evt.MemoryID, evt.EventID)
	}

	vec, err := d.embed(ctx, mem.Content)
	if err != nil {
		return d.handleFailure(ctx, evt, Transient(fmt.Errorf("embed: %w", err)))
	}

	ir, critic := extract.Extract(ctx, mem.Content, extract.Options{Provider: d.Provider, Model: d.Model})
	if ir.Metadata.OverallConfidence < d.lowConfidenceThreshold() || !ir.Sufficient() {
		if err := d.R.FinalizeOutboxPendingReview(ctx, evt.MemoryID, evt.EventID); err != nil {
			return d.handleFailure(ctx, evt, Transient(err))
		}
		observability.LoggerWithTrace(ctx).Info().Str("event_id", evt.EventID).
			Int("dropped_relations", critic.LowConfidenceRelations+critic.DisallowedRelationType+critic.DanglingRelation+critic.DuplicateRelation+critic.SelfLoopRelation).
			Msg("extraction below confidence threshold, held for review")
		return nil
	}

	if err := d.V.Upsert(ctx, mem.ID, mem.UserID, vec); err != nil {
		return d.handleFailure(ctx, evt, Transient(fmt.Errorf("vector upsert: %w", err)))
	}
	vectorWrittenAt := time.Now()

	if err := d.mergeGraph(ctx, mem.UserID, evt, ir); err != nil {
		return d.handleFailure(ctx, evt, err)
	}
	graphWrittenAt := time.Now()

	if err := d.R.FinalizeOutboxDone(ctx, mem.ID, evt.EventID, vectorWrittenAt.Unix(), graphWrittenAt.Unix()); err != nil {
		return d.handleFailure(ctx, evt, Transient(fmt.Errorf("finalize done: %w", err)))
	}
	return nil
}

func (d *Drainer) embed(ctx context.Context, text string) ([]float32, error) {
	if d.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vecs, err := d.Embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	return vecs[0], nil
}

// mergeGraph implements §4.5.2's MERGE semantics: upsert every surviving
// entity, then every surviving relation with provenance carrying the
// event's id.
func (d *Drainer) mergeGraph(ctx context.Context, userID string, evt store.OutboxEvent, ir extract.IR) error {
	now := time.Now()
	userNode := store.Entity{
		ID: store.UserEntityID, UserID: userID, Name: store.UserEntityID, Type: store.EntityPerson,
		FirstMentionedAt: now, LastMentionedAt: now,
	}
	if err := d.G.MergeEntity(ctx, userNode); err != nil {
		return Transient(fmt.Errorf("merge user entity: %w", err))
	}
	for _, e := range ir.Entities {
		ent := store.Entity{
			ID: e.ID, UserID: userID, Name: e.Name, Type: e.Type,
			FirstMentionedAt: now, LastMentionedAt: now, Attributes: e.Attributes,
		}
		if err := d.G.MergeEntity(ctx, ent); err != nil {
			return Transient(fmt.Errorf("merge entity %s: %w", e.ID, err))
		}
	}
	for _, r := range ir.Relations {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}
		rel := store.Relation{
			UserID: userID, SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type,
			Weight: weight, DecayRate: store.DefaultDecayRate, CreatedAt: now, UpdatedAt: now,
			Provenance: []string{evt.EventID}, Confidence: r.Confidence,
		}
		if err := d.G.MergeRelation(ctx, rel); err != nil {
			return Transient(fmt.Errorf("merge relation %s->%s: %w", r.SourceID, r.TargetID, err))
		}
	}
	return nil
}

// handleFailure classifies err and either reschedules with backoff or
// sends the event straight to dlq (§4.2's error partition).
func (d *Drainer) handleFailure(ctx context.Context, evt store.OutboxEvent, err error) error {
	log := observability.LoggerWithTrace(ctx)
	if IsPermanent(err) {
		if dlqErr := d.R.FinalizeOutboxDLQ(ctx, evt.EventID, err.Error()); dlqErr != nil {
			return dlqErr
		}
		log.Warn().Str("event_id", evt.EventID).Err(err).Msg("outbox event sent to dlq (permanent)")
		return nil
	}

	retryCount := evt.RetryCount + 1
	backoff := backoffSeconds(retryCount, d.backoffBase(), d.backoffCap())
	if rescheduleErr := d.R.FinalizeOutboxReschedule(ctx, evt.EventID, retryCount, backoff, d.maxRetries(), err.Error()); rescheduleErr != nil {
		return rescheduleErr
	}
	if retryCount >= d.maxRetries() {
		log.Warn().Str("event_id", evt.EventID).Int("retry_count", retryCount).Msg("outbox event exhausted retries, moved to dlq")
	} else {
		log.Info().Str("event_id", evt.EventID).Int("retry_count", retryCount).Float64("backoff_seconds", backoff).Msg("outbox event rescheduled")
	}
	return nil
}

func userIDFromPayload(evt store.OutboxEvent) string {
	if v, ok := evt.Payload["user_id"].(string); ok {
		return v
	}
	return ""
}
