package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"manifold/internal/observability"
	"manifold/internal/store"
)

// KafkaTransport is the alternate, message-bus-backed path described in
// SPEC_FULL.md's DOMAIN STACK: instead of claiming rows via
// `SELECT ... FOR UPDATE SKIP LOCKED`, a memory-created event is published
// to KafkaTopic at the end of conversation.Service.finish, and this
// consumer drains it with the same worker-pool/backoff/DLQ machinery
// Drainer.Run uses for the polling path. Deployments pick one transport
// via OutboxConfig.UseKafka; both ultimately call Drainer.processOne.
type KafkaTransport struct {
	Drainer *Drainer
	Brokers []string
	Topic   string
}

// Publish writes one OutboxEvent onto the configured topic, keyed by event
// id so repeated publishes of the same event land on the same partition.
func (t *KafkaTransport) Publish(ctx context.Context, evt store.OutboxEvent) error {
	w := &kafka.Writer{
		Addr:     kafka.TCP(t.Brokers...),
		Topic:    t.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer w.Close()

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(evt.EventID), Value: payload})
}

// Run consumes KafkaTopic with a worker pool, mirroring
// internal/orchestrator/kafka.go's StartKafkaConsumer shape: a reader loop
// feeding a bounded jobs channel and N workers that each run processOne
// once per message. Failures are recorded on the relational outbox row by
// handleFailure (rescheduled or moved to dlq there); the consumer itself
// neither retries a message nor publishes to a Kafka DLQ. Every handled
// message is committed, whatever its outcome.
func (t *KafkaTransport) Run(ctx context.Context) error {
	log := observability.LoggerWithTrace(ctx)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.Brokers,
		GroupID:  "memoryengine-outbox",
		Topic:    t.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	workers := t.Drainer.workers()
	jobs := make(chan kafka.Message, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				t.handle(ctx, msg)
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Warn().Err(err).Msg("kafka outbox commit failed")
				}
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("kafka outbox fetch error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

// handle decodes one message into an OutboxEvent and runs it through
// processOne, which already classifies and records Transient/Permanent
// outcomes via handleFailure internally — exactly the polling path's
// Run/RunOnce only log a returned error here rather than reclassify it.
func (t *KafkaTransport) handle(ctx context.Context, msg kafka.Message) {
	log := observability.LoggerWithTrace(ctx)
	var evt store.OutboxEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		log.Error().Err(err).Msg("undecodable kafka outbox message, dropping")
		return
	}
	if err := t.Drainer.processOne(ctx, evt); err != nil {
		log.Error().Err(err).Str("event_id", evt.EventID).Msg("outbox event processing failed")
	}
}
