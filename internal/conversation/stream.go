package conversation

import (
	"context"
	"strings"
	"time"

	"manifold/internal/observability"
	"manifold/internal/oracle"
	"manifold/internal/store"
)

// deltaCollector adapts oracle.StreamHandler onto a channel of
// StreamEvents, letting StreamTurn forward O.generate's incremental
// output as `text` deltas while also accumulating the full reply for
// persistence.
type deltaCollector struct {
	events chan<- StreamEvent
	buf    strings.Builder
}

func (d *deltaCollector) OnDelta(content string) {
	d.buf.WriteString(content)
	d.events <- StreamEvent{Kind: EventText, Text: content}
}

func (d *deltaCollector) OnToolCall(oracle.ToolCall) {}

// memoryCommitWatchTimeout bounds how long StreamTurn waits for the
// drainer to commit the memory it just enqueued before giving up on
// emitting a `memory_committed` delta; the turn itself is never blocked
// on this since the reply has already been produced and sent.
const memoryCommitWatchTimeout = 5 * time.Second

// StreamTurn runs the same turn algorithm as ProcessTurn but emits a lazy
// sequence of deltas instead of a single Reply. Per §4.1: single-user,
// cooperative, one stream per call, no cross-stream ordering guarantee.
// Unlike ProcessTurn, generation itself streams token-by-token through
// O.ChatStream; everything before and after generation (retrieval,
// persistence, affinity update, conflict scan) runs exactly once, shared
// with ProcessTurn via prepare/finish.
func (s *Service) StreamTurn(ctx context.Context, req Request, events chan<- StreamEvent) {
	defer close(events)
	log := observability.LoggerWithTrace(ctx)

	tc, short, err := s.prepare(ctx, req)
	if err != nil {
		events <- StreamEvent{Kind: EventError, Err: err}
		return
	}
	if short != nil {
		events <- StreamEvent{Kind: EventText, Text: short.Text}
		events <- StreamEvent{Kind: EventDone, Reply: short}
		return
	}

	var replyText string
	if !req.MemorizeOnly {
		replyText, err = s.generateStream(ctx, req, tc, events)
		if err != nil {
			log.Warn().Err(err).Msg("streaming reply generation failed, degrading to empty context reply")
			replyText = "Sorry, I couldn't come up with a reply just now."
			events <- StreamEvent{Kind: EventText, Text: replyText}
		}
	}

	reply, err := s.finish(ctx, req, tc, replyText)
	if err != nil {
		events <- StreamEvent{Kind: EventError, Err: err}
		return
	}

	if reply.MemoryID != "" {
		events <- StreamEvent{Kind: EventMemoryPending, Text: reply.MemoryID}
		if committed := s.awaitCommit(ctx, req.UserID, reply.MemoryID); committed {
			events <- StreamEvent{Kind: EventMemoryCommitted, Text: reply.MemoryID}
		} else {
			log.Debug().Str("memory_id", reply.MemoryID).Msg("memory commit not observed before stream close")
		}
	}
	events <- StreamEvent{Kind: EventDone, Reply: &reply}
}

// generateStream calls O.generate's streaming form, forwarding deltas live
// and returning the accumulated full text for persistence.
func (s *Service) generateStream(ctx context.Context, req Request, tc turnContext, events chan<- StreamEvent) (string, error) {
	if s.Provider == nil {
		return "", nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.generateTimeout())
	defer cancel()

	msgs := buildPrompt(req, tc.recentTurns, tc.retrieval, tc.facts, string(tc.affState))
	collector := &deltaCollector{events: events}
	if err := s.Provider.ChatStream(cctx, msgs, nil, s.Model, collector); err != nil {
		return "", err
	}
	return collector.buf.String(), nil
}

// awaitCommit polls the relational store briefly for the outbox drainer to
// flip a memory to committed, so streaming callers can surface the
// `memory_committed` event without the turn itself blocking on it.
func (s *Service) awaitCommit(ctx context.Context, userID, memoryID string) bool {
	deadline := time.Now().Add(memoryCommitWatchTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			mem, err := s.R.GetMemory(ctx, userID, memoryID)
			if err == nil && mem != nil && (mem.Status == store.MemoryCommitted || mem.Status == store.MemoryPendingReview) {
				return mem.Status == store.MemoryCommitted
			}
		}
	}
	return false
}
