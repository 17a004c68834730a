// Package conversation implements the Conversation Core (C) from §4.1: the
// per-turn orchestration of intent classification, emotion tagging, the
// greeting fast-path, hybrid retrieval, reply generation, and the single
// transactional record of Turn + Memory + OutboxEvent.
package conversation

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"manifold/internal/affinity"
	"manifold/internal/config"
	"manifold/internal/extract"
	"manifold/internal/graphsvc"
	"manifold/internal/idempotency"
	"manifold/internal/observability"
	"manifold/internal/oracle"
	"manifold/internal/outbox"
	"manifold/internal/retrieve"
	"manifold/internal/store"
)

// Mode selects the context budget for retrieval and prompt construction.
type Mode string

const (
	ModeGraphOnly Mode = "graph_only"
	ModeHybrid    Mode = "hybrid"
)

// StreamEventKind enumerates stream_turn's delta kinds.
type StreamEventKind string

const (
	EventText            StreamEventKind = "text"
	EventMemoryPending   StreamEventKind = "memory_pending"
	EventMemoryCommitted StreamEventKind = "memory_committed"
	EventClarification   StreamEventKind = "clarification"
	EventDone            StreamEventKind = "done"
	EventError           StreamEventKind = "error"
)

// StreamEvent is one delta emitted by StreamTurn.
type StreamEvent struct {
	Kind       StreamEventKind
	Text       string
	Reply      *Reply
	ClarifyOld string
	ClarifyNew string
	Err        error
}

// Reply is process_turn's return value.
type Reply struct {
	Text     string
	TurnID   string
	MemoryID string
}

// Request bundles process_turn's inputs.
type Request struct {
	UserID         string
	SessionID      string
	Text           string
	IdempotencyKey string
	Mode           Mode
	MemorizeOnly   bool
}

// Service wires every collaborator the turn algorithm needs.
type Service struct {
	R        store.Relational
	Retrieve *retrieve.Service
	Affinity *affinity.Service
	Provider oracle.Provider
	Model    string
	Cfg      config.Config

	// IdempCache is an optional Redis-backed accelerator in front of
	// R.GetIdempotency/InsertTurnAndMemory's idempotency row. Nil-safe:
	// every method degrades to the relational-only path when unset.
	IdempCache *idempotency.Cache

	// Kafka publishes the just-committed OutboxEvent onto the configured
	// topic when the deployment picked the message-bus transport
	// (OutboxConfig.UseKafka) over the drainer's default DB-polling claim.
	// Nil when that transport isn't configured; the relational outbox row
	// is written either way, so the polling path still finds the event.
	Kafka *outbox.KafkaTransport
}

var (
	correctionRe = regexp.MustCompile(`(?i)that's (not right|wrong)|no,? that('s)? (not|wrong)|不对|错了|搞错了`)
	confirmRe    = regexp.MustCompile(`(?i)\b(yes|yeah|yep|correct|that's right)\b|对的|是的|没错`)
)

// turnContext is everything the post-generation persistence step needs,
// computed once up front so ProcessTurn and StreamTurn share the exact
// same classification, retrieval, and context-assembly path.
type turnContext struct {
	isQuestion  bool
	emotion     EmotionTag
	affState    affinity.State
	retrieval   retrieve.Result
	facts       []store.Fact
	recentTurns []store.Turn
}

// prepare runs every step of §4.1 up to generation: the idempotency check,
// the greeting/ack/farewell fast-path, and (unless MemorizeOnly) the
// parallel hybrid retrieval. A non-nil *Reply means the turn already has
// its answer and short-circuits straight past generation and persistence.
func (s *Service) prepare(ctx context.Context, req Request) (turnContext, *Reply, error) {
	var tc turnContext

	if req.IdempotencyKey != "" {
		if entry, ok, err := s.IdempCache.Get(ctx, req.UserID, req.IdempotencyKey); err == nil && ok {
			return tc, &Reply{Text: string(entry.Reply), TurnID: entry.TurnID}, nil
		}
		if cached, err := s.R.GetIdempotency(ctx, req.UserID, req.IdempotencyKey); err == nil && cached != nil {
			return tc, &Reply{Text: string(cached.Reply), TurnID: cached.TurnID}, nil
		}
	}

	tc.isQuestion = extract.IsQuestion(req.Text)
	tc.emotion = TagEmotion(req.Text)

	if class, ok := classifyShortCircuit(req.Text); ok {
		_, state, err := s.Affinity.Get(ctx, req.UserID)
		if err != nil {
			state = affinity.StateFriend
		}
		if tmpl, ok := templateFor(class, string(state)); ok {
			return tc, &Reply{Text: tmpl}, nil
		}
	}

	affScore, affState, err := s.Affinity.Get(ctx, req.UserID)
	if err != nil {
		affScore, affState = 0.5, affinity.StateFriend
	}
	tc.affState = affState

	if !req.MemorizeOnly {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			tc.retrieval, _ = s.Retrieve.HybridRetrieve(gctx, req.UserID, req.Text, affScore)
			return nil
		})
		g.Go(func() error {
			tc.facts = s.Retrieve.RetrieveEntityFacts(gctx, req.UserID, req.Text)
			return nil
		})
		_ = g.Wait()
	}

	tc.recentTurns, _ = s.R.RecentTurns(ctx, req.SessionID, 10)
	return tc, nil, nil
}

// ProcessTurn implements the §4.1 turn algorithm.
func (s *Service) ProcessTurn(ctx context.Context, req Request) (Reply, error) {
	log := observability.LoggerWithTrace(ctx)

	tc, short, err := s.prepare(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	if short != nil {
		return *short, nil
	}

	var replyText string
	if !req.MemorizeOnly {
		replyText, err = s.generate(ctx, req, tc)
		if err != nil {
			log.Warn().Err(err).Msg("reply generation failed, degrading to empty context reply")
			replyText = "Sorry, I couldn't come up with a reply just now."
		}
	}

	return s.finish(ctx, req, tc, replyText)
}

// finish persists the turn (Turn + Memory + OutboxEvent in one transaction),
// updates affinity, and runs the post-commit conflict scan. Shared by
// ProcessTurn and StreamTurn so both paths commit identically.
func (s *Service) finish(ctx context.Context, req Request, tc turnContext, replyText string) (Reply, error) {
	log := observability.LoggerWithTrace(ctx)

	userTurn := store.Turn{ID: uuid.NewString(), SessionID: req.SessionID, UserID: req.UserID, Role: store.RoleUser, Content: req.Text, CreatedAt: time.Now(), EmotionTag: tc.emotion.Label}
	memID := uuid.NewString()
	mem := store.Memory{ID: memID, UserID: req.UserID, Content: req.Text, Valence: tc.emotion.Valence, Status: store.MemoryPending, ConversationID: req.SessionID, CreatedAt: time.Now()}
	evt := store.OutboxEvent{
		ID: uuid.NewString(), EventID: "memory_created:" + memID, MemoryID: memID, Status: store.OutboxPending,
		CreatedAt: time.Now(),
		Payload:   map[string]any{"memory_id": memID, "user_id": req.UserID, "text": req.Text, "session_id": req.SessionID, "observed_at": time.Now().Unix()},
	}

	var idemp *store.IdempotencyKey
	if req.IdempotencyKey != "" {
		idemp = &store.IdempotencyKey{Key: req.IdempotencyKey, UserID: req.UserID, TurnID: userTurn.ID, Reply: []byte(replyText), CreatedAt: time.Now(), ExpiresAt: time.Now().Add(s.Cfg.IdempotencyTTL())}
		if err := s.IdempCache.Set(ctx, req.UserID, req.IdempotencyKey, idempotency.Entry{TurnID: userTurn.ID, Reply: []byte(replyText)}, s.Cfg.IdempotencyTTL()); err != nil {
			log.Debug().Err(err).Msg("idempotency cache write-through failed")
		}
	}

	switch {
	case req.MemorizeOnly:
		if err := s.R.InsertMemorizeOnly(ctx, userTurn, mem, evt); err != nil {
			return Reply{}, fmt.Errorf("persist memorize-only turn: %w", err)
		}
	case tc.isQuestion:
		// Questions never enqueue extraction; still persist the exchange
		// so conversation history stays complete, but mark the event
		// pre-skipped so the drainer never attempts a graph write.
		assistantTurn := store.Turn{ID: uuid.NewString(), SessionID: req.SessionID, UserID: req.UserID, Role: store.RoleAssistant, Content: replyText, CreatedAt: time.Now()}
		if err := s.R.InsertTurnAndMemory(ctx, userTurn, assistantTurn, mem, evt, idemp); err != nil {
			return Reply{}, fmt.Errorf("persist turn: %w", err)
		}
		if err := s.R.FinalizeOutboxSkipped(ctx, memID, evt.EventID); err != nil {
			log.Warn().Err(err).Msg("failed to mark question turn's outbox event skipped")
		}
	default:
		assistantTurn := store.Turn{ID: uuid.NewString(), SessionID: req.SessionID, UserID: req.UserID, Role: store.RoleAssistant, Content: replyText, CreatedAt: time.Now()}
		if err := s.R.InsertTurnAndMemory(ctx, userTurn, assistantTurn, mem, evt, idemp); err != nil {
			return Reply{}, fmt.Errorf("persist turn: %w", err)
		}
		if s.Kafka != nil {
			if err := s.Kafka.Publish(ctx, evt); err != nil {
				log.Warn().Err(err).Str("event_id", evt.EventID).Msg("kafka outbox publish failed, relying on polling claim")
			}
		}
	}

	silenceDays := silenceDaysSince(tc.recentTurns)
	sig := affinity.Signals{
		UserInitiated:      true,
		EmotionValence:     tc.emotion.Valence,
		MemoryConfirmation: confirmRe.MatchString(req.Text),
		Correction:         correctionRe.MatchString(req.Text),
		SilenceDays:        silenceDays,
	}
	if _, _, _, err := s.Affinity.Update(ctx, req.UserID, sig); err != nil {
		log.Warn().Err(err).Msg("affinity update failed")
	}

	if !tc.isQuestion && !req.MemorizeOnly {
		if ev, err := graphsvc.ScanForConflicts(ctx, s.R, req.UserID, mem, 30*24*time.Hour, 50); err == nil && ev != nil {
			log.Info().Str("old_id", ev.OldID).Str("new_id", ev.NewID).Msg("conflict needs clarification")
		}
	}

	return Reply{Text: replyText, TurnID: userTurn.ID, MemoryID: memID}, nil
}

func (s *Service) generate(ctx context.Context, req Request, tc turnContext) (string, error) {
	if s.Provider == nil {
		return "", fmt.Errorf("no generation provider configured")
	}
	cctx, cancel := context.WithTimeout(ctx, s.generateTimeout())
	defer cancel()

	msgs := buildPrompt(req, tc.recentTurns, tc.retrieval, tc.facts, string(tc.affState))
	resp, err := s.Provider.Chat(cctx, msgs, nil, s.Model)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *Service) generateTimeout() time.Duration {
	timeout := time.Duration(s.Cfg.Oracle.GenerateTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return timeout
}

func silenceDaysSince(recentTurns []store.Turn) int {
	if len(recentTurns) == 0 {
		return 0
	}
	last := recentTurns[0].CreatedAt
	for _, t := range recentTurns {
		if t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
	}
	days := int(time.Since(last).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days
}
