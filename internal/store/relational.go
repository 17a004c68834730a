package store

import "context"

// Relational is the R adapter: transactional storage for turns, memories,
// the outbox, idempotency keys, affinity history, and conflict records.
// Implementations must give §5's ordering guarantee: within one call to
// InsertTurnAndMemory, the Turn, Memory and OutboxEvent become visible
// atomically.
type Relational interface {
	// InsertTurnAndMemory commits userTurn, assistantTurn, a pending Memory,
	// and its OutboxEvent in a single transaction. If idemp is non-nil it is
	// written in the same transaction.
	InsertTurnAndMemory(ctx context.Context, userTurn, assistantTurn Turn, mem Memory, evt OutboxEvent, idemp *IdempotencyKey) error

	// InsertMemorizeOnly commits a single Memory + OutboxEvent with no reply
	// turn pair, used for memorize_only turns.
	InsertMemorizeOnly(ctx context.Context, turn Turn, mem Memory, evt OutboxEvent) error

	GetIdempotency(ctx context.Context, userID, key string) (*IdempotencyKey, error)

	// ClaimOutbox atomically transitions up to limit pending (or stuck
	// processing, per requeueStuckAfter) events to processing and returns
	// them. Exactly one claimer wins each row.
	ClaimOutbox(ctx context.Context, limit int, requeueStuckAfterSeconds int) ([]OutboxEvent, error)

	GetMemory(ctx context.Context, userID, memoryID string) (*Memory, error)

	// FinalizeOutboxDone marks the Memory committed and the event done in
	// one transaction, stamping vector/graph written-at timestamps.
	FinalizeOutboxDone(ctx context.Context, memoryID, eventID string, vectorWrittenAt, graphWrittenAt int64) error

	// FinalizeOutboxReschedule resets an event to pending with a bumped
	// retry_count and a next-attempt delay, or moves it to dlq past
	// max retries.
	FinalizeOutboxReschedule(ctx context.Context, eventID string, retryCount int, backoffSeconds float64, maxRetries int, errMsg string) error

	// FinalizeOutboxDLQ moves a permanently-failed event straight to dlq.
	FinalizeOutboxDLQ(ctx context.Context, eventID, reason string) error

	// FinalizeOutboxPendingReview marks low-confidence extraction output.
	FinalizeOutboxPendingReview(ctx context.Context, memoryID, eventID string) error

	// FinalizeOutboxSkipped marks a question-turn's event done without any
	// V/G writes (graph_skipped=true).
	FinalizeOutboxSkipped(ctx context.Context, memoryID, eventID string) error

	GetLastAffinity(ctx context.Context, userID string) (*AffinityRow, error)
	InsertAffinityRow(ctx context.Context, row AffinityRow) error

	GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]Memory, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// MemoriesSince returns up to limit committed memories created at or
	// after since (unix seconds), newest first; the conflict scan is its
	// only caller.
	MemoriesSince(ctx context.Context, userID string, since int64, limit int) ([]Memory, error)
	DeprecateMemory(ctx context.Context, memoryID string) error
	InsertConflict(ctx context.Context, c ConflictRecord) error
}

// ErrNotFound is returned by lookups that find nothing, never itself a
// reason to fail a caller's transaction.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }
