package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRelational struct{ pool *pgxpool.Pool }

// NewPostgresRelational wires the R adapter onto Postgres, creating the
// tables from §3 if they don't exist.
func NewPostgresRelational(pool *pgxpool.Pool) Relational {
	ctx := context.Background()
	for _, stmt := range pgRelationalSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			// Best-effort: surfaced on first real query if truly broken.
			continue
		}
	}
	return &pgRelational{pool: pool}
}

var pgRelationalSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(), ended_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY, session_id TEXT NOT NULL, user_id TEXT NOT NULL,
		role TEXT NOT NULL, content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), emotion_tag TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS turns_session_idx ON turns(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, content TEXT NOT NULL,
		valence DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending', conversation_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), committed_at TIMESTAMPTZ,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY, event_id TEXT NOT NULL UNIQUE, memory_id TEXT,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'pending', retry_count INT NOT NULL DEFAULT 0,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processing_started_at TIMESTAMPTZ, vector_written_at TIMESTAMPTZ,
		graph_written_at TIMESTAMPTZ, processed_at TIMESTAMPTZ, error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_status_idx ON outbox_events(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		user_id TEXT NOT NULL, key TEXT NOT NULL, turn_id TEXT NOT NULL,
		reply BYTEA, created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL, PRIMARY KEY(user_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS affinity_history (
		user_id TEXT NOT NULL, score DOUBLE PRECISION NOT NULL,
		delta DOUBLE PRECISION NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS affinity_user_idx ON affinity_history(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS conflict_records (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, memory_old_id TEXT NOT NULL,
		memory_new_id TEXT NOT NULL, topic TEXT, evidence TEXT,
		detected_at TIMESTAMPTZ NOT NULL DEFAULT now(), resolution TEXT NOT NULL,
		deprecating_mem_id TEXT
	)`,
}

func (p *pgRelational) InsertTurnAndMemory(ctx context.Context, userTurn, assistantTurn Turn, mem Memory, evt OutboxEvent, idemp *IdempotencyKey) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		if err := insertTurn(ctx, tx, userTurn); err != nil {
			return err
		}
		if err := insertTurn(ctx, tx, assistantTurn); err != nil {
			return err
		}
		if err := insertMemory(ctx, tx, mem); err != nil {
			return err
		}
		if err := insertOutbox(ctx, tx, evt); err != nil {
			return err
		}
		if idemp != nil {
			if err := insertIdempotency(ctx, tx, *idemp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *pgRelational) InsertMemorizeOnly(ctx context.Context, turn Turn, mem Memory, evt OutboxEvent) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		if err := insertTurn(ctx, tx, turn); err != nil {
			return err
		}
		if err := insertMemory(ctx, tx, mem); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, evt)
	})
}

func insertTurn(ctx context.Context, tx pgx.Tx, t Turn) error {
	_, err := tx.Exec(ctx, `INSERT INTO turns(id, session_id, user_id, role, content, created_at, emotion_tag)
		VALUES($1,$2,$3,$4,$5,$6,$7)`, t.ID, t.SessionID, t.UserID, t.Role, t.Content, t.CreatedAt, t.EmotionTag)
	return err
}

func insertMemory(ctx context.Context, tx pgx.Tx, m Memory) error {
	meta, _ := json.Marshal(m.Metadata)
	_, err := tx.Exec(ctx, `INSERT INTO memories(id, user_id, content, valence, status, conversation_id, created_at, metadata)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`, m.ID, m.UserID, m.Content, m.Valence, m.Status, m.ConversationID, m.CreatedAt, meta)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, e OutboxEvent) error {
	payload, _ := json.Marshal(e.Payload)
	_, err := tx.Exec(ctx, `INSERT INTO outbox_events(id, event_id, memory_id, payload, status, retry_count, idempotency_key, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`, e.ID, e.EventID, e.MemoryID, payload, e.Status, e.RetryCount, e.IdempotencyKey, e.CreatedAt)
	return err
}

func insertIdempotency(ctx context.Context, tx pgx.Tx, k IdempotencyKey) error {
	_, err := tx.Exec(ctx, `INSERT INTO idempotency_keys(user_id, key, turn_id, reply, created_at, expires_at)
		VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT (user_id, key) DO NOTHING`,
		k.UserID, k.Key, k.TurnID, k.Reply, k.CreatedAt, k.ExpiresAt)
	return err
}

func (p *pgRelational) GetIdempotency(ctx context.Context, userID, key string) (*IdempotencyKey, error) {
	row := p.pool.QueryRow(ctx, `SELECT user_id, key, turn_id, reply, created_at, expires_at
		FROM idempotency_keys WHERE user_id=$1 AND key=$2 AND expires_at > now()`, userID, key)
	var k IdempotencyKey
	if err := row.Scan(&k.UserID, &k.Key, &k.TurnID, &k.Reply, &k.CreatedAt, &k.ExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &k, nil
}

// ClaimOutbox implements the conditional-update claim pattern: an atomic
// pending/stuck-processing -> processing transition that yields at-most-one
// concurrent claimer per row.
func (p *pgRelational) ClaimOutbox(ctx context.Context, limit int, requeueStuckAfterSeconds int) ([]OutboxEvent, error) {
	rows, err := p.pool.Query(ctx, `
WITH claimable AS (
  SELECT id FROM outbox_events
  WHERE status = 'pending'
     OR (status = 'processing' AND processing_started_at < now() - ($2 || ' seconds')::interval)
  ORDER BY created_at
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events o SET status = 'processing', processing_started_at = now()
FROM claimable c WHERE o.id = c.id
RETURNING o.id, o.event_id, o.memory_id, o.payload, o.status, o.retry_count, o.idempotency_key,
	o.created_at, o.processing_started_at, o.vector_written_at, o.graph_written_at, o.processed_at, o.error_message
`, limit, requeueStuckAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()
	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.MemoryID, &payload, &e.Status, &e.RetryCount, &e.IdempotencyKey,
			&e.CreatedAt, &e.ProcessingStartedAt, &e.VectorWrittenAt, &e.GraphWrittenAt, &e.ProcessedAt, &e.ErrorMessage); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *pgRelational) GetMemory(ctx context.Context, userID, memoryID string) (*Memory, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, user_id, content, valence, status, conversation_id, created_at, committed_at, metadata
		FROM memories WHERE id=$1 AND user_id=$2`, memoryID, userID)
	var m Memory
	var meta []byte
	if err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.Valence, &m.Status, &m.ConversationID, &m.CreatedAt, &m.CommittedAt, &meta); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(meta, &m.Metadata)
	return &m, nil
}

func (p *pgRelational) FinalizeOutboxDone(ctx context.Context, memoryID, eventID string, vectorWrittenAt, graphWrittenAt int64) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE memories SET status='committed', committed_at=now() WHERE id=$1`, memoryID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE outbox_events SET status='done', processed_at=now(),
			vector_written_at=to_timestamp($2), graph_written_at=to_timestamp($3) WHERE event_id=$1`,
			eventID, vectorWrittenAt, graphWrittenAt)
		return err
	})
}

func (p *pgRelational) FinalizeOutboxReschedule(ctx context.Context, eventID string, retryCount int, backoffSeconds float64, maxRetries int, errMsg string) error {
	if retryCount >= maxRetries {
		_, err := p.pool.Exec(ctx, `UPDATE outbox_events SET status='dlq', retry_count=$2, error_message=$3 WHERE event_id=$1`,
			eventID, retryCount, errMsg)
		return err
	}
	_, err := p.pool.Exec(ctx, `UPDATE outbox_events SET status='pending', retry_count=$2, error_message=$3,
		processing_started_at=NULL, created_at = now() + ($4 || ' seconds')::interval WHERE event_id=$1`,
		eventID, retryCount, errMsg, backoffSeconds)
	return err
}

func (p *pgRelational) FinalizeOutboxDLQ(ctx context.Context, eventID, reason string) error {
	_, err := p.pool.Exec(ctx, `UPDATE outbox_events SET status='dlq', error_message=$2 WHERE event_id=$1`, eventID, reason)
	return err
}

func (p *pgRelational) FinalizeOutboxPendingReview(ctx context.Context, memoryID, eventID string) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE memories SET status='pending_review' WHERE id=$1`, memoryID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE outbox_events SET status='pending_review' WHERE event_id=$1`, eventID)
		return err
	})
}

func (p *pgRelational) FinalizeOutboxSkipped(ctx context.Context, memoryID, eventID string) error {
	return withTx(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE memories SET status='committed', committed_at=now(),
			metadata = metadata || '{"graph_skipped": true}'::jsonb WHERE id=$1`, memoryID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE outbox_events SET status='done', processed_at=now(),
			vector_written_at=now(), graph_written_at=now() WHERE event_id=$1`, eventID)
		return err
	})
}

func (p *pgRelational) GetLastAffinity(ctx context.Context, userID string) (*AffinityRow, error) {
	row := p.pool.QueryRow(ctx, `SELECT user_id, score, delta, created_at FROM affinity_history
		WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1`, userID)
	var a AffinityRow
	if err := row.Scan(&a.UserID, &a.Score, &a.Delta, &a.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (p *pgRelational) InsertAffinityRow(ctx context.Context, row AffinityRow) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO affinity_history(user_id, score, delta, created_at) VALUES($1,$2,$3,$4)`,
		row.UserID, row.Score, row.Delta, row.CreatedAt)
	return err
}

func (p *pgRelational) GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]Memory, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, user_id, content, valence, status, conversation_id, created_at, committed_at, metadata
		FROM memories WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (p *pgRelational) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, session_id, user_id, role, content, created_at, emotion_tag
		FROM turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserID, &t.Role, &t.Content, &t.CreatedAt, &t.EmotionTag); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (p *pgRelational) MemoriesSince(ctx context.Context, userID string, since int64, limit int) ([]Memory, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, user_id, content, valence, status, conversation_id, created_at, committed_at, metadata
		FROM memories WHERE user_id=$1 AND status='committed' AND created_at >= to_timestamp($2)
		ORDER BY created_at DESC LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows pgx.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		var meta []byte
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Valence, &m.Status, &m.ConversationID, &m.CreatedAt, &m.CommittedAt, &meta); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *pgRelational) DeprecateMemory(ctx context.Context, memoryID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE memories SET status='deprecated' WHERE id=$1`, memoryID)
	return err
}

func (p *pgRelational) InsertConflict(ctx context.Context, c ConflictRecord) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO conflict_records(id, user_id, memory_old_id, memory_new_id, topic, evidence, detected_at, resolution, deprecating_mem_id)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.UserID, c.MemoryOldID, c.MemoryNewID, c.Topic, c.Evidence, c.DetectedAt, c.Resolution, c.DeprecatingMemID)
	return err
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
