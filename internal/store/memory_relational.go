package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memRelational is an in-process Relational implementation, the fallback
// backend for tests and single-node deployments without Postgres.
type memRelational struct {
	mu          sync.Mutex
	turns       map[string]Turn
	turnsBySess map[string][]string
	memories    map[string]Memory
	outbox      map[string]OutboxEvent
	idemp       map[string]IdempotencyKey // key = userID + "/" + token
	affinity    map[string][]AffinityRow
	conflicts   []ConflictRecord
}

func NewMemoryRelational() Relational {
	return &memRelational{
		turns:       make(map[string]Turn),
		turnsBySess: make(map[string][]string),
		memories:    make(map[string]Memory),
		outbox:      make(map[string]OutboxEvent),
		idemp:       make(map[string]IdempotencyKey),
		affinity:    make(map[string][]AffinityRow),
	}
}

func idempKey(userID, key string) string { return userID + "/" + key }

func (m *memRelational) InsertTurnAndMemory(_ context.Context, userTurn, assistantTurn Turn, mem Memory, evt OutboxEvent, idemp *IdempotencyKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTurnLocked(userTurn)
	m.putTurnLocked(assistantTurn)
	m.memories[mem.ID] = mem
	m.outbox[evt.EventID] = evt
	if idemp != nil {
		m.idemp[idempKey(idemp.UserID, idemp.Key)] = *idemp
	}
	return nil
}

func (m *memRelational) InsertMemorizeOnly(_ context.Context, turn Turn, mem Memory, evt OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTurnLocked(turn)
	m.memories[mem.ID] = mem
	m.outbox[evt.EventID] = evt
	return nil
}

func (m *memRelational) putTurnLocked(t Turn) {
	m.turns[t.ID] = t
	m.turnsBySess[t.SessionID] = append(m.turnsBySess[t.SessionID], t.ID)
}

func (m *memRelational) GetIdempotency(_ context.Context, userID, key string) (*IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.idemp[idempKey(userID, key)]
	if !ok || time.Now().After(k.ExpiresAt) {
		return nil, nil
	}
	cp := k
	return &cp, nil
}

func (m *memRelational) ClaimOutbox(_ context.Context, limit int, requeueStuckAfterSeconds int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var claimed []OutboxEvent
	var ids []string
	for id := range m.outbox {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if len(claimed) >= limit {
			break
		}
		e := m.outbox[id]
		stuck := e.Status == OutboxProcessing && e.ProcessingStartedAt != nil &&
			now.Sub(*e.ProcessingStartedAt) > time.Duration(requeueStuckAfterSeconds)*time.Second
		if e.Status != OutboxPending && !stuck {
			continue
		}
		started := now
		e.Status = OutboxProcessing
		e.ProcessingStartedAt = &started
		m.outbox[id] = e
		claimed = append(claimed, e)
	}
	return claimed, nil
}

func (m *memRelational) GetMemory(_ context.Context, userID, memoryID string) (*Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[memoryID]
	if !ok || mem.UserID != userID {
		return nil, nil
	}
	cp := mem
	return &cp, nil
}

func (m *memRelational) FinalizeOutboxDone(_ context.Context, memoryID, eventID string, vectorWrittenAt, graphWrittenAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if mem, ok := m.memories[memoryID]; ok {
		mem.Status = MemoryCommitted
		mem.CommittedAt = &now
		m.memories[memoryID] = mem
	}
	if e, ok := m.outbox[eventID]; ok {
		e.Status = OutboxDone
		e.ProcessedAt = &now
		vw := time.Unix(vectorWrittenAt, 0)
		gw := time.Unix(graphWrittenAt, 0)
		e.VectorWrittenAt = &vw
		e.GraphWrittenAt = &gw
		m.outbox[eventID] = e
	}
	return nil
}

func (m *memRelational) FinalizeOutboxReschedule(_ context.Context, eventID string, retryCount int, backoffSeconds float64, maxRetries int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[eventID]
	if !ok {
		return nil
	}
	e.RetryCount = retryCount
	e.ErrorMessage = errMsg
	if retryCount >= maxRetries {
		e.Status = OutboxDLQ
	} else {
		e.Status = OutboxPending
		e.ProcessingStartedAt = nil
	}
	m.outbox[eventID] = e
	return nil
}

func (m *memRelational) FinalizeOutboxDLQ(_ context.Context, eventID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[eventID]
	if !ok {
		return nil
	}
	e.Status = OutboxDLQ
	e.ErrorMessage = reason
	m.outbox[eventID] = e
	return nil
}

func (m *memRelational) FinalizeOutboxPendingReview(_ context.Context, memoryID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memories[memoryID]; ok {
		mem.Status = MemoryPendingReview
		m.memories[memoryID] = mem
	}
	if e, ok := m.outbox[eventID]; ok {
		e.Status = OutboxPendingReview
		m.outbox[eventID] = e
	}
	return nil
}

func (m *memRelational) FinalizeOutboxSkipped(_ context.Context, memoryID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if mem, ok := m.memories[memoryID]; ok {
		mem.Status = MemoryCommitted
		mem.CommittedAt = &now
		if mem.Metadata == nil {
			mem.Metadata = map[string]any{}
		}
		mem.Metadata["graph_skipped"] = true
		m.memories[memoryID] = mem
	}
	if e, ok := m.outbox[eventID]; ok {
		e.Status = OutboxDone
		e.ProcessedAt = &now
		e.VectorWrittenAt = &now
		e.GraphWrittenAt = &now
		m.outbox[eventID] = e
	}
	return nil
}

func (m *memRelational) GetLastAffinity(_ context.Context, userID string) (*AffinityRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.affinity[userID]
	if len(rows) == 0 {
		return nil, nil
	}
	cp := rows[len(rows)-1]
	return &cp, nil
}

func (m *memRelational) InsertAffinityRow(_ context.Context, row AffinityRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.affinity[row.UserID] = append(m.affinity[row.UserID], row)
	return nil
}

func (m *memRelational) GetMemoriesByIDs(_ context.Context, userID string, ids []string) ([]Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Memory, 0, len(ids))
	for _, id := range ids {
		if mem, ok := m.memories[id]; ok && mem.UserID == userID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memRelational) RecentTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.turnsBySess[sessionID]
	start := 0
	if len(ids) > limit {
		start = len(ids) - limit
	}
	out := make([]Turn, 0, len(ids)-start)
	for _, id := range ids[start:] {
		out = append(out, m.turns[id])
	}
	return out, nil
}

func (m *memRelational) MemoriesSince(_ context.Context, userID string, since int64, limit int) ([]Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Memory
	for _, mem := range m.memories {
		if mem.UserID != userID || mem.Status != MemoryCommitted {
			continue
		}
		if mem.CreatedAt.Unix() < since {
			continue
		}
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRelational) DeprecateMemory(_ context.Context, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memories[memoryID]; ok {
		mem.Status = MemoryDeprecated
		m.memories[memoryID] = mem
	}
	return nil
}

func (m *memRelational) InsertConflict(_ context.Context, c ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, c)
	return nil
}
