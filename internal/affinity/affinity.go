// Package affinity maintains the bounded per-user relationship scalar (A)
// described in §4.6: a time series of clipped deltas driving tone
// selection, retrieval boosts, and proactive-behavior admission.
package affinity

import (
	"context"
	"fmt"
	"time"

	"manifold/internal/config"
	"manifold/internal/store"
)

// State is the derived lifecycle label at the score's fixed cut-points.
type State string

const (
	StateStranger     State = "stranger"
	StateAcquaintance State = "acquaintance"
	StateFriend       State = "friend"
	StateCloseFriend  State = "close_friend"
	StateBestFriend   State = "best_friend"
)

// DeriveState maps a score to its fixed-cut-point lifecycle label.
func DeriveState(score float64) State {
	switch {
	case score >= 0.8:
		return StateBestFriend
	case score >= 0.6:
		return StateCloseFriend
	case score >= 0.4:
		return StateFriend
	case score >= 0.2:
		return StateAcquaintance
	default:
		return StateStranger
	}
}

// Signals is the per-turn input to the update rule.
type Signals struct {
	UserInitiated      bool
	EmotionValence     float64 // [-1, 1]
	MemoryConfirmation bool
	Correction         bool
	SilenceDays        int
}

// Service computes and persists affinity updates against the relational
// store's affinity_history time series.
type Service struct {
	R   store.Relational
	Cfg config.AffinityConfig
}

// Get returns the latest affinity row for a user, or the configured
// default score (0.5 absent config override) when no row exists yet.
func (s *Service) Get(ctx context.Context, userID string) (float64, State, error) {
	row, err := s.R.GetLastAffinity(ctx, userID)
	if err != nil {
		return 0, "", fmt.Errorf("get last affinity: %w", err)
	}
	def := s.Cfg.Default
	if def == 0 {
		def = 0.5
	}
	if row == nil {
		return def, DeriveState(def), nil
	}
	return row.Score, DeriveState(row.Score), nil
}

// boundDelta clips a raw delta to the per-update bound.
const deltaBound = 0.1

func boundDelta(d float64) float64 {
	if d > deltaBound {
		return deltaBound
	}
	if d < -deltaBound {
		return -deltaBound
	}
	return d
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Update computes Δ from Signals, clips the new score to [0,1], and
// appends a new affinity_history row. Returns the prior score, the new
// score, and the applied (clipped) delta.
func (s *Service) Update(ctx context.Context, userID string, sig Signals) (prior, next, delta float64, err error) {
	prior, _, err = s.Get(ctx, userID)
	if err != nil {
		return 0, 0, 0, err
	}

	a1, a2, a3, a4, a5 := s.alphas()
	raw := a1*boolFloat(sig.UserInitiated) +
		a2*sig.EmotionValence +
		a3*boolFloat(sig.MemoryConfirmation) -
		a4*boolFloat(sig.Correction) -
		a5*float64(sig.SilenceDays)/30.0

	delta = boundDelta(raw)
	next = prior + delta
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}

	row := store.AffinityRow{UserID: userID, Score: next, Delta: delta, CreatedAt: time.Now()}
	if err := s.R.InsertAffinityRow(ctx, row); err != nil {
		return prior, next, delta, fmt.Errorf("insert affinity row: %w", err)
	}
	return prior, next, delta, nil
}

func (s *Service) alphas() (a1, a2, a3, a4, a5 float64) {
	a1, a2, a3, a4, a5 = s.Cfg.Alpha1UserInitiated, s.Cfg.Alpha2Valence, s.Cfg.Alpha3Confirmation, s.Cfg.Alpha4Correction, s.Cfg.Alpha5SilenceDays
	if a1 == 0 && a2 == 0 && a3 == 0 && a4 == 0 && a5 == 0 {
		a1, a2, a3, a4, a5 = 0.03, 0.05, 0.02, 0.05, 0.01
	}
	return
}
