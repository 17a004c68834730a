package affinity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/config"
	"manifold/internal/store"
)

func newService() *Service {
	return &Service{R: store.NewMemoryRelational(), Cfg: config.AffinityConfig{
		Alpha1UserInitiated: 0.03, Alpha2Valence: 0.05, Alpha3Confirmation: 0.02,
		Alpha4Correction: 0.05, Alpha5SilenceDays: 0.01, Default: 0.5,
	}}
}

func TestGet_DefaultsWhenNoHistory(t *testing.T) {
	s := newService()
	score, state, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 0.5, score)
	require.Equal(t, StateFriend, state)
}

func TestUpdate_ClipsDeltaBounds(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, next, delta, err := s.Update(ctx, "u1", Signals{UserInitiated: true, EmotionValence: 1, MemoryConfirmation: true})
	require.NoError(t, err)
	require.LessOrEqual(t, delta, 0.1)
	require.GreaterOrEqual(t, delta, -0.1)
	require.GreaterOrEqual(t, next, 0.0)
	require.LessOrEqual(t, next, 1.0)
}

func TestUpdate_ScoreNeverLeavesBounds(t *testing.T) {
	s := newService()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		_, next, _, err := s.Update(ctx, "u1", Signals{UserInitiated: true, EmotionValence: 1, MemoryConfirmation: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, next, 0.0)
		require.LessOrEqual(t, next, 1.0)
	}
	for i := 0; i < 200; i++ {
		_, next, _, err := s.Update(ctx, "u1", Signals{Correction: true, EmotionValence: -1, SilenceDays: 30})
		require.NoError(t, err)
		require.GreaterOrEqual(t, next, 0.0)
		require.LessOrEqual(t, next, 1.0)
	}
}

func TestDeriveState_CutPoints(t *testing.T) {
	require.Equal(t, StateStranger, DeriveState(0.0))
	require.Equal(t, StateAcquaintance, DeriveState(0.2))
	require.Equal(t, StateFriend, DeriveState(0.4))
	require.Equal(t, StateCloseFriend, DeriveState(0.6))
	require.Equal(t, StateBestFriend, DeriveState(0.8))
	require.Equal(t, StateBestFriend, DeriveState(1.0))
}

func TestUpdate_PersistsHistoryRow(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, _, _, err := s.Update(ctx, "u1", Signals{UserInitiated: true})
	require.NoError(t, err)
	row, err := s.R.GetLastAffinity(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, row)
}
