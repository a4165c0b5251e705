package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_sim/internal/core"
)

func sampleState() *core.ProfileState {
	return &core.ProfileState{
		WalletBalance: 9120.57,
		FeeRate:       0.0004,
		ReferenceCoin: "ETH",
		ObservedLiq:   map[string]float64{"ETH": 171.36},
		Positions: []core.Position{
			{ID: "l", Direction: core.Long, Coin: "ETH", EntryPrice: 3265.75, Margin: 373.60, Leverage: 50},
			{ID: "s", Direction: core.Short, Coin: "ETH", EntryPrice: 1952.15, Margin: 188.28, Leverage: 50},
		},
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id := NewProfileID()
	require.NoError(t, s.SaveProfile(ctx, id, sampleState()))

	loaded, err := s.LoadProfile(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sampleState(), loaded)
}

func TestSQLiteStore_MissingProfileIsNil(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadProfile(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLiteStore_OverwriteKeepsLatest(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id := NewProfileID()
	require.NoError(t, s.SaveProfile(ctx, id, sampleState()))

	updated := sampleState()
	updated.WalletBalance = 12000
	require.NoError(t, s.SaveProfile(ctx, id, updated))

	loaded, err := s.LoadProfile(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 12000, loaded.WalletBalance, 1e-12)
}

func TestSQLiteStore_ListProfilesNewestFirst(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveProfile(ctx, "first", sampleState()))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.SaveProfile(ctx, "second", sampleState()))

	ids, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, ids)
}

func TestSQLiteStore_EmptyIDRejected(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SaveProfile(context.Background(), "", sampleState()))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	loaded, err := s.LoadProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := sampleState()
	require.NoError(t, s.SaveProfile(ctx, "p1", state))
	loaded, err = s.LoadProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)
}
