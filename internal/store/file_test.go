package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/gearwars/internal/wager"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "data.json")
	fs := NewFileStore(path)
	ctx := context.Background()

	// empty load is not an error
	_, ok, err := fs.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	snap := Snapshot{
		Balances: map[string]int64{"u1": 950, "u2": 1050},
		Bets: []wager.Bet{{
			ID:      "b1",
			OwnerID: "u1",
			Amount:  50,
			Status:  wager.BetOpen,
		}},
		Rewards: map[string]int64{"u1": 100000},
		SavedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, fs.Save(ctx, snap))

	got, ok, err := fs.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.Balances, got.Balances)
	require.Equal(t, snap.Bets, got.Bets)
	require.Equal(t, snap.Rewards, got.Rewards)
	require.True(t, snap.SavedAt.Equal(got.SavedAt))
}

func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	fs := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, Snapshot{Balances: map[string]int64{"u1": 1}}))
	require.NoError(t, fs.Save(ctx, Snapshot{Balances: map[string]int64{"u1": 2}}))

	got, ok, err := fs.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), got.Balances["u1"])
}
