package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

func TestEventStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(conn)
	ctx := context.Background()

	observed := time.UnixMilli(1_700_000_000_123).UTC()
	ev := &domain.ClassifiedEvent{
		Signature:   "sig-1",
		Mint:        "mint-1",
		Side:        domain.SideBuy,
		Wallet:      "wallet-1",
		IsInternal:  false,
		Volume:      decimal.RequireFromString("0.494495"),
		TokenAmount: decimal.RequireFromString("1000"),
		ObservedAt:  observed,
		Slot:        777,
		BlockTime:   1_700_000_000,
		Priority:    true,
	}
	require.NoError(t, store.Insert(ctx, ev))

	got, err := store.GetBySignature(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.Equal(t, "wallet-1", got.Wallet)
	assert.True(t, got.Volume.Equal(ev.Volume), "volume %s", got.Volume)
	assert.True(t, got.TokenAmount.Equal(ev.TokenAmount))
	assert.Equal(t, observed.UnixMilli(), got.ObservedAt.UnixMilli())
	assert.Equal(t, int64(777), got.Slot)
	assert.True(t, got.Priority)

	assert.ErrorIs(t, store.Insert(ctx, ev), storage.ErrDuplicateKey)

	_, err = store.GetBySignature(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEventStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(conn)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0).UTC()
	offsets := map[string]time.Duration{"a": 10 * time.Second, "b": 20 * time.Second, "c": 30 * time.Second}
	for _, sig := range []string{"c", "a", "b"} {
		require.NoError(t, store.Insert(ctx, &domain.ClassifiedEvent{
			Signature:  sig,
			Mint:       "mint-1",
			Side:       domain.SideSell,
			ObservedAt: base.Add(offsets[sig]),
		}))
	}
	require.NoError(t, store.Insert(ctx, &domain.ClassifiedEvent{Signature: "x", Mint: "mint-2", Side: domain.SideBuy, ObservedAt: base}))

	got, err := store.GetByTimeRange(ctx, "mint-1", base, base.Add(25*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Signature)
	assert.Equal(t, "b", got[1].Signature)
}
