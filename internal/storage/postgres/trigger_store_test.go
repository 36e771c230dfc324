package postgres

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

func TestTriggerStore_InsertAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTriggerStore(pool)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0).UTC()
	rec := &domain.TriggerRecord{
		TriggerID:      "t-1",
		Mint:           "mint-1",
		WindowStart:    start,
		BreachedAt:     start.Add(20 * time.Second),
		Volume:         decimal.RequireFromString("1.1"),
		Threshold:      decimal.NewFromInt(1),
		EventCount:     3,
		Outcome:        domain.OutcomeSimulated,
		CompletionCode: 0,
		CompletedAt:    start.Add(20 * time.Second),
	}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), storage.ErrDuplicateKey)

	got, err := store.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSimulated, got.Outcome)
	assert.Equal(t, 3, got.EventCount)
	assert.True(t, got.Volume.Equal(rec.Volume))
	assert.True(t, got.Threshold.Equal(rec.Threshold))
	assert.True(t, got.WindowStart.Equal(start))

	records, err := store.GetByMint(ctx, "mint-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTriggerStore_RejectsUnknownOutcome(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewTriggerStore(pool).Insert(context.Background(), &domain.TriggerRecord{
		TriggerID:   "t-bad",
		Mint:        "mint-1",
		Outcome:     "MAYBE",
		WindowStart: time.Now(),
		BreachedAt:  time.Now(),
		CompletedAt: time.Now(),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrDuplicateKey)
}
