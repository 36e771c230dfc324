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

func TestTriggerStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTriggerStore(conn)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0).UTC()
	first := &domain.TriggerRecord{
		TriggerID:      "t-1",
		Mint:           "mint-1",
		WindowStart:    start,
		BreachedAt:     start.Add(20 * time.Second),
		Volume:         decimal.RequireFromString("1.1"),
		Threshold:      decimal.NewFromInt(1),
		EventCount:     3,
		Outcome:        domain.OutcomeFailed,
		CompletionCode: 2,
		Error:          "liquidator exited with code 2",
		CompletedAt:    start.Add(21 * time.Second),
	}
	second := *first
	second.TriggerID = "t-2"
	second.WindowStart = start.Add(time.Minute)
	second.BreachedAt = start.Add(80 * time.Second)
	second.Outcome = domain.OutcomeSuccess
	second.CompletionCode = 0
	second.Error = ""

	require.NoError(t, store.Insert(ctx, &second))
	require.NoError(t, store.Insert(ctx, first))
	assert.ErrorIs(t, store.Insert(ctx, first), storage.ErrDuplicateKey)

	got, err := store.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, got.Outcome)
	assert.Equal(t, 2, got.CompletionCode)
	assert.Equal(t, 3, got.EventCount)
	assert.True(t, got.Volume.Equal(first.Volume))

	records, err := store.GetByMint(ctx, "mint-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t-1", records[0].TriggerID)
	assert.Equal(t, "t-2", records[1].TriggerID)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
