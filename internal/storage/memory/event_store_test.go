package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

func TestEventStore_InsertAndGet(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	ev := &domain.ClassifiedEvent{
		Signature:  "sig1",
		Mint:       "mint1",
		Side:       domain.SideBuy,
		Wallet:     "wallet1",
		Volume:     decimal.RequireFromString("0.494495"),
		ObservedAt: time.Unix(1000, 0),
	}

	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetBySignature(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetBySignature failed: %v", err)
	}
	if !got.Volume.Equal(ev.Volume) {
		t.Errorf("Volume mismatch: got %s, want %s", got.Volume, ev.Volume)
	}

	// Stored values are copies.
	got.Wallet = "changed"
	again, _ := store.GetBySignature(ctx, "sig1")
	if again.Wallet != "wallet1" {
		t.Errorf("stored event was mutated through returned pointer")
	}
}

func TestEventStore_DuplicateKey(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	ev := &domain.ClassifiedEvent{Signature: "sig1", Mint: "mint1"}
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	if err := store.Insert(ctx, ev); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestEventStore_InvalidInput(t *testing.T) {
	store := NewEventStore()

	if err := store.Insert(context.Background(), &domain.ClassifiedEvent{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestEventStore_NotFound(t *testing.T) {
	store := NewEventStore()

	_, err := store.GetBySignature(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEventStore_GetByTimeRange(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.ClassifiedEvent{
		{Signature: "c", Mint: "mint1", ObservedAt: time.Unix(3000, 0)},
		{Signature: "a", Mint: "mint1", ObservedAt: time.Unix(1000, 0)},
		{Signature: "b", Mint: "mint1", ObservedAt: time.Unix(2000, 0)},
		{Signature: "d", Mint: "mint1", ObservedAt: time.Unix(4000, 0)},
		{Signature: "x", Mint: "mint2", ObservedAt: time.Unix(2000, 0)},
	}
	for _, ev := range events {
		if err := store.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByTimeRange(ctx, "mint1", time.Unix(1000, 0), time.Unix(3000, 0))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i, sig := range want {
		if got[i].Signature != sig {
			t.Errorf("position %d: got %s, want %s", i, got[i].Signature, sig)
		}
	}
	if store.Len() != 5 {
		t.Errorf("Len: got %d, want 5", store.Len())
	}
}
