package storage

import (
	"context"
	"time"

	"solana-volume-guard/internal/domain"
)

// EventStore provides access to the classified_events journal.
type EventStore interface {
	// Insert adds a classified event. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, e *domain.ClassifiedEvent) error

	// GetBySignature retrieves an event by transaction signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.ClassifiedEvent, error)

	// GetByTimeRange retrieves events for a mint observed within [start, end] (inclusive),
	// ordered by observed_at ASC.
	GetByTimeRange(ctx context.Context, mint string, start, end time.Time) ([]*domain.ClassifiedEvent, error)
}

// TriggerStore provides access to trigger_records storage.
type TriggerStore interface {
	// Insert adds a dispatch outcome. Returns ErrDuplicateKey if trigger_id exists.
	Insert(ctx context.Context, r *domain.TriggerRecord) error

	// GetByID retrieves a record by trigger ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, triggerID string) (*domain.TriggerRecord, error)

	// GetByMint retrieves all records for a mint, ordered by breached_at ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.TriggerRecord, error)
}
