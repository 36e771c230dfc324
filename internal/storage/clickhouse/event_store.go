package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `signature, mint, side, wallet, is_internal, volume, token_amount,
	observed_at, slot, block_time, priority`

// Insert adds a classified event. MergeTree does not enforce uniqueness, so the
// signature is checked first. Returns ErrDuplicateKey if it exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.ClassifiedEvent) (err error) {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_event", start, err) }(time.Now())

	exists, err := s.exists(ctx, e.Signature)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO classified_events ("+eventColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.Signature, e.Mint, string(e.Side), e.Wallet, e.IsInternal,
		e.Volume, e.TokenAmount, e.ObservedAt.UTC(), e.Slot, e.BlockTime, e.Priority,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *EventStore) GetBySignature(ctx context.Context, signature string) (*domain.ClassifiedEvent, error) {
	query := "SELECT " + eventColumns + " FROM classified_events FINAL WHERE signature = ? LIMIT 1"

	rows, err := s.conn.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("query by signature: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return events[0], nil
}

// GetByTimeRange retrieves events for a mint observed within [start, end], ordered by observed_at ASC.
func (s *EventStore) GetByTimeRange(ctx context.Context, mint string, start, end time.Time) ([]*domain.ClassifiedEvent, error) {
	query := "SELECT " + eventColumns + ` FROM classified_events FINAL
		WHERE mint = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, signature ASC`

	rows, err := s.conn.Query(ctx, query, mint, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, "SELECT count(*) FROM classified_events WHERE signature = ?", signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows chRows) ([]*domain.ClassifiedEvent, error) {
	var events []*domain.ClassifiedEvent

	for rows.Next() {
		var e domain.ClassifiedEvent
		var side string
		var volume, tokenAmount decimal.Decimal

		err := rows.Scan(
			&e.Signature, &e.Mint, &side, &e.Wallet, &e.IsInternal,
			&volume, &tokenAmount, &e.ObservedAt, &e.Slot, &e.BlockTime, &e.Priority,
		)
		if err != nil {
			return nil, fmt.Errorf("scan classified event row: %w", err)
		}

		e.Side = domain.Side(side)
		e.Volume = volume
		e.TokenAmount = tokenAmount
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classified event rows: %w", err)
	}

	return events, nil
}
