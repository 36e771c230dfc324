package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Amounts travel as text so NUMERIC keeps full precision.
const selectEvents = `
	SELECT signature, mint, side, wallet, is_internal, volume::text, token_amount::text,
		observed_at, slot, block_time, priority
	FROM classified_events
`

// Insert adds a classified event. Returns ErrDuplicateKey if signature exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.ClassifiedEvent) (err error) {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_event", start, err) }(time.Now())

	query := `
		INSERT INTO classified_events (
			signature, mint, side, wallet, is_internal, volume, token_amount,
			observed_at, slot, block_time, priority
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric,
			$8, $9, $10, $11
		)
	`

	_, err = s.pool.Exec(ctx, query,
		e.Signature, e.Mint, string(e.Side), e.Wallet, e.IsInternal,
		e.Volume.String(), e.TokenAmount.String(),
		e.ObservedAt, e.Slot, e.BlockTime, e.Priority,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert classified event: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *EventStore) GetBySignature(ctx context.Context, signature string) (*domain.ClassifiedEvent, error) {
	row := s.pool.QueryRow(ctx, selectEvents+" WHERE signature = $1", signature)

	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query classified event: %w", err)
	}
	return e, nil
}

// GetByTimeRange retrieves events for a mint observed within [start, end], ordered by observed_at ASC.
func (s *EventStore) GetByTimeRange(ctx context.Context, mint string, start, end time.Time) ([]*domain.ClassifiedEvent, error) {
	query := selectEvents + `
		WHERE mint = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, mint, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	var events []*domain.ClassifiedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan classified event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classified events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*domain.ClassifiedEvent, error) {
	var e domain.ClassifiedEvent
	var side, volume, tokenAmount string

	err := row.Scan(
		&e.Signature, &e.Mint, &side, &e.Wallet, &e.IsInternal, &volume, &tokenAmount,
		&e.ObservedAt, &e.Slot, &e.BlockTime, &e.Priority,
	)
	if err != nil {
		return nil, err
	}

	e.Side = domain.Side(side)
	if e.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", volume, err)
	}
	if e.TokenAmount, err = decimal.NewFromString(tokenAmount); err != nil {
		return nil, fmt.Errorf("parse token amount %q: %w", tokenAmount, err)
	}
	return &e, nil
}
