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

// TriggerStore implements storage.TriggerStore using PostgreSQL.
type TriggerStore struct {
	pool *Pool
}

// NewTriggerStore creates a new TriggerStore.
func NewTriggerStore(pool *Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

const selectTriggers = `
	SELECT trigger_id, mint, window_start, breached_at, volume::text, threshold::text,
		event_count, outcome, completion_code, error, completed_at
	FROM trigger_records
`

// Insert adds a dispatch outcome. Returns ErrDuplicateKey if trigger_id exists.
func (s *TriggerStore) Insert(ctx context.Context, r *domain.TriggerRecord) (err error) {
	if r == nil || r.TriggerID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_trigger", start, err) }(time.Now())

	query := `
		INSERT INTO trigger_records (
			trigger_id, mint, window_start, breached_at, volume, threshold,
			event_count, outcome, completion_code, error, completed_at
		) VALUES (
			$1, $2, $3, $4, $5::text::numeric, $6::text::numeric,
			$7, $8, $9, $10, $11
		)
	`

	_, err = s.pool.Exec(ctx, query,
		r.TriggerID, r.Mint, r.WindowStart, r.BreachedAt, r.Volume.String(), r.Threshold.String(),
		r.EventCount, r.Outcome, r.CompletionCode, r.Error, r.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trigger record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by trigger ID. Returns ErrNotFound if not exists.
func (s *TriggerStore) GetByID(ctx context.Context, triggerID string) (*domain.TriggerRecord, error) {
	r, err := scanTrigger(s.pool.QueryRow(ctx, selectTriggers+" WHERE trigger_id = $1", triggerID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query trigger record: %w", err)
	}
	return r, nil
}

// GetByMint retrieves all records for a mint, ordered by breached_at ASC.
func (s *TriggerStore) GetByMint(ctx context.Context, mint string) ([]*domain.TriggerRecord, error) {
	rows, err := s.pool.Query(ctx, selectTriggers+" WHERE mint = $1 ORDER BY breached_at ASC", mint)
	if err != nil {
		return nil, fmt.Errorf("query by mint: %w", err)
	}
	defer rows.Close()

	var records []*domain.TriggerRecord
	for rows.Next() {
		r, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger records: %w", err)
	}
	return records, nil
}

func scanTrigger(row pgx.Row) (*domain.TriggerRecord, error) {
	var r domain.TriggerRecord
	var volume, threshold string

	err := row.Scan(
		&r.TriggerID, &r.Mint, &r.WindowStart, &r.BreachedAt, &volume, &threshold,
		&r.EventCount, &r.Outcome, &r.CompletionCode, &r.Error, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", volume, err)
	}
	if r.Threshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("parse threshold %q: %w", threshold, err)
	}
	return &r, nil
}
