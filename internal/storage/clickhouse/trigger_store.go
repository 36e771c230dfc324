package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

// TriggerStore implements storage.TriggerStore using ClickHouse.
type TriggerStore struct {
	conn *Conn
}

// NewTriggerStore creates a new TriggerStore.
func NewTriggerStore(conn *Conn) *TriggerStore {
	return &TriggerStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

const triggerColumns = `trigger_id, mint, window_start, breached_at, volume, threshold,
	event_count, outcome, completion_code, error, completed_at`

// Insert adds a dispatch outcome. Returns ErrDuplicateKey if trigger_id exists.
func (s *TriggerStore) Insert(ctx context.Context, r *domain.TriggerRecord) (err error) {
	if r == nil || r.TriggerID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_trigger", start, err) }(time.Now())

	var count uint64
	if err := s.conn.QueryRow(ctx, "SELECT count(*) FROM trigger_records WHERE trigger_id = ?", r.TriggerID).Scan(&count); err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO trigger_records ("+triggerColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		r.TriggerID, r.Mint, r.WindowStart.UTC(), r.BreachedAt.UTC(), r.Volume, r.Threshold,
		uint32(r.EventCount), r.Outcome, int32(r.CompletionCode), r.Error, r.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves a record by trigger ID. Returns ErrNotFound if not exists.
func (s *TriggerStore) GetByID(ctx context.Context, triggerID string) (*domain.TriggerRecord, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+triggerColumns+" FROM trigger_records FINAL WHERE trigger_id = ? LIMIT 1", triggerID)
	if err != nil {
		return nil, fmt.Errorf("query by id: %w", err)
	}
	defer rows.Close()

	records, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// GetByMint retrieves all records for a mint, ordered by breached_at ASC.
func (s *TriggerStore) GetByMint(ctx context.Context, mint string) ([]*domain.TriggerRecord, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+triggerColumns+" FROM trigger_records FINAL WHERE mint = ? ORDER BY breached_at ASC", mint)
	if err != nil {
		return nil, fmt.Errorf("query by mint: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

func scanTriggers(rows chRows) ([]*domain.TriggerRecord, error) {
	var records []*domain.TriggerRecord

	for rows.Next() {
		var r domain.TriggerRecord
		var eventCount uint32
		var code int32

		err := rows.Scan(
			&r.TriggerID, &r.Mint, &r.WindowStart, &r.BreachedAt, &r.Volume, &r.Threshold,
			&eventCount, &r.Outcome, &code, &r.Error, &r.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trigger record row: %w", err)
		}

		r.EventCount = int(eventCount)
		r.CompletionCode = int(code)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger record rows: %w", err)
	}

	return records, nil
}
