package memory

import (
	"context"
	"sort"
	"sync"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

// TriggerStore is an in-memory implementation of storage.TriggerStore.
type TriggerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TriggerRecord // keyed by trigger_id
}

// NewTriggerStore creates a new in-memory trigger store.
func NewTriggerStore() *TriggerStore {
	return &TriggerStore{
		data: make(map[string]*domain.TriggerRecord),
	}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

// Insert adds a dispatch outcome. Returns ErrDuplicateKey if trigger_id exists.
func (s *TriggerStore) Insert(_ context.Context, r *domain.TriggerRecord) error {
	if r == nil || r.TriggerID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.TriggerID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.TriggerID] = &copy
	return nil
}

// GetByID retrieves a record by trigger ID. Returns ErrNotFound if not exists.
func (s *TriggerStore) GetByID(_ context.Context, triggerID string) (*domain.TriggerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[triggerID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetByMint retrieves all records for a mint, ordered by breached_at ASC.
func (s *TriggerStore) GetByMint(_ context.Context, mint string) ([]*domain.TriggerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TriggerRecord
	for _, r := range s.data {
		if r.Mint == mint {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BreachedAt.Before(result[j].BreachedAt)
	})

	return result, nil
}
