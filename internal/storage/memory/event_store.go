package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ClassifiedEvent // keyed by signature
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.ClassifiedEvent),
	}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Insert adds a classified event. Returns ErrDuplicateKey if signature exists.
func (s *EventStore) Insert(_ context.Context, e *domain.ClassifiedEvent) error {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[e.Signature] = &copy
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *EventStore) GetBySignature(_ context.Context, signature string) (*domain.ClassifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *e
	return &copy, nil
}

// GetByTimeRange retrieves events for a mint observed within [start, end], ordered by observed_at ASC.
func (s *EventStore) GetByTimeRange(_ context.Context, mint string, start, end time.Time) ([]*domain.ClassifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClassifiedEvent
	for _, e := range s.data {
		if e.Mint != mint || e.ObservedAt.Before(start) || e.ObservedAt.After(end) {
			continue
		}
		copy := *e
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ObservedAt.Equal(result[j].ObservedAt) {
			return result[i].Signature < result[j].Signature
		}
		return result[i].ObservedAt.Before(result[j].ObservedAt)
	})

	return result, nil
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
