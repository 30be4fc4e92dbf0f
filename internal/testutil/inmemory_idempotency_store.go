package testutil

import (
	"context"
	"sync"

	"github.com/meterline/meterline/internal/domain/idempotency"
	ierr "github.com/meterline/meterline/internal/errors"
)

// InMemoryIdempotencyStore implements idempotency.Repository. The unique
// key map stands in for the registry's unique index.
type InMemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]*idempotency.Key
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		keys: make(map[string]*idempotency.Key),
	}
}

func (s *InMemoryIdempotencyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]*idempotency.Key)
}

func (s *InMemoryIdempotencyStore) Reserve(ctx context.Context, key, entityType string) (idempotency.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.keys[key]; ok {
		return idempotency.Outcome{Status: idempotency.OutcomeExisting, EntityID: existing.EntityID}, nil
	}

	s.keys[key] = idempotency.NewKey(key, entityType, "")
	return idempotency.Outcome{Status: idempotency.OutcomeCreated}, nil
}

func (s *InMemoryIdempotencyStore) Complete(ctx context.Context, key, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.keys[key]
	if !ok {
		return ierr.NewErrorf("idempotency key %s not found", key).
			Mark(ierr.ErrNotFound)
	}
	row.EntityID = entityID
	return nil
}

func (s *InMemoryIdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.keys[key]
	if !ok {
		return nil, ierr.NewError("idempotency key not found").
			Mark(ierr.ErrNotFound)
	}
	return row, nil
}

// GetForUpdate behaves like Get; the in-memory store has no row locks, so
// tests that need contention drive it through ordered calls instead.
func (s *InMemoryIdempotencyStore) GetForUpdate(ctx context.Context, key string) (*idempotency.Key, error) {
	return s.Get(ctx, key)
}

func (s *InMemoryIdempotencyStore) Create(ctx context.Context, row *idempotency.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[row.IdempotencyKey]; ok {
		return ierr.NewError("idempotency key already claimed").
			WithReportableDetails(map[string]any{"idempotency_key": row.IdempotencyKey}).
			Mark(ierr.ErrAlreadyExists)
	}
	s.keys[row.IdempotencyKey] = row
	return nil
}
