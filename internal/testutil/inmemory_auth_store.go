package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryAuthStore implements auth.Repository
type InMemoryAuthStore struct {
	mu      sync.RWMutex
	records map[string]*auth.Auth
}

func NewInMemoryAuthStore() *InMemoryAuthStore {
	return &InMemoryAuthStore{
		records: make(map[string]*auth.Auth),
	}
}

func (s *InMemoryAuthStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*auth.Auth)
}

func (s *InMemoryAuthStore) CreateAuth(ctx context.Context, a *auth.Auth) error {
	if a == nil {
		return ierr.NewError("auth record cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[a.UserID]; exists {
		return ierr.NewError("auth record already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	s.records[a.UserID] = a
	return nil
}

func (s *InMemoryAuthStore) GetAuthByUserID(ctx context.Context, userID string) (*auth.Auth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.records[userID]
	if !ok || a.Status != types.StatusPublished {
		return nil, ierr.NewError("auth record not found").
			Mark(ierr.ErrNotFound)
	}
	return a, nil
}

func (s *InMemoryAuthStore) UpdateAuth(ctx context.Context, a *auth.Auth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[a.UserID]; !ok {
		return ierr.NewError("auth record not found").
			Mark(ierr.ErrNotFound)
	}
	a.UpdatedAt = time.Now().UTC()
	s.records[a.UserID] = a
	return nil
}

func (s *InMemoryAuthStore) DeleteAuth(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; !ok {
		return ierr.NewError("auth record not found").
			Mark(ierr.ErrNotFound)
	}
	delete(s.records, userID)
	return nil
}
