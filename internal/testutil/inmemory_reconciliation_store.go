package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/reconciliation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryReconciliationStore implements reconciliation.Repository
type InMemoryReconciliationStore struct {
	mu   sync.Mutex
	runs map[string]*reconciliation.Run
}

func NewInMemoryReconciliationStore() *InMemoryReconciliationStore {
	return &InMemoryReconciliationStore{
		runs: make(map[string]*reconciliation.Run),
	}
}

func (s *InMemoryReconciliationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]*reconciliation.Run)
}

func (s *InMemoryReconciliationStore) Create(ctx context.Context, run *reconciliation.Run) error {
	if run == nil {
		return ierr.NewError("reconciliation run cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return ierr.NewError("reconciliation run already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if run.BaseModel.Status == "" {
		run.BaseModel.Status = types.StatusPublished
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs[run.ID] = run
	return nil
}

func (s *InMemoryReconciliationStore) Get(ctx context.Context, id string) (*reconciliation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ierr.NewError("reconciliation run not found").
			Mark(ierr.ErrNotFound)
	}
	return run, nil
}

func (s *InMemoryReconciliationStore) List(ctx context.Context, scope types.ReconciliationScope, limit int) ([]*reconciliation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*reconciliation.Run
	for _, run := range s.runs {
		if scope != "" && run.Scope != scope {
			continue
		}
		result = append(result, run)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}
