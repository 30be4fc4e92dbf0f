package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/meterline/meterline/internal/domain/project"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryProjectStore implements project.Repository
type InMemoryProjectStore struct {
	*InMemoryStore[*project.Project]
}

func NewInMemoryProjectStore() *InMemoryProjectStore {
	return &InMemoryProjectStore{
		InMemoryStore: NewInMemoryStore[*project.Project](),
	}
}

func (s *InMemoryProjectStore) Create(ctx context.Context, p *project.Project) error {
	if p == nil {
		return ierr.NewError("project cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if p.Status == "" {
		p.Status = types.StatusPublished
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.InMemoryStore.Create(ctx, p.ID, p)
}

func (s *InMemoryProjectStore) Get(ctx context.Context, id string) (*project.Project, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || p.Status == types.StatusDeleted {
		return nil, ierr.NewError("project not found").
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

// GetByAPIKeyHash only matches active projects, like the real repository
func (s *InMemoryProjectStore) GetByAPIKeyHash(ctx context.Context, hash string) (*project.Project, error) {
	projects, err := s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, p *project.Project, _ interface{}) bool {
			return p.APIKeyHash == hash && p.IsActive && p.Status == types.StatusPublished
		}, nil)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, ierr.NewError("project not found").
			Mark(ierr.ErrNotFound)
	}
	return projects[0], nil
}

func (s *InMemoryProjectStore) ListByOrganisation(ctx context.Context, organisationID string) ([]*project.Project, error) {
	projects, err := s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, p *project.Project, _ interface{}) bool {
			return p.OrganisationID == organisationID && p.Status != types.StatusDeleted
		}, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].CreatedAt.Before(projects[j].CreatedAt) })
	return projects, nil
}

func (s *InMemoryProjectStore) Update(ctx context.Context, p *project.Project) error {
	p.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, p.ID, p)
}

func (s *InMemoryProjectStore) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Status = types.StatusArchived
	p.IsActive = false
	return s.InMemoryStore.Update(ctx, id, p)
}
