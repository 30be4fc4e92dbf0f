package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/meterline/meterline/internal/domain/organisation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryOrganisationStore implements organisation.Repository
type InMemoryOrganisationStore struct {
	*InMemoryStore[*organisation.Organisation]
}

func NewInMemoryOrganisationStore() *InMemoryOrganisationStore {
	return &InMemoryOrganisationStore{
		InMemoryStore: NewInMemoryStore[*organisation.Organisation](),
	}
}

func (s *InMemoryOrganisationStore) Create(ctx context.Context, org *organisation.Organisation) error {
	if org == nil {
		return ierr.NewError("organisation cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if org.Status == "" {
		org.Status = types.StatusPublished
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	return s.InMemoryStore.Create(ctx, org.ID, org)
}

func (s *InMemoryOrganisationStore) Get(ctx context.Context, id string) (*organisation.Organisation, error) {
	org, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || org.Status == types.StatusDeleted {
		return nil, ierr.NewError("organisation not found").
			Mark(ierr.ErrNotFound)
	}
	return org, nil
}

func (s *InMemoryOrganisationStore) List(ctx context.Context) ([]*organisation.Organisation, error) {
	orgs, err := s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, o *organisation.Organisation, _ interface{}) bool {
			return o.Status == types.StatusPublished
		}, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].CreatedAt.Before(orgs[j].CreatedAt) })
	return orgs, nil
}

func (s *InMemoryOrganisationStore) Update(ctx context.Context, org *organisation.Organisation) error {
	org.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, org.ID, org)
}

// Delete archives the organisation, matching the soft delete of the real
// repository
func (s *InMemoryOrganisationStore) Delete(ctx context.Context, id string) error {
	org, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	org.Status = types.StatusArchived
	return s.InMemoryStore.Update(ctx, id, org)
}
