package project

import "context"

type Repository interface {
	Create(ctx context.Context, project *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	// GetByAPIKeyHash resolves an ingest credential to its project; only
	// active projects match
	GetByAPIKeyHash(ctx context.Context, hash string) (*Project, error)
	ListByOrganisation(ctx context.Context, organisationID string) ([]*Project, error)
	Update(ctx context.Context, project *Project) error
	Delete(ctx context.Context, id string) error
}
