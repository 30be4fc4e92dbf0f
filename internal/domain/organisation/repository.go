package organisation

import "context"

type Repository interface {
	Create(ctx context.Context, org *Organisation) error
	Get(ctx context.Context, id string) (*Organisation, error)
	List(ctx context.Context) ([]*Organisation, error)
	Update(ctx context.Context, org *Organisation) error
	// Delete archives the organisation (soft delete)
	Delete(ctx context.Context, id string) error
}
