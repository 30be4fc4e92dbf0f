package idempotency

import "context"

type Repository interface {
	// Reserve atomically claims the key: a fresh claim returns
	// Outcome{Created}, an existing row returns Outcome{Existing} with the
	// stored entity id
	Reserve(ctx context.Context, key, entityType string) (Outcome, error)

	// Complete fills the entity id of a reserved key
	Complete(ctx context.Context, key, entityID string) error

	// Get returns the registry row if the key exists
	Get(ctx context.Context, key string) (*Key, error)

	// GetForUpdate loads the row with a row lock inside the caller's
	// transaction, serialising concurrent holders of the same key
	GetForUpdate(ctx context.Context, key string) (*Key, error)

	// Create inserts the row; a duplicate key fails with ErrAlreadyExists
	Create(ctx context.Context, row *Key) error
}
