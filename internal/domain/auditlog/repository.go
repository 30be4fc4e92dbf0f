package auditlog

import (
	"context"
	"time"
)

// Repository is append-only; audit rows are never updated or deleted
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter *Filter) ([]*AuditLog, error)
}

// Filter narrows audit listings
type Filter struct {
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
