package idempotency

import (
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Key is one row of the idempotency registry. The unique idempotency_key
// column is the arbiter for every derived operation: invoice generation,
// payment orders, refunds and webhook events.
type Key struct {
	ID             string    `db:"id" json:"id"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	EntityType     string    `db:"entity_type" json:"entity_type"`
	EntityID       string    `db:"entity_id" json:"entity_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// OutcomeStatus says whether an idempotent operation ran or was replayed
type OutcomeStatus string

const (
	OutcomeCreated  OutcomeStatus = "created"
	OutcomeExisting OutcomeStatus = "existing"
)

// Outcome is returned by idempotent operations so callers can branch
// without exceptions
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	EntityID string        `json:"entity_id"`
}

// Created reports whether the operation actually ran
func (o Outcome) Created() bool {
	return o.Status == OutcomeCreated
}

// NewKey creates a registry row
func NewKey(idempotencyKey, entityType, entityID string) *Key {
	return &Key{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_IDEMPOTENCY),
		IdempotencyKey: idempotencyKey,
		EntityType:     entityType,
		EntityID:       entityID,
		CreatedAt:      time.Now().UTC(),
	}
}
