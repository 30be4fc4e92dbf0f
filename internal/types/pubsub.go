package types

import "time"

// PubSubType selects the queue backing the migration-hint pipeline.
type PubSubType string

const (
	KafkaPubSub  PubSubType = "kafka"
	MemoryPubSub PubSubType = "memory"
)

// MigrationHint tells the consumer that fresh events are sitting in the hot
// store. Hints are advisory: losing one only delays migration until the next
// scheduled sweep.
type MigrationHint struct {
	EventID        string    `json:"event_id"`
	OrganisationID string    `json:"organisation_id"`
	ProjectID      string    `json:"project_id"`
	IngestedAt     time.Time `json:"ingested_at"`
}
