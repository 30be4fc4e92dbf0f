package types

// IngestStatus is the outcome reported to the caller of the ingest API.
type IngestStatus string

const (
	IngestStatusAccepted  IngestStatus = "accepted"
	IngestStatusDuplicate IngestStatus = "duplicate"
)

const (
	// MaxEventIDLength bounds the client-chosen idempotency key.
	MaxEventIDLength = 255
	// MaxMetricNameLength bounds metric names.
	MaxMetricNameLength = 100
	// MaxUnitLength bounds unit labels.
	MaxUnitLength = 50
	// EventTimestampSkew is how far into the future an event timestamp may
	// lie before ingest rejects it.
	EventTimestampSkewMinutes = 5
)
