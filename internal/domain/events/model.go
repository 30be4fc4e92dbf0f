package events

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Event represents a raw usage event. The same struct serves the hot store
// (ch tags) and the durable store (db tags); the idempotency key is the
// caller-chosen event id and deduplicates across both tiers.
type Event struct {
	// Unique identifier for the stored row
	ID string `json:"id" ch:"id" db:"id" validate:"required"`

	// Organisation that owns the event
	OrganisationID string `json:"organisation_id" ch:"organisation_id" db:"organisation_id" validate:"required"`

	// Project the event was ingested through
	ProjectID string `json:"project_id" ch:"project_id" db:"project_id" validate:"required"`

	// MetricName identifies what was measured, e.g. api_calls
	MetricName string `json:"metric_name" ch:"metric_name" db:"metric_name" validate:"required,max=100"`

	// MetricValue is the measured quantity; never negative
	MetricValue decimal.Decimal `json:"metric_value" ch:"metric_value" db:"metric_value"`

	// Unit the value is measured in, e.g. requests, gb_hours
	Unit string `json:"unit" ch:"unit" db:"unit" validate:"required,max=50"`

	// Timestamp is when the usage occurred (caller-supplied, UTC)
	Timestamp time.Time `json:"timestamp" ch:"timestamp" db:"timestamp" validate:"required"`

	// Metadata carries free-form string labels
	Metadata map[string]string `json:"metadata,omitempty" ch:"metadata" db:"-"`

	// IdempotencyKey is the caller-chosen event id used for deduplication
	IdempotencyKey string `json:"idempotency_key" ch:"idempotency_key" db:"idempotency_key" validate:"required,max=255"`

	// IngestedAt is when the event entered the hot store
	IngestedAt time.Time `json:"ingested_at" ch:"ingested_at" db:"ingested_at"`

	// ProcessedAt is set by the migration worker once the event reached the
	// durable store; nil while the event is still hot
	ProcessedAt *time.Time `json:"processed_at,omitempty" ch:"processed_at" db:"processed_at"`
}

// NewEvent creates a new event with defaults applied
func NewEvent(
	organisationID, projectID string,
	metricName string,
	metricValue decimal.Decimal,
	unit string,
	timestamp time.Time,
	idempotencyKey string,
	metadata map[string]string,
) *Event {
	now := time.Now().UTC()

	if timestamp.IsZero() {
		timestamp = now
	} else {
		timestamp = timestamp.UTC()
	}

	return &Event{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT),
		OrganisationID: organisationID,
		ProjectID:      projectID,
		MetricName:     metricName,
		MetricValue:    metricValue,
		Unit:           unit,
		Timestamp:      timestamp,
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
		IngestedAt:     now,
	}
}

// Validate enforces the ingest contract: required fields, bounded lengths,
// non-negative value and a timestamp at most a few minutes in the future.
func (e *Event) Validate() error {
	if e.IdempotencyKey == "" {
		return ierr.NewError("event_id is required").
			WithHint("Provide a unique event_id for deduplication").
			Mark(ierr.ErrValidation)
	}
	if len(e.IdempotencyKey) > types.MaxEventIDLength {
		return ierr.NewErrorf("event_id exceeds %d characters", types.MaxEventIDLength).
			Mark(ierr.ErrValidation)
	}
	if e.MetricName == "" {
		return ierr.NewError("metric_name is required").
			Mark(ierr.ErrValidation)
	}
	if len(e.MetricName) > types.MaxMetricNameLength {
		return ierr.NewErrorf("metric_name exceeds %d characters", types.MaxMetricNameLength).
			Mark(ierr.ErrValidation)
	}
	if e.Unit == "" {
		return ierr.NewError("unit is required").
			Mark(ierr.ErrValidation)
	}
	if len(e.Unit) > types.MaxUnitLength {
		return ierr.NewErrorf("unit exceeds %d characters", types.MaxUnitLength).
			Mark(ierr.ErrValidation)
	}
	if e.MetricValue.IsNegative() {
		return ierr.NewError("metric_value must not be negative").
			WithReportableDetails(map[string]any{"metric_value": e.MetricValue.String()}).
			Mark(ierr.ErrValidation)
	}
	maxTimestamp := time.Now().UTC().Add(types.EventTimestampSkewMinutes * time.Minute)
	if e.Timestamp.After(maxTimestamp) {
		return ierr.NewError("timestamp is too far in the future").
			WithHintf("Timestamps may be at most %d minutes ahead", types.EventTimestampSkewMinutes).
			WithReportableDetails(map[string]any{"timestamp": e.Timestamp}).
			Mark(ierr.ErrValidation)
	}
	if e.OrganisationID == "" || e.ProjectID == "" {
		return ierr.NewError("organisation and project are required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MarkProcessed stamps the processed marker
func (e *Event) MarkProcessed(at time.Time) {
	t := at.UTC()
	e.ProcessedAt = &t
}

// AggregateKey groups events for rollups
type AggregateKey struct {
	OrganisationID string
	ProjectID      string
	MetricName     string
	Unit           string
}

// Key returns the aggregate grouping key of the event
func (e *Event) Key() AggregateKey {
	return AggregateKey{
		OrganisationID: e.OrganisationID,
		ProjectID:      e.ProjectID,
		MetricName:     e.MetricName,
		Unit:           e.Unit,
	}
}
