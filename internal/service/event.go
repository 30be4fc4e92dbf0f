package service

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// EventService is the ingest path. It writes the hot store only; the
// durable tier is fed asynchronously by the migration worker.
type EventService interface {
	Ingest(ctx context.Context, req *dto.IngestEventRequest) (*dto.IngestEventResponse, error)
}

type eventService struct {
	ServiceParams
}

func NewEventService(params ServiceParams) EventService {
	return &eventService{ServiceParams: params}
}

// Ingest accepts one usage event. Duplicates are reported, never errors:
// the caller-chosen event id is the idempotency key across both storage
// tiers, so a retried request observes the first request's outcome.
func (s *eventService) Ingest(ctx context.Context, req *dto.IngestEventRequest) (*dto.IngestEventResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	event := req.ToEvent(ctx)
	if err := event.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.EventRepo.Exists(ctx, event.OrganisationID, event.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		s.Metrics.EventsIngested.WithLabelValues(string(types.IngestStatusDuplicate)).Inc()
		return &dto.IngestEventResponse{
			EventID: event.IdempotencyKey,
			Status:  types.IngestStatusDuplicate,
		}, nil
	}

	if err := s.EventRepo.InsertEvent(ctx, event); err != nil {
		if ierr.IsAlreadyExists(err) {
			// Lost a concurrent race on the same event id.
			s.Metrics.EventsIngested.WithLabelValues(string(types.IngestStatusDuplicate)).Inc()
			return &dto.IngestEventResponse{
				EventID: event.IdempotencyKey,
				Status:  types.IngestStatusDuplicate,
			}, nil
		}
		return nil, err
	}

	// The hint is a latency optimisation. Losing it is fine: the scheduled
	// sweep migrates whatever the hint pointed at.
	s.HintPublisher.Enqueue(ctx, &types.MigrationHint{
		EventID:        event.ID,
		OrganisationID: event.OrganisationID,
		ProjectID:      event.ProjectID,
		IngestedAt:     event.IngestedAt,
	})

	s.Metrics.EventsIngested.WithLabelValues(string(types.IngestStatusAccepted)).Inc()
	s.Metrics.IngestLatency.Observe(time.Since(start).Seconds())

	return &dto.IngestEventResponse{
		EventID: event.IdempotencyKey,
		Status:  types.IngestStatusAccepted,
	}, nil
}
