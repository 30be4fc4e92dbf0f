package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
)

// InMemoryEventStore implements the hot-store contract (events.Repository)
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []*events.Event
	byKey  map[string]*events.Event
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		byKey: make(map[string]*events.Event),
	}
}

func (s *InMemoryEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byKey = make(map[string]*events.Event)
}

func dedupeKey(organisationID, idempotencyKey string) string {
	return organisationID + "/" + idempotencyKey
}

func (s *InMemoryEventStore) InsertEvent(ctx context.Context, event *events.Event) error {
	if event == nil {
		return ierr.NewError("event cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(event.OrganisationID, event.IdempotencyKey)
	if _, exists := s.byKey[key]; exists {
		return ierr.NewError("event already ingested").
			WithReportableDetails(map[string]any{"event_id": event.IdempotencyKey}).
			Mark(ierr.ErrAlreadyExists)
	}

	s.byKey[key] = event
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryEventStore) BulkInsertEvents(ctx context.Context, batch []*events.Event) error {
	for _, e := range batch {
		if err := s.InsertEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryEventStore) Exists(ctx context.Context, organisationID, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.byKey[dedupeKey(organisationID, idempotencyKey)]
	return exists, nil
}

func (s *InMemoryEventStore) ScanUnprocessed(ctx context.Context, limit int) ([]*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*events.Event
	for _, e := range s.events {
		if e.ProcessedAt == nil {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].IngestedAt.Equal(result[j].IngestedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].IngestedAt.Before(result[j].IngestedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryEventStore) MarkProcessed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	now := time.Now().UTC()
	for _, e := range s.events {
		if want[e.ID] && e.ProcessedAt == nil {
			at := now
			e.ProcessedAt = &at
		}
	}
	return nil
}

func (s *InMemoryEventStore) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*events.Event
	var deleted int64
	for _, e := range s.events {
		if e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			delete(s.byKey, dedupeKey(e.OrganisationID, e.IdempotencyKey))
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *InMemoryEventStore) CountByDay(ctx context.Context, params *events.CountByDayParams) ([]*events.DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countEventsByDay(s.events, params), nil
}

func (s *InMemoryEventStore) UsageTotals(ctx context.Context, params *events.UsageParams) ([]*events.UsageTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalEventUsage(s.events, params), nil
}

// Events returns a snapshot of everything stored, for assertions
func (s *InMemoryEventStore) Events() []*events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*events.Event, len(s.events))
	copy(result, s.events)
	return result
}

// countEventsByDay mirrors the SQL grouping both tiers share: windows are
// half-open [start, end) and days truncate in UTC.
func countEventsByDay(list []*events.Event, params *events.CountByDayParams) []*events.DayCount {
	type dayKey struct {
		org, project, metric string
		day                  time.Time
	}

	counts := make(map[dayKey]uint64)
	for _, e := range list {
		if params.OrganisationID != "" && e.OrganisationID != params.OrganisationID {
			continue
		}
		if e.Timestamp.Before(params.StartTime) || !e.Timestamp.Before(params.EndTime) {
			continue
		}
		k := dayKey{
			org:     e.OrganisationID,
			project: e.ProjectID,
			metric:  e.MetricName,
			day:     e.Timestamp.UTC().Truncate(24 * time.Hour),
		}
		counts[k]++
	}

	result := make([]*events.DayCount, 0, len(counts))
	for k, c := range counts {
		result = append(result, &events.DayCount{
			OrganisationID: k.org,
			ProjectID:      k.project,
			MetricName:     k.metric,
			Day:            k.day,
			Count:          c,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MetricName != result[j].MetricName {
			return result[i].MetricName < result[j].MetricName
		}
		return result[i].Day.Before(result[j].Day)
	})
	return result
}

func totalEventUsage(list []*events.Event, params *events.UsageParams) []*events.UsageTotal {
	type usageKey struct {
		metric, unit string
		day          time.Time
	}

	type bucket struct {
		total decimal.Decimal
		count uint64
	}

	buckets := make(map[usageKey]*bucket)
	for _, e := range list {
		if e.OrganisationID != params.OrganisationID {
			continue
		}
		if params.ProjectID != "" && e.ProjectID != params.ProjectID {
			continue
		}
		if params.MetricName != "" && e.MetricName != params.MetricName {
			continue
		}
		if params.Unit != "" && e.Unit != params.Unit {
			continue
		}
		if e.Timestamp.Before(params.StartTime) || !e.Timestamp.Before(params.EndTime) {
			continue
		}

		k := usageKey{metric: e.MetricName, unit: e.Unit}
		if params.GroupByDay {
			k.day = e.Timestamp.UTC().Truncate(24 * time.Hour)
		}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{total: decimal.Zero}
			buckets[k] = b
		}
		b.total = b.total.Add(e.MetricValue)
		b.count++
	}

	result := make([]*events.UsageTotal, 0, len(buckets))
	for k, b := range buckets {
		t := &events.UsageTotal{
			MetricName: k.metric,
			Unit:       k.unit,
			TotalValue: b.total,
			EventCount: b.count,
		}
		if params.GroupByDay {
			day := k.day
			t.Day = &day
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MetricName != result[j].MetricName {
			return result[i].MetricName < result[j].MetricName
		}
		if result[i].Unit != result[j].Unit {
			return result[i].Unit < result[j].Unit
		}
		if result[i].Day != nil && result[j].Day != nil {
			return result[i].Day.Before(*result[j].Day)
		}
		return false
	})
	return result
}
