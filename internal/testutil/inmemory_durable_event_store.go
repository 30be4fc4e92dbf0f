package testutil

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
)

// InMemoryDurableEventStore implements the durable-store contract
// (events.DurableRepository). Rows are insert-only and unique per
// idempotency key, matching the ON CONFLICT DO NOTHING semantics of the
// real store.
type InMemoryDurableEventStore struct {
	mu     sync.RWMutex
	events []*events.Event
	byKey  map[string]*events.Event

	// FailNextInsert makes the next InsertBatch return this error once, so
	// callers can exercise their abort paths.
	FailNextInsert error
}

func NewInMemoryDurableEventStore() *InMemoryDurableEventStore {
	return &InMemoryDurableEventStore{
		byKey: make(map[string]*events.Event),
	}
}

func (s *InMemoryDurableEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byKey = make(map[string]*events.Event)
	s.FailNextInsert = nil
}

func (s *InMemoryDurableEventStore) InsertBatch(ctx context.Context, batch []*events.Event) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextInsert != nil {
		err := s.FailNextInsert
		s.FailNextInsert = nil
		return nil, err
	}

	var inserted []string
	for _, e := range batch {
		key := dedupeKey(e.OrganisationID, e.IdempotencyKey)
		if _, exists := s.byKey[key]; exists {
			continue
		}
		s.byKey[key] = e
		s.events = append(s.events, e)
		inserted = append(inserted, e.IdempotencyKey)
	}
	return inserted, nil
}

func (s *InMemoryDurableEventStore) CountByDay(ctx context.Context, params *events.CountByDayParams) ([]*events.DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countEventsByDay(s.events, params), nil
}

func (s *InMemoryDurableEventStore) UsageTotals(ctx context.Context, params *events.UsageParams) ([]*events.UsageTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalEventUsage(s.events, params), nil
}

func (s *InMemoryDurableEventStore) AggregateTotals(ctx context.Context, key events.AggregateKey, month, year int) (decimal.Decimal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	var count int64
	for _, e := range s.events {
		if e.OrganisationID != key.OrganisationID ||
			e.ProjectID != key.ProjectID ||
			e.MetricName != key.MetricName ||
			e.Unit != key.Unit {
			continue
		}
		ts := e.Timestamp.UTC()
		if int(ts.Month()) != month || ts.Year() != year {
			continue
		}
		total = total.Add(e.MetricValue)
		count++
	}
	return total, count, nil
}

// Events returns a snapshot of everything stored, for assertions
func (s *InMemoryDurableEventStore) Events() []*events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*events.Event, len(s.events))
	copy(result, s.events)
	return result
}

// HasKey reports whether an idempotency key was migrated for the organisation
func (s *InMemoryDurableEventStore) HasKey(organisationID, idempotencyKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.byKey[dedupeKey(organisationID, idempotencyKey)]
	return exists
}
