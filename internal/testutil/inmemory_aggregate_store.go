package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/aggregate"
	ierr "github.com/meterline/meterline/internal/errors"
)

// InMemoryAggregateStore implements aggregate.Repository
type InMemoryAggregateStore struct {
	mu   sync.RWMutex
	rows map[string]*aggregate.UsageAggregate
}

func NewInMemoryAggregateStore() *InMemoryAggregateStore {
	return &InMemoryAggregateStore{
		rows: make(map[string]*aggregate.UsageAggregate),
	}
}

func (s *InMemoryAggregateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*aggregate.UsageAggregate)
}

func aggregateRowKey(organisationID, projectID, metricName, unit string, month, year int) string {
	return fmt.Sprintf("%s/%s/%s/%s/%04d-%02d", organisationID, projectID, metricName, unit, year, month)
}

func (s *InMemoryAggregateStore) Upsert(ctx context.Context, deltas []*aggregate.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		key := aggregateRowKey(d.OrganisationID, d.ProjectID, d.MetricName, d.Unit, d.Month, d.Year)
		row, exists := s.rows[key]
		if !exists {
			row = aggregate.NewUsageAggregate(d.OrganisationID, d.ProjectID, d.MetricName, d.Unit, d.Month, d.Year)
			s.rows[key] = row
		}
		row.TotalValue = row.TotalValue.Add(d.Value)
		row.EventCount += d.Count
		row.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryAggregateStore) Replace(ctx context.Context, agg *aggregate.UsageAggregate) error {
	if agg == nil {
		return ierr.NewError("aggregate cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateRowKey(agg.OrganisationID, agg.ProjectID, agg.MetricName, agg.Unit, agg.Month, agg.Year)
	agg.UpdatedAt = time.Now().UTC()
	s.rows[key] = agg
	return nil
}

func (s *InMemoryAggregateStore) GetByPeriod(ctx context.Context, organisationID string, month, year int) ([]*aggregate.UsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*aggregate.UsageAggregate
	for _, row := range s.rows {
		if row.OrganisationID == organisationID && row.Month == month && row.Year == year {
			result = append(result, row)
		}
	}
	sortAggregates(result)
	return result, nil
}

func (s *InMemoryAggregateStore) Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*aggregate.UsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.rows[aggregateRowKey(organisationID, projectID, metricName, unit, month, year)]
	if !exists {
		return nil, ierr.NewError("aggregate not found").
			Mark(ierr.ErrNotFound)
	}
	return row, nil
}

func (s *InMemoryAggregateStore) ListByPeriod(ctx context.Context, month, year int) ([]*aggregate.UsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*aggregate.UsageAggregate
	for _, row := range s.rows {
		if row.Month == month && row.Year == year {
			result = append(result, row)
		}
	}
	sortAggregates(result)
	return result, nil
}

func sortAggregates(rows []*aggregate.UsageAggregate) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OrganisationID != rows[j].OrganisationID {
			return rows[i].OrganisationID < rows[j].OrganisationID
		}
		if rows[i].MetricName != rows[j].MetricName {
			return rows[i].MetricName < rows[j].MetricName
		}
		return rows[i].Unit < rows[j].Unit
	})
}
