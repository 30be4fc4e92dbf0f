package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
)

type MigrationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service MigrationService
}

func TestMigrationService(t *testing.T) {
	suite.Run(t, new(MigrationServiceSuite))
}

func (s *MigrationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewMigrationService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *MigrationServiceSuite) hotStore() *testutil.InMemoryEventStore {
	return s.GetStores().EventRepo.(*testutil.InMemoryEventStore)
}

func (s *MigrationServiceSuite) durableStore() *testutil.InMemoryDurableEventStore {
	return s.GetStores().DurableEventRepo.(*testutil.InMemoryDurableEventStore)
}

func (s *MigrationServiceSuite) seedHotEvent(key string, value int64, ts time.Time) *events.Event {
	e := events.NewEvent(
		testutil.TestOrganisationID,
		testutil.TestProjectID,
		"api_calls",
		decimal.NewFromInt(value),
		"call",
		ts,
		key,
		nil,
	)
	s.Require().NoError(s.hotStore().InsertEvent(s.GetContext(), e))
	return e
}

func (s *MigrationServiceSuite) TestRunMigratesAndMarksProcessed() {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.seedHotEvent("evt_m1", 3, ts)
	s.seedHotEvent("evt_m2", 7, ts.Add(time.Hour))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.Batches)
	s.Equal(2, stats.Scanned)
	s.Equal(2, stats.Inserted)

	s.Len(s.durableStore().Events(), 2)
	for _, e := range s.hotStore().Events() {
		s.NotNil(e.ProcessedAt)
	}

	agg, err := s.GetStores().AggregateRepo.Get(
		s.GetContext(), testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", "call", 3, 2026)
	s.Require().NoError(err)
	s.True(agg.TotalValue.Equal(decimal.NewFromInt(10)))
	s.Equal(int64(2), agg.EventCount)
}

func (s *MigrationServiceSuite) TestRunSplitsAggregatesByMonth() {
	s.seedHotEvent("evt_mar", 5, time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	s.seedHotEvent("evt_apr", 9, time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC))

	_, err := s.service.Run(s.GetContext())
	s.NoError(err)

	march, err := s.GetStores().AggregateRepo.Get(
		s.GetContext(), testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", "call", 3, 2026)
	s.Require().NoError(err)
	s.True(march.TotalValue.Equal(decimal.NewFromInt(5)))

	april, err := s.GetStores().AggregateRepo.Get(
		s.GetContext(), testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", "call", 4, 2026)
	s.Require().NoError(err)
	s.True(april.TotalValue.Equal(decimal.NewFromInt(9)))
}

// A key that is already durable must not count twice in the rollups, but the
// hot row still gets the processed marker so the sweep can move on.
func (s *MigrationServiceSuite) TestRunMarksConflictedRowsWithoutDoubleCounting() {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	migrated := s.seedHotEvent("evt_done", 4, ts)
	_, err := s.durableStore().InsertBatch(s.GetContext(), []*events.Event{migrated})
	s.Require().NoError(err)

	s.seedHotEvent("evt_new", 6, ts)

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(2, stats.Scanned)
	s.Equal(1, stats.Inserted)

	for _, e := range s.hotStore().Events() {
		s.NotNil(e.ProcessedAt, "event %s should be marked processed", e.IdempotencyKey)
	}

	agg, err := s.GetStores().AggregateRepo.Get(
		s.GetContext(), testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", "call", 3, 2026)
	s.Require().NoError(err)
	s.True(agg.TotalValue.Equal(decimal.NewFromInt(6)), "only the fresh insert contributes")
	s.Equal(int64(1), agg.EventCount)
}

func (s *MigrationServiceSuite) TestRunHonoursMaxBatches() {
	s.GetConfig().Migration.BatchSize = 1
	s.GetConfig().Migration.MaxBatches = 2
	defer func() {
		s.GetConfig().Migration.BatchSize = 100
		s.GetConfig().Migration.MaxBatches = 10
	}()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.seedHotEvent("evt_b1", 1, base)
	s.seedHotEvent("evt_b2", 1, base.Add(time.Minute))
	s.seedHotEvent("evt_b3", 1, base.Add(2*time.Minute))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(2, stats.Batches)
	s.Equal(2, stats.Scanned)

	unprocessed := 0
	for _, e := range s.hotStore().Events() {
		if e.ProcessedAt == nil {
			unprocessed++
		}
	}
	s.Equal(1, unprocessed)
}

func (s *MigrationServiceSuite) TestRunNoopWhenDrained() {
	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, stats.Batches)
	s.Equal(0, stats.Scanned)
}

// A durable-store failure aborts the batch before any processed markers are
// written, so the next run rescans the same events.
func (s *MigrationServiceSuite) TestDurableFailureLeavesBatchUnprocessed() {
	s.seedHotEvent("evt_f1", 2, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	s.durableStore().FailNextInsert = ierr.NewError("durable store unavailable").Mark(ierr.ErrDatabase)

	_, err := s.service.Run(s.GetContext())
	s.Error(err)

	for _, e := range s.hotStore().Events() {
		s.Nil(e.ProcessedAt)
	}
	s.Empty(s.durableStore().Events())

	// The retried run picks the batch back up.
	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.Inserted)
}

func (s *MigrationServiceSuite) TestCleanupDeletesOnlyOldProcessedRows() {
	old := s.seedHotEvent("evt_old", 1, s.GetNow().AddDate(0, 0, -30))
	fresh := s.seedHotEvent("evt_fresh", 1, s.GetNow().Add(-time.Hour))

	_, err := s.service.Run(s.GetContext())
	s.Require().NoError(err)

	// Age the first row's processed marker past the retention window.
	oldStamp := s.GetNow().AddDate(0, 0, -(s.GetConfig().Cleanup.RetentionDays + 1))
	for _, e := range s.hotStore().Events() {
		if e.ID == old.ID {
			e.ProcessedAt = &oldStamp
		}
	}

	deleted, err := s.service.Cleanup(s.GetContext())
	s.NoError(err)
	s.Equal(int64(1), deleted)

	remaining := s.hotStore().Events()
	s.Require().Len(remaining, 1)
	s.Equal(fresh.ID, remaining[0].ID)

	// The durable copy is untouched; cleanup only trims the hot tier.
	s.Len(s.durableStore().Events(), 2)
}

func (s *MigrationServiceSuite) TestCleanupKeepsUnprocessedRows() {
	s.seedHotEvent("evt_keep", 1, s.GetNow().AddDate(0, 0, -30))

	deleted, err := s.service.Cleanup(s.GetContext())
	s.NoError(err)
	s.Equal(int64(0), deleted)
	s.Len(s.hotStore().Events(), 1)
}
