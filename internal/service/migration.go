package service

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/events"
)

// MigrationService drains the hot store into the durable store. A batch is
// one durable transaction: insert events skipping idempotency-key conflicts,
// fold the inserted rows into the monthly aggregates, commit, then stamp the
// whole scanned batch processed in the hot store. Any error aborts the run;
// the next run rescans from where the markers stopped.
type MigrationService interface {
	// Run processes up to migration.max_batches batches and reports how
	// many events were handled.
	Run(ctx context.Context) (*MigrationStats, error)

	// ProcessBatch handles a single batch and returns the number of events
	// it scanned. Zero means the hot store had nothing unprocessed.
	ProcessBatch(ctx context.Context) (int, error)

	// Cleanup deletes processed hot rows older than the retention window.
	Cleanup(ctx context.Context) (int64, error)
}

// MigrationStats summarises one migration run.
type MigrationStats struct {
	Batches  int `json:"batches"`
	Scanned  int `json:"scanned"`
	Inserted int `json:"inserted"`
}

type migrationService struct {
	ServiceParams
}

func NewMigrationService(params ServiceParams) MigrationService {
	return &migrationService{ServiceParams: params}
}

func (s *migrationService) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{}
	maxBatches := s.Config.Migration.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 1
	}

	for i := 0; i < maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		scanned, inserted, err := s.processBatch(ctx)
		if err != nil {
			return stats, err
		}
		if scanned == 0 {
			break
		}

		stats.Batches++
		stats.Scanned += scanned
		stats.Inserted += inserted

		if scanned < s.Config.Migration.BatchSize {
			// Short batch means the hot store is drained.
			break
		}
	}

	s.Logger.Infow("migration run finished",
		"batches", stats.Batches,
		"scanned", stats.Scanned,
		"inserted", stats.Inserted,
	)
	return stats, nil
}

func (s *migrationService) ProcessBatch(ctx context.Context) (int, error) {
	scanned, _, err := s.processBatch(ctx)
	return scanned, err
}

func (s *migrationService) processBatch(ctx context.Context) (scanned, inserted int, err error) {
	batch, err := s.EventRepo.ScanUnprocessed(ctx, s.Config.Migration.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(batch) == 0 {
		return 0, 0, nil
	}

	var insertedKeys []string
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		keys, err := s.DurableEventRepo.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		insertedKeys = keys

		// Only rows this transaction inserted contribute to the rollups;
		// conflicted keys were counted by whichever run inserted them.
		deltas := buildAggregateDeltas(batch, insertedKeys)
		if len(deltas) == 0 {
			return nil
		}
		return s.AggregateRepo.Upsert(ctx, deltas)
	})
	if err != nil {
		return 0, 0, err
	}

	// Inserted and already-present rows alike are durable now, so the whole
	// scanned batch can be marked. A crash before this point re-migrates the
	// batch; the durable unique key absorbs the replay.
	ids := make([]string, 0, len(batch))
	for _, e := range batch {
		ids = append(ids, e.ID)
	}
	if err := s.EventRepo.MarkProcessed(ctx, ids); err != nil {
		return 0, 0, err
	}

	s.Metrics.EventsMigrated.Add(float64(len(insertedKeys)))
	s.Metrics.MigrationBatchSize.Observe(float64(len(batch)))

	return len(batch), len(insertedKeys), nil
}

func (s *migrationService) Cleanup(ctx context.Context) (int64, error) {
	retention := s.Config.Cleanup.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retention)

	deleted, err := s.EventRepo.DeleteProcessedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.Logger.Infow("hot store cleanup finished",
		"deleted", deleted,
		"cutoff", cutoff,
	)
	return deleted, nil
}

// buildAggregateDeltas folds the inserted events into per-key monthly
// increments. Months are derived from the event timestamp in UTC.
func buildAggregateDeltas(batch []*events.Event, insertedKeys []string) []*aggregate.Delta {
	insertedSet := make(map[string]struct{}, len(insertedKeys))
	for _, k := range insertedKeys {
		insertedSet[k] = struct{}{}
	}

	type deltaKey struct {
		key   events.AggregateKey
		month int
		year  int
	}

	deltas := make(map[deltaKey]*aggregate.Delta)
	order := make([]deltaKey, 0)

	for _, e := range batch {
		if _, ok := insertedSet[e.IdempotencyKey]; !ok {
			continue
		}
		ts := e.Timestamp.UTC()
		dk := deltaKey{key: e.Key(), month: int(ts.Month()), year: ts.Year()}

		d, ok := deltas[dk]
		if !ok {
			d = &aggregate.Delta{
				OrganisationID: e.OrganisationID,
				ProjectID:      e.ProjectID,
				MetricName:     e.MetricName,
				Unit:           e.Unit,
				Month:          dk.month,
				Year:           dk.year,
			}
			deltas[dk] = d
			order = append(order, dk)
		}
		d.Value = d.Value.Add(e.MetricValue)
		d.Count++
	}

	result := make([]*aggregate.Delta, 0, len(deltas))
	for _, dk := range order {
		result = append(result, deltas[dk])
	}
	return result
}
