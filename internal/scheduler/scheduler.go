package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

// Job names as they appear in scheduler.disabled_jobs and in job metrics.
const (
	JobMigration         = "migration"
	JobReconciliation    = "reconciliation"
	JobCleanup           = "cleanup"
	JobInvoiceGeneration = "invoice_generation"
	JobPaymentRetry      = "payment_retry"
	JobAlertEvaluation   = "alert_evaluation"
	JobPaymentReminders  = "payment_reminders"
	JobExchangeRateSync  = "exchange_rate_sync"
)

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler drives the periodic jobs on UTC cron schedules. Every run gets
// its own correlation id and lands in the job metrics; the same sweeps are
// reachable through the /cron HTTP endpoints for manual triggering.
type Scheduler struct {
	cfg     *config.Configuration
	logger  *logger.Logger
	metrics *metrics.Metrics

	cron   *cron.Cron
	jobs   []job
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	cfg *config.Configuration,
	log *logger.Logger,
	m *metrics.Metrics,
	migration service.MigrationService,
	invoices service.InvoiceService,
	retry service.RetryService,
	reminders service.ReminderService,
	reconciliation service.ReconciliationService,
	alerts service.AlertService,
	currency service.CurrencyService,
) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		cron:    cron.NewWithLocation(time.UTC),
		base:    base,
		cancel:  cancel,
	}

	// Specs are six-field with a leading seconds column.
	s.jobs = []job{
		{JobMigration, "0 */5 * * * *", func(ctx context.Context) error {
			_, err := migration.Run(ctx)
			return err
		}},
		{JobReconciliation, "0 0 2 * * *", func(ctx context.Context) error {
			_, err := reconciliation.Run(ctx)
			return err
		}},
		{JobCleanup, "0 0 3 * * *", func(ctx context.Context) error {
			_, err := migration.Cleanup(ctx)
			return err
		}},
		{JobInvoiceGeneration, "0 0 2 1 * *", func(ctx context.Context) error {
			month, year := previousMonth(time.Now().UTC())
			_, err := invoices.GenerateAll(ctx, month, year)
			return err
		}},
		{JobPaymentRetry, "0 0 */6 * * *", func(ctx context.Context) error {
			_, err := retry.Run(ctx)
			return err
		}},
		{JobAlertEvaluation, "0 0 * * * *", func(ctx context.Context) error {
			_, err := alerts.EvaluateAll(ctx)
			return err
		}},
		{JobPaymentReminders, "0 0 9 * * *", func(ctx context.Context) error {
			_, err := reminders.Run(ctx)
			return err
		}},
		{JobExchangeRateSync, "0 0 1 * * *", func(ctx context.Context) error {
			return currency.Sync(ctx)
		}},
	}

	return s
}

// Start registers the enabled jobs and begins the cron loop. It is a no-op
// when the scheduler is switched off in configuration.
func (s *Scheduler) Start() error {
	if !s.cfg.Scheduler.Enabled {
		s.logger.Infow("scheduler disabled")
		return nil
	}

	for _, j := range s.jobs {
		if s.cfg.Scheduler.JobDisabled(j.name) {
			s.logger.Infow("scheduler job disabled", "job", j.name)
			continue
		}
		if err := s.cron.AddFunc(j.spec, func() { s.execute(j) }); err != nil {
			return ierr.WithError(err).
				WithHintf("invalid cron spec for job %s", j.name).
				Mark(ierr.ErrSystem)
		}
	}

	s.cron.Start()
	s.logger.Infow("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop halts scheduling, cancels in-flight jobs and waits for them to
// return before reporting the scheduler down.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("scheduler stopped")
}

// Entries reports the number of registered jobs; used by health reporting.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) execute(j job) {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx := types.SetRequestID(s.base, uuid.New().String())
	started := time.Now()
	s.logger.Infow("job started", "job", j.name, "request_id", types.GetRequestID(ctx))

	err := j.run(ctx)
	s.metrics.ObserveJob(j.name, started, err)
	if err != nil {
		s.logger.Errorw("job failed",
			"job", j.name,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err)
		return
	}
	s.logger.Infow("job finished",
		"job", j.name,
		"duration_ms", time.Since(started).Milliseconds())
}

// previousMonth resolves the billing period for the monthly sweep. The job
// fires on the 1st and closes the month that just ended; anchoring on the
// first of the month keeps AddDate from normalising short months.
func previousMonth(now time.Time) (month, year int) {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year()
}
