package scheduler

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/types"
)

func newTestScheduler(t *testing.T, cfg *config.Configuration) *Scheduler {
	t.Helper()
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)
	return New(cfg, log, metrics.NewMetrics(), nil, nil, nil, nil, nil, nil, nil)
}

func TestJobSpecsParse(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Scheduler.Enabled = true
	s := newTestScheduler(t, cfg)

	seen := map[string]bool{}
	for _, j := range s.jobs {
		_, err := cron.Parse(j.spec)
		assert.NoError(t, err, "job %s", j.name)
		assert.False(t, seen[j.name], "duplicate job name %s", j.name)
		seen[j.name] = true
	}
	assert.Len(t, s.jobs, 8)
}

func TestStartSkipsDisabledJobs(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.DisabledJobs = []string{JobMigration, JobCleanup}
	s := newTestScheduler(t, cfg)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, 6, s.Entries())
}

func TestStartIsNoopWhenSchedulerDisabled(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Scheduler.Enabled = false
	s := newTestScheduler(t, cfg)

	require.NoError(t, s.Start())
	assert.Equal(t, 0, s.Entries())
	s.Stop()
}

func TestExecuteRecordsOutcome(t *testing.T) {
	cfg := config.GetDefaultConfig()
	s := newTestScheduler(t, cfg)

	var gotRequestID string
	s.execute(job{name: "probe_ok", run: func(ctx context.Context) error {
		gotRequestID = types.GetRequestID(ctx)
		return nil
	}})
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.JobRuns.WithLabelValues("probe_ok", "success")))

	s.execute(job{name: "probe_fail", run: func(ctx context.Context) error {
		return ierr.NewError("boom").Mark(ierr.ErrSystem)
	}})
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.JobRuns.WithLabelValues("probe_fail", "failure")))
}

func TestStopCancelsInflightJobs(t *testing.T) {
	cfg := config.GetDefaultConfig()
	s := newTestScheduler(t, cfg)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.execute(job{name: "blocker", run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}})
		close(done)
	}()

	<-started
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after shutdown")
	}
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.JobRuns.WithLabelValues("blocker", "failure")))
}

func TestPreviousMonthAnchorsOnFirst(t *testing.T) {
	month, year := previousMonth(time.Date(2025, time.March, 31, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, month)
	assert.Equal(t, 2025, year)

	month, year = previousMonth(time.Date(2025, time.January, 1, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, 12, month)
	assert.Equal(t, 2024, year)
}
