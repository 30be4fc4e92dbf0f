package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
)

type MonitoringSuite struct {
	suite.Suite
	metrics *metrics.Metrics
	svc     *MonitoringService
}

func TestMonitoringSuite(t *testing.T) {
	suite.Run(t, new(MonitoringSuite))
}

func (s *MonitoringSuite) SetupTest() {
	log, err := logger.NewLogger(nil)
	s.Require().NoError(err)

	cfg := &config.Configuration{}
	cfg.Kafka.Topic = "migration_hints"
	cfg.Kafka.ConsumerGroup = "meterline-consumer"

	s.metrics = metrics.NewMetrics()
	s.svc = NewMonitoringService(cfg, log, s.metrics)
}

func (s *MonitoringSuite) TestRecordLagPublishesGauge() {
	s.svc.RecordLag(&ConsumerLag{
		Topic:         "migration_hints",
		ConsumerGroup: "meterline-consumer",
		TotalLag:      42,
		PartitionLags: map[int32]int64{0: 40, 1: 2},
	})

	gauge := s.metrics.ConsumerLag.WithLabelValues("migration_hints", "meterline-consumer")
	s.Equal(float64(42), testutil.ToFloat64(gauge))

	// A fresh sample replaces the previous one
	s.svc.RecordLag(&ConsumerLag{
		Topic:         "migration_hints",
		ConsumerGroup: "meterline-consumer",
		TotalLag:      0,
	})
	s.Equal(float64(0), testutil.ToFloat64(gauge))
}

func (s *MonitoringSuite) TestWatchLagReturnsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.svc.WatchLag(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("WatchLag did not stop after context cancellation")
	}
}
