package config

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigDefaultsSuite struct {
	suite.Suite
}

func TestConfigDefaultsSuite(t *testing.T) {
	suite.Run(t, new(ConfigDefaultsSuite))
}

func (s *ConfigDefaultsSuite) TestDefaultsFillUnsetKnobs() {
	var cfg Configuration
	cfg.applyDefaults()

	s.Equal(1000, cfg.Migration.BatchSize)
	s.Equal(7, cfg.Cleanup.RetentionDays)
	s.Equal(30, cfg.Billing.PaymentTermsDays)
	s.Equal("migration_hints", cfg.Kafka.Topic)
	s.Equal("x-api-key", cfg.Auth.APIKey.Header)
}

func (s *ConfigDefaultsSuite) TestDefaultsKeepExplicitValues() {
	cfg := Configuration{
		Migration: MigrationConfig{BatchSize: 250},
		Cleanup:   CleanupConfig{RetentionDays: 30},
	}
	cfg.applyDefaults()

	s.Equal(250, cfg.Migration.BatchSize)
	s.Equal(30, cfg.Cleanup.RetentionDays)
}

func (s *ConfigDefaultsSuite) TestPyroscopeProfilingDefaults() {
	var cfg Configuration
	cfg.applyDefaults()

	s.Equal("meterline", cfg.Pyroscope.ApplicationName)
	s.Equal(uint32(100), cfg.Pyroscope.SampleRate)
	s.Empty(cfg.Pyroscope.BasicAuthUser)
	s.False(cfg.Pyroscope.DisableGCRuns)

	cfg.Pyroscope = PyroscopeConfig{
		ApplicationName: "meterline-api",
		SampleRate:      50,
		ProfileTypes:    []string{"cpu", "goroutines"},
	}
	cfg.applyDefaults()
	s.Equal("meterline-api", cfg.Pyroscope.ApplicationName)
	s.Equal(uint32(50), cfg.Pyroscope.SampleRate)
}
