package pyroscope

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
)

type PyroscopeSuite struct {
	suite.Suite
	log *logger.Logger
}

func TestPyroscopeSuite(t *testing.T) {
	suite.Run(t, new(PyroscopeSuite))
}

func (s *PyroscopeSuite) SetupSuite() {
	log, err := logger.NewLogger(nil)
	s.Require().NoError(err)
	s.log = log
}

func (s *PyroscopeSuite) service(cfg config.PyroscopeConfig) *Service {
	return NewPyroscopeService(&config.Configuration{Pyroscope: cfg}, s.log)
}

func (s *PyroscopeSuite) TestDisabledByDefault() {
	svc := s.service(config.PyroscopeConfig{})
	s.False(svc.IsEnabled())
}

func (s *PyroscopeSuite) TestProfileTypesDefaultSet() {
	svc := s.service(config.PyroscopeConfig{
		Enabled:         true,
		ServerAddress:   "http://localhost:4040",
		ApplicationName: "meterline",
		SampleRate:      100,
	})

	types := svc.getProfileTypes()
	s.Contains(types, pyroscope.ProfileCPU)
	s.Contains(types, pyroscope.ProfileGoroutines)
	s.Len(types, 6)
}

func (s *PyroscopeSuite) TestProfileTypesFromConfig() {
	svc := s.service(config.PyroscopeConfig{
		Enabled:      true,
		ProfileTypes: []string{"cpu", "mutex_count", "not_a_profile"},
	})

	types := svc.getProfileTypes()
	s.Equal([]pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileMutexCount}, types)
}
