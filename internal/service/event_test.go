package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type EventServiceSuite struct {
	testutil.BaseServiceTestSuite
	service EventService
}

func TestEventService(t *testing.T) {
	suite.Run(t, new(EventServiceSuite))
}

func (s *EventServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewEventService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *EventServiceSuite) ingestRequest(eventID string) *dto.IngestEventRequest {
	return &dto.IngestEventRequest{
		EventID:     eventID,
		MetricName:  "api_calls",
		MetricValue: decimal.NewFromInt(5),
		Unit:        "call",
		Timestamp:   s.GetNow().Add(-time.Minute),
		Metadata:    map[string]string{"region": "ap-south-1"},
	}
}

func (s *EventServiceSuite) TestIngestAcceptsEvent() {
	resp, err := s.service.Ingest(s.GetContext(), s.ingestRequest("evt_001"))
	s.NoError(err)
	s.Equal(types.IngestStatusAccepted, resp.Status)
	s.Equal("evt_001", resp.EventID)

	stored := s.GetStores().EventRepo.(*testutil.InMemoryEventStore).Events()
	s.Require().Len(stored, 1)
	s.Equal(testutil.TestOrganisationID, stored[0].OrganisationID)
	s.Equal(testutil.TestProjectID, stored[0].ProjectID)
	s.Equal("api_calls", stored[0].MetricName)
	s.True(stored[0].MetricValue.Equal(decimal.NewFromInt(5)))
	s.Nil(stored[0].ProcessedAt)
}

func (s *EventServiceSuite) TestIngestPublishesMigrationHint() {
	_, err := s.service.Ingest(s.GetContext(), s.ingestRequest("evt_002"))
	s.NoError(err)

	hints := s.GetHintPublisher().Hints()
	s.Require().Len(hints, 1)
	s.Equal(testutil.TestOrganisationID, hints[0].OrganisationID)
	s.Equal(testutil.TestProjectID, hints[0].ProjectID)
	s.NotEmpty(hints[0].EventID)
}

func (s *EventServiceSuite) TestIngestDuplicateReportsNotErrors() {
	first, err := s.service.Ingest(s.GetContext(), s.ingestRequest("evt_dup"))
	s.NoError(err)
	s.Equal(types.IngestStatusAccepted, first.Status)

	second, err := s.service.Ingest(s.GetContext(), s.ingestRequest("evt_dup"))
	s.NoError(err)
	s.Equal(types.IngestStatusDuplicate, second.Status)
	s.Equal("evt_dup", second.EventID)

	// One row, one hint: the duplicate left no trace.
	s.Len(s.GetStores().EventRepo.(*testutil.InMemoryEventStore).Events(), 1)
	s.Len(s.GetHintPublisher().Hints(), 1)
}

func (s *EventServiceSuite) TestIngestSameKeyDifferentOrganisations() {
	_, err := s.service.Ingest(s.GetContext(), s.ingestRequest("evt_shared"))
	s.NoError(err)

	otherOrg := testutil.SetupContext()
	otherOrg = types.SetOrganisationID(otherOrg, "org_other_01")

	resp, err := s.service.Ingest(otherOrg, s.ingestRequest("evt_shared"))
	s.NoError(err)
	s.Equal(types.IngestStatusAccepted, resp.Status)
	s.Len(s.GetStores().EventRepo.(*testutil.InMemoryEventStore).Events(), 2)
}

func (s *EventServiceSuite) TestIngestRejectsMissingMetricName() {
	req := s.ingestRequest("evt_bad")
	req.MetricName = ""

	_, err := s.service.Ingest(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *EventServiceSuite) TestIngestRejectsNegativeValue() {
	req := s.ingestRequest("evt_neg")
	req.MetricValue = decimal.NewFromInt(-1)

	_, err := s.service.Ingest(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *EventServiceSuite) TestIngestRejectsFarFutureTimestamp() {
	req := s.ingestRequest("evt_future")
	req.Timestamp = s.GetNow().Add(24 * time.Hour)

	_, err := s.service.Ingest(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *EventServiceSuite) TestIngestDefaultsTimestamp() {
	req := s.ingestRequest("evt_nots")
	req.Timestamp = time.Time{}

	resp, err := s.service.Ingest(s.GetContext(), req)
	s.NoError(err)
	s.Equal(types.IngestStatusAccepted, resp.Status)

	stored := s.GetStores().EventRepo.(*testutil.InMemoryEventStore).Events()
	s.Require().Len(stored, 1)
	s.WithinDuration(time.Now().UTC(), stored[0].Timestamp, 5*time.Second)
}
