package service

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
)

type OrganisationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service OrganisationService
}

func TestOrganisationService(t *testing.T) {
	suite.Run(t, new(OrganisationServiceSuite))
}

func (s *OrganisationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewOrganisationService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *OrganisationServiceSuite) auditEntries(entityType, action string) []*auditlog.AuditLog {
	logs, err := s.GetStores().AuditLogRepo.List(s.GetContext(),
		&auditlog.Filter{EntityType: entityType, Action: action, Limit: 10})
	s.Require().NoError(err)
	return logs
}

func (s *OrganisationServiceSuite) TestCreateNormalisesCurrency() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{
		Name:     "Acme Robotics",
		Currency: "usd",
	})
	s.Require().NoError(err)
	s.Equal("Acme Robotics", resp.Name)
	s.Equal("USD", resp.Currency)
	s.NotEmpty(resp.ID)

	entries := s.auditEntries(auditlog.EntityOrganisation, auditlog.ActionCreate)
	s.Require().Len(entries, 1)
	s.Equal(resp.ID, entries[0].EntityID)
	s.Equal(testutil.TestUserID, entries[0].Actor)
}

func (s *OrganisationServiceSuite) TestCreateDefaultsCurrency() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{Name: "Acme"})
	s.Require().NoError(err)
	s.Equal("INR", resp.Currency)
}

func (s *OrganisationServiceSuite) TestCreateRequiresName() {
	_, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{Currency: "INR"})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *OrganisationServiceSuite) TestCreateRejectsMalformedCurrency() {
	_, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{
		Name:     "Acme",
		Currency: "EURO",
	})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *OrganisationServiceSuite) TestUpdateRecordsBeforeAndAfter() {
	created, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{
		Name:     "Acme",
		Currency: "INR",
	})
	s.Require().NoError(err)

	resp, err := s.service.Update(s.GetContext(), created.ID, &dto.UpdateOrganisationRequest{
		Name:     "Acme Global",
		Currency: "usd",
	})
	s.Require().NoError(err)
	s.Equal("Acme Global", resp.Name)
	s.Equal("USD", resp.Currency)

	entries := s.auditEntries(auditlog.EntityOrganisation, auditlog.ActionUpdate)
	s.Require().Len(entries, 1)
	s.Equal("Acme", entries[0].Before["name"])
	s.Equal("Acme Global", entries[0].After["name"])
}

func (s *OrganisationServiceSuite) TestUpdateMissingOrganisation() {
	_, err := s.service.Update(s.GetContext(), "org_missing", &dto.UpdateOrganisationRequest{Name: "x"})
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *OrganisationServiceSuite) TestDeleteArchivesAndDropsFromList() {
	a, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{Name: "Keep"})
	s.Require().NoError(err)
	b, err := s.service.Create(s.GetContext(), &dto.CreateOrganisationRequest{Name: "Archive"})
	s.Require().NoError(err)

	s.Require().NoError(s.service.Delete(s.GetContext(), b.ID))

	list, err := s.service.List(s.GetContext())
	s.Require().NoError(err)
	s.Require().Equal(1, list.Total)
	s.Equal(a.ID, list.Items[0].ID)

	entries := s.auditEntries(auditlog.EntityOrganisation, auditlog.ActionDelete)
	s.Require().Len(entries, 1)
	s.Equal(b.ID, entries[0].EntityID)
}
