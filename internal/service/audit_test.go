package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type AuditServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AuditService
}

func TestAuditService(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAuditService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *AuditServiceSuite) seedEntry(entityType, entityID, actor, action string, at time.Time) {
	entry := auditlog.New(entityType, entityID, actor, action)
	entry.CreatedAt = at
	s.Require().NoError(s.GetStores().AuditLogRepo.Create(s.GetContext(), entry))
}

func (s *AuditServiceSuite) TestListFiltersByEntityAndAction() {
	now := time.Now().UTC()
	s.seedEntry(auditlog.EntityInvoice, "inv_1", testutil.TestUserID, auditlog.ActionFinalize, now.Add(-3*time.Minute))
	s.seedEntry(auditlog.EntityInvoice, "inv_1", types.SystemActor, auditlog.ActionUpdate, now.Add(-2*time.Minute))
	s.seedEntry(auditlog.EntityPayment, "pay_1", types.SystemActor, auditlog.ActionUpdate, now.Add(-time.Minute))

	resp, err := s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{
		EntityType: auditlog.EntityInvoice,
	})
	s.Require().NoError(err)
	s.Equal(2, resp.Total)

	resp, err = s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{
		EntityType: auditlog.EntityInvoice,
		Action:     auditlog.ActionFinalize,
	})
	s.Require().NoError(err)
	s.Require().Equal(1, resp.Total)
	s.Equal("inv_1", resp.Items[0].EntityID)
	s.Equal(testutil.TestUserID, resp.Items[0].Actor)
}

func (s *AuditServiceSuite) TestListFiltersByActor() {
	now := time.Now().UTC()
	s.seedEntry(auditlog.EntityInvoice, "inv_1", types.SystemActor, auditlog.ActionUpdate, now.Add(-2*time.Minute))
	s.seedEntry(auditlog.EntityInvoice, "inv_2", testutil.TestUserID, auditlog.ActionUpdate, now.Add(-time.Minute))

	resp, err := s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{Actor: types.SystemActor})
	s.Require().NoError(err)
	s.Require().Equal(1, resp.Total)
	s.Equal("inv_1", resp.Items[0].EntityID)
}

func (s *AuditServiceSuite) TestListWindowIsHalfOpen() {
	now := time.Now().UTC().Truncate(time.Second)
	s.seedEntry(auditlog.EntityInvoice, "inv_before", types.SystemActor, auditlog.ActionUpdate, now.Add(-2*time.Hour))
	s.seedEntry(auditlog.EntityInvoice, "inv_at_from", types.SystemActor, auditlog.ActionUpdate, now.Add(-time.Hour))
	s.seedEntry(auditlog.EntityInvoice, "inv_at_to", types.SystemActor, auditlog.ActionUpdate, now)

	resp, err := s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{
		From: lo.ToPtr(now.Add(-time.Hour)),
		To:   lo.ToPtr(now),
	})
	s.Require().NoError(err)
	s.Require().Equal(1, resp.Total)
	s.Equal("inv_at_from", resp.Items[0].EntityID)
}

func (s *AuditServiceSuite) TestListPaginatesNewestFirst() {
	now := time.Now().UTC()
	s.seedEntry(auditlog.EntityInvoice, "inv_1", types.SystemActor, auditlog.ActionUpdate, now.Add(-3*time.Minute))
	s.seedEntry(auditlog.EntityInvoice, "inv_2", types.SystemActor, auditlog.ActionUpdate, now.Add(-2*time.Minute))
	s.seedEntry(auditlog.EntityInvoice, "inv_3", types.SystemActor, auditlog.ActionUpdate, now.Add(-time.Minute))

	page, err := s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{Limit: 2})
	s.Require().NoError(err)
	s.Require().Equal(2, page.Total)
	s.Equal("inv_3", page.Items[0].EntityID)
	s.Equal("inv_2", page.Items[1].EntityID)

	page, err = s.service.List(s.GetContext(), &dto.ListAuditLogsRequest{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Require().Equal(1, page.Total)
	s.Equal("inv_1", page.Items[0].EntityID)
}

func (s *AuditServiceSuite) TestListEmailNotificationsShowsOnlySentEmails() {
	now := time.Now().UTC()
	s.seedEntry(auditlog.EntityEmail, "invoice_email", types.SystemActor, auditlog.ActionSent, now.Add(-2*time.Minute))
	s.seedEntry(auditlog.EntityEmail, "reminder_email", types.SystemActor, auditlog.ActionSent, now.Add(-time.Minute))
	s.seedEntry(auditlog.EntityInvoice, "inv_1", types.SystemActor, auditlog.ActionUpdate, now)

	resp, err := s.service.ListEmailNotifications(s.GetContext(), 10, 0)
	s.Require().NoError(err)
	s.Require().Equal(2, resp.Total)
	s.Equal("reminder_email", resp.Items[0].EntityID)
	s.Equal("invoice_email", resp.Items[1].EntityID)
}
