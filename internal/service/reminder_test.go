package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/user"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type ReminderServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ReminderService
}

func TestReminderService(t *testing.T) {
	suite.Run(t, new(ReminderServiceSuite))
}

func (s *ReminderServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewReminderService(newTestParams(&s.BaseServiceTestSuite))

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
	s.Require().NoError(s.GetStores().UserRepo.Create(s.GetContext(),
		user.NewUser("billing@acme.test", testutil.TestOrganisationID, types.UserRoleOwner)))
}

// seedInvoice writes an invoice in the given lifecycle status with an explicit
// due date. Months keep billing periods apart.
func (s *ReminderServiceSuite) seedInvoice(month int, status types.InvoiceStatus, due time.Time) *invoice.Invoice {
	inv := invoice.New(testutil.TestOrganisationID,
		fmt.Sprintf("INV-2026%02d-0001", month), "INR", month, 2026)
	inv.Subtotal = decimal.NewFromInt(100)
	inv.Total = decimal.NewFromInt(100)
	inv.DueDate = due
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))

	now := time.Now().UTC()
	switch status {
	case types.InvoiceStatusDraft:
	case types.InvoiceStatusFinalized:
		s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(s.GetContext(), inv.ID, types.InvoiceStatusFinalized, now))
	case types.InvoiceStatusSent:
		s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(s.GetContext(), inv.ID, types.InvoiceStatusFinalized, now))
		s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(s.GetContext(), inv.ID, types.InvoiceStatusSent, now))
	case types.InvoiceStatusPaid:
		s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(s.GetContext(), inv.ID, types.InvoiceStatusFinalized, now))
		s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(s.GetContext(), inv.ID, types.InvoiceStatusPaid, now))
	default:
		s.T().Fatalf("unsupported seed status %s", status)
	}
	return inv
}

func (s *ReminderServiceSuite) invoiceStatus(id string) types.InvoiceStatus {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return inv.InvoiceStatus
}

func (s *ReminderServiceSuite) TestRunMarksUnpaidPastDueOverdue() {
	now := time.Now().UTC()
	lateFinalized := s.seedInvoice(1, types.InvoiceStatusFinalized, now.AddDate(0, 0, -1))
	lateSent := s.seedInvoice(2, types.InvoiceStatusSent, now.AddDate(0, 0, -2))
	notDue := s.seedInvoice(3, types.InvoiceStatusFinalized, now.AddDate(0, 0, 1))
	latePaid := s.seedInvoice(4, types.InvoiceStatusPaid, now.AddDate(0, 0, -1))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(2, stats.MarkedOverdue)

	s.Equal(types.InvoiceStatusOverdue, s.invoiceStatus(lateFinalized.ID))
	s.Equal(types.InvoiceStatusOverdue, s.invoiceStatus(lateSent.ID))
	s.Equal(types.InvoiceStatusFinalized, s.invoiceStatus(notDue.ID))
	s.Equal(types.InvoiceStatusPaid, s.invoiceStatus(latePaid.ID))

	entries := s.GetStores().AuditLogRepo.(*testutil.InMemoryAuditLogStore).Entries()
	marked := 0
	for _, e := range entries {
		if e.EntityType == auditlog.EntityInvoice && e.Actor == types.SystemActor {
			marked++
		}
	}
	s.Equal(2, marked)
}

func (s *ReminderServiceSuite) TestRunIsIdempotentOnOverdueRows() {
	now := time.Now().UTC()
	late := s.seedInvoice(1, types.InvoiceStatusFinalized, now.AddDate(0, 0, -1))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.MarkedOverdue)

	stats, err = s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, stats.MarkedOverdue, "already overdue rows are not re-marked")
	s.Equal(types.InvoiceStatusOverdue, s.invoiceStatus(late.ID))
}

func (s *ReminderServiceSuite) TestRunWithoutEmailOnlyMarksOverdue() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	s.seedInvoice(1, types.InvoiceStatusFinalized, today.AddDate(0, 0, 3))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, stats.Sent)
	s.Equal(0, stats.Failed)

	for _, e := range s.GetStores().AuditLogRepo.(*testutil.InMemoryAuditLogStore).Entries() {
		s.NotEqual(auditlog.EntityEmail, e.EntityType)
	}
}

func (s *ReminderServiceSuite) TestRunMatchesLadderStages() {
	cfg := s.GetConfig()
	cfg.Email.Enabled = true
	defer func() { cfg.Email.Enabled = false }()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	// End of day keeps the due-today invoice out of the overdue scan while
	// stage matching still lands on day zero.
	s.seedInvoice(1, types.InvoiceStatusFinalized, today.AddDate(0, 0, 3))
	s.seedInvoice(2, types.InvoiceStatusFinalized, today.Add(24*time.Hour-time.Minute))
	s.seedInvoice(3, types.InvoiceStatusFinalized, today.AddDate(0, 0, -3))
	s.seedInvoice(4, types.InvoiceStatusFinalized, today.AddDate(0, 0, -7))
	s.seedInvoice(5, types.InvoiceStatusFinalized, today.AddDate(0, 0, -5))
	s.seedInvoice(6, types.InvoiceStatusFinalized, today.AddDate(0, 0, 2))

	stats, err := s.service.Run(s.GetContext())
	s.NoError(err)
	s.Equal(3, stats.MarkedOverdue)

	// The suite's mail client does not deliver, so every invoice on a
	// ladder day lands in Failed; off-ladder days are not attempted.
	s.Equal(0, stats.Sent)
	s.Equal(4, stats.Failed)
}
