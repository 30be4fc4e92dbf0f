package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

const (
	billedMonth = 3
	billedYear  = 2026
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service InvoiceService
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewInvoiceService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *InvoiceServiceSuite) seedOrganisation(id, name, currency string) *organisation.Organisation {
	org := organisation.New(name, currency)
	org.ID = id
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
	return org
}

func (s *InvoiceServiceSuite) seedBillingConfig(orgID, taxRate, currency string, termsDays int, minimumEnabled bool) {
	cfg := pricing.NewBillingConfig(orgID, decimal.RequireFromString(taxRate), currency, termsDays)
	cfg.MinimumChargeEnabled = minimumEnabled
	s.Require().NoError(s.GetStores().BillingConfigRepo.Upsert(s.GetContext(), cfg))
}

func (s *InvoiceServiceSuite) seedAggregate(orgID, metric, unit string, total int64, count int64) {
	err := s.GetStores().AggregateRepo.Upsert(s.GetContext(), []*aggregate.Delta{{
		OrganisationID: orgID,
		ProjectID:      testutil.TestProjectID,
		MetricName:     metric,
		Unit:           unit,
		Month:          billedMonth,
		Year:           billedYear,
		Value:          decimal.NewFromInt(total),
		Count:          count,
	}})
	s.Require().NoError(err)
}

func (s *InvoiceServiceSuite) seedRule(orgID *string, metric, unit, price, currency string) {
	rule := pricing.NewPricingRule(orgID, metric, unit,
		decimal.RequireFromString(price), currency,
		time.Date(billedYear-1, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), rule))
}

func (s *InvoiceServiceSuite) generate(orgID string) *dto.GenerateInvoiceResponse {
	resp, err := s.service.Generate(s.GetContext(), &dto.GenerateInvoiceRequest{
		OrganisationID: orgID,
		Month:          billedMonth,
		Year:           billedYear,
	})
	s.Require().NoError(err)
	return resp
}

func (s *InvoiceServiceSuite) TestGenerateCreatesDraftInvoice() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedBillingConfig(testutil.TestOrganisationID, "0.10", "USD", 15, false)
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 1000, 500)
	s.seedAggregate(testutil.TestOrganisationID, "storage", "gb", 50, 50)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")
	s.seedRule(nil, "storage", "gb", "0.50", "USD")

	resp := s.generate(testutil.TestOrganisationID)
	s.Equal("created", resp.Status)
	s.Empty(resp.Unpriced)

	inv := resp.Invoice.Invoice
	s.Equal("INV-202603-0001", inv.InvoiceNumber)
	s.Equal(types.InvoiceStatusDraft, inv.InvoiceStatus)
	s.Equal("USD", inv.Currency)
	s.True(inv.Subtotal.Equal(decimal.RequireFromString("35.00")))
	s.True(inv.Tax.Equal(decimal.RequireFromString("3.50")))
	s.True(inv.Discount.IsZero())
	s.True(inv.Total.Equal(decimal.RequireFromString("38.50")))
	s.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), inv.PeriodStart)
	s.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), inv.PeriodEnd)
	s.Equal(time.Date(2026, 4, 16, 0, 0, 0, 0, time.UTC), inv.DueDate)

	s.Require().Len(inv.LineItems, 2)
	first := inv.LineItems[0]
	s.Equal(1, first.LineNumber)
	s.Equal("api_calls", first.MetricName)
	s.True(first.Quantity.Equal(decimal.NewFromInt(1000)))
	s.True(first.UnitPrice.Equal(decimal.RequireFromString("0.01")))
	s.True(first.Total.Equal(decimal.RequireFromString("10.00")))
	s.Equal("storage", inv.LineItems[1].MetricName)

	logs := s.GetStores().AuditLogRepo.(*testutil.InMemoryAuditLogStore).Entries()
	s.Require().Len(logs, 1)
	s.Equal(auditlog.EntityInvoice, logs[0].EntityType)
	s.Equal(auditlog.ActionGenerate, logs[0].Action)
	s.Equal(inv.ID, logs[0].EntityID)
}

func (s *InvoiceServiceSuite) TestGenerateDefaultsBillingPolicy() {
	// No billing config row: platform tax rate, organisation currency,
	// platform payment terms.
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "EUR")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 1000, 500)
	s.seedRule(nil, "api_calls", "call", "0.01", "EUR")

	resp := s.generate(testutil.TestOrganisationID)
	inv := resp.Invoice.Invoice
	s.Equal("EUR", inv.Currency)
	s.True(inv.Subtotal.Equal(decimal.RequireFromString("10.00")))
	s.True(inv.Tax.Equal(decimal.RequireFromString("1.80")))
	s.True(inv.Total.Equal(decimal.RequireFromString("11.80")))
	s.Equal(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), inv.DueDate)
}

func (s *InvoiceServiceSuite) TestGenerateReplaysExistingInvoice() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	first := s.generate(testutil.TestOrganisationID)
	second := s.generate(testutil.TestOrganisationID)

	s.Equal("created", first.Status)
	s.Equal("existing", second.Status)
	s.Equal(first.InvoiceID, second.InvoiceID)

	list, err := s.service.List(s.GetContext(), &dto.ListInvoicesRequest{
		OrganisationID: testutil.TestOrganisationID,
	})
	s.NoError(err)
	s.Equal(1, list.Total)
}

func (s *InvoiceServiceSuite) TestGenerateResolvesInvoiceCreatedWithoutRegistryRow() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	orphan := invoice.New(testutil.TestOrganisationID, "INV-202603-9999", "USD", billedMonth, billedYear)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), orphan))

	resp := s.generate(testutil.TestOrganisationID)
	s.Equal("existing", resp.Status)
	s.Equal(orphan.ID, resp.InvoiceID)
}

func (s *InvoiceServiceSuite) TestGenerateConcurrentRequestsProduceOneInvoice() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses []string
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.service.Generate(s.GetContext(), &dto.GenerateInvoiceRequest{
				OrganisationID: testutil.TestOrganisationID,
				Month:          billedMonth,
				Year:           billedYear,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses = append(statuses, "error")
				return
			}
			statuses = append(statuses, resp.Status)
		}()
	}
	wg.Wait()

	created := 0
	for _, st := range statuses {
		s.NotEqual("error", st)
		if st == "created" {
			created++
		}
	}
	s.Equal(1, created, "exactly one request wins the period")

	list, err := s.service.List(s.GetContext(), &dto.ListInvoicesRequest{
		OrganisationID: testutil.TestOrganisationID,
	})
	s.NoError(err)
	s.Equal(1, list.Total)
}

func (s *InvoiceServiceSuite) TestGenerateAppliesMinimumCharge() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedBillingConfig(testutil.TestOrganisationID, "0.10", "USD", 15, true)
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 1000, 500)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	min := pricing.NewMinimumChargeRule(nil, decimal.NewFromInt(50), "USD",
		time.Date(billedYear-1, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.GetStores().MinimumChargeRepo.Create(s.GetContext(), min))

	resp := s.generate(testutil.TestOrganisationID)
	inv := resp.Invoice.Invoice

	// Subtotal stays the usage total; the adjustment line lifts the taxed
	// base to the floor.
	s.True(inv.Subtotal.Equal(decimal.RequireFromString("10.00")))
	s.True(inv.Tax.Equal(decimal.RequireFromString("5.00")))
	s.True(inv.Total.Equal(decimal.RequireFromString("55.00")))

	s.Require().Len(inv.LineItems, 2)
	adjustment := inv.LineItems[1]
	s.Equal("Minimum charge adjustment", adjustment.Description)
	s.True(adjustment.Quantity.Equal(decimal.NewFromInt(1)))
	s.True(adjustment.Total.Equal(decimal.RequireFromString("40.00")))
}

func (s *InvoiceServiceSuite) TestGenerateSkipsMinimumChargeWhenSubtotalMeetsFloor() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedBillingConfig(testutil.TestOrganisationID, "0.10", "USD", 15, true)
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 10000, 500)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	min := pricing.NewMinimumChargeRule(nil, decimal.NewFromInt(50), "USD",
		time.Date(billedYear-1, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.GetStores().MinimumChargeRepo.Create(s.GetContext(), min))

	resp := s.generate(testutil.TestOrganisationID)
	inv := resp.Invoice.Invoice
	s.Require().Len(inv.LineItems, 1)
	s.True(inv.Total.Equal(decimal.RequireFromString("110.00")))
}

func (s *InvoiceServiceSuite) TestGenerateRejectsUnpricedMetricsByDefault() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)

	_, err := s.service.Generate(s.GetContext(), &dto.GenerateInvoiceRequest{
		OrganisationID: testutil.TestOrganisationID,
		Month:          billedMonth,
		Year:           billedYear,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))

	list, lerr := s.service.List(s.GetContext(), &dto.ListInvoicesRequest{
		OrganisationID: testutil.TestOrganisationID,
	})
	s.NoError(lerr)
	s.Equal(0, list.Total, "nothing written when generation aborts")
}

func (s *InvoiceServiceSuite) TestGenerateFlagsUnpricedMetricsWhenAllowed() {
	s.GetConfig().Billing.AllowUnpricedMetrics = true
	defer func() { s.GetConfig().Billing.AllowUnpricedMetrics = false }()

	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)

	resp := s.generate(testutil.TestOrganisationID)
	s.Equal("created", resp.Status)
	s.Equal([]string{"api_calls (call)"}, resp.Unpriced)

	inv := resp.Invoice.Invoice
	s.Empty(inv.LineItems)
	s.True(inv.Total.IsZero())
	s.Contains(inv.Metadata, "unpriced_metrics")
}

func (s *InvoiceServiceSuite) TestGenerateConvertsRuleCurrencyAtBillingDate() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedBillingConfig(testutil.TestOrganisationID, "0.10", "USD", 15, false)
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "1.00", "INR")

	rate := exchangerate.New("INR", "USD", decimal.RequireFromString("0.012"),
		time.Date(billedYear, 1, 1, 0, 0, 0, 0, time.UTC), "test")
	s.Require().NoError(s.GetStores().ExchangeRateRepo.Create(s.GetContext(), rate))

	resp := s.generate(testutil.TestOrganisationID)
	inv := resp.Invoice.Invoice
	s.True(inv.Subtotal.Equal(decimal.RequireFromString("1.20")))
	s.True(inv.Tax.Equal(decimal.RequireFromString("0.12")))
	s.True(inv.Total.Equal(decimal.RequireFromString("1.32")))

	s.Require().Len(inv.LineItems, 1)
	line := inv.LineItems[0]
	s.Equal("INR", line.Metadata["original_currency"])
	s.Equal("100", line.Metadata["original_total"])
}

func (s *InvoiceServiceSuite) TestGenerateFailsOnMissingRateForForeignRule() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedBillingConfig(testutil.TestOrganisationID, "0.10", "USD", 15, false)
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "1.00", "INR")

	_, err := s.service.Generate(s.GetContext(), &dto.GenerateInvoiceRequest{
		OrganisationID: testutil.TestOrganisationID,
		Month:          billedMonth,
		Year:           billedYear,
	})
	s.Error(err)
	s.True(ierr.Is(err, ierr.ErrMissingExchangeRate))
}

func (s *InvoiceServiceSuite) TestGenerateSharesMonthlyNumberSequence() {
	for i, orgID := range []string{"org_seq_a", "org_seq_b"} {
		s.seedOrganisation(orgID, fmt.Sprintf("Tenant %d", i), "USD")
		s.seedAggregate(orgID, "api_calls", "call", 100, 100)
	}
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	first := s.generate("org_seq_a")
	second := s.generate("org_seq_b")
	s.Equal("INV-202603-0001", first.Invoice.InvoiceNumber)
	s.Equal("INV-202603-0002", second.Invoice.InvoiceNumber)
}

func (s *InvoiceServiceSuite) TestGenerateAllCollectsPerOrganisationOutcomes() {
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")

	s.seedOrganisation("org_sweep_a", "Tenant A", "USD")
	s.seedAggregate("org_sweep_a", "api_calls", "call", 100, 100)

	s.seedOrganisation("org_sweep_b", "Tenant B", "USD")
	s.seedAggregate("org_sweep_b", "api_calls", "call", 200, 200)
	s.generate("org_sweep_b")

	// No rule covers this metric, so the third organisation fails.
	s.seedOrganisation("org_sweep_c", "Tenant C", "USD")
	s.seedAggregate("org_sweep_c", "bandwidth", "gb", 10, 10)

	stats, err := s.service.GenerateAll(s.GetContext(), billedMonth, billedYear)
	s.Error(err)
	s.Require().NotNil(stats)
	s.Equal(3, stats.Organisations)
	s.Equal(1, stats.Created)
	s.Equal(1, stats.Existing)
	s.Equal([]string{"org_sweep_c"}, stats.Failed)
}

func (s *InvoiceServiceSuite) TestFinalizeFreezesInvoice() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")
	generated := s.generate(testutil.TestOrganisationID)

	resp, err := s.service.Finalize(s.GetContext(), generated.InvoiceID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusFinalized, resp.Invoice.InvoiceStatus)
	s.Require().NotNil(resp.Invoice.IssuedAt)

	_, err = s.service.Finalize(s.GetContext(), generated.InvoiceID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestVoidFollowsFinalize() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")
	generated := s.generate(testutil.TestOrganisationID)

	_, err := s.service.Void(s.GetContext(), generated.InvoiceID)
	s.Error(err, "drafts are cancelled, not voided")
	s.True(ierr.IsInvalidOperation(err))

	_, err = s.service.Finalize(s.GetContext(), generated.InvoiceID)
	s.Require().NoError(err)

	resp, err := s.service.Void(s.GetContext(), generated.InvoiceID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusVoid, resp.Invoice.InvoiceStatus)
}

func (s *InvoiceServiceSuite) TestListFiltersByStatus() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")
	generated := s.generate(testutil.TestOrganisationID)

	other := invoice.New(testutil.TestOrganisationID, "INV-202602-0001", "USD", 2, billedYear)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), other))

	_, err := s.service.Finalize(s.GetContext(), generated.InvoiceID)
	s.Require().NoError(err)

	drafts, err := s.service.List(s.GetContext(), &dto.ListInvoicesRequest{
		OrganisationID: testutil.TestOrganisationID,
		Status:         []types.InvoiceStatus{types.InvoiceStatusDraft},
	})
	s.NoError(err)
	s.Require().Equal(1, drafts.Total)
	s.Equal(other.ID, drafts.Items[0].ID)

	march, err := s.service.List(s.GetContext(), &dto.ListInvoicesRequest{
		OrganisationID: testutil.TestOrganisationID,
		Month:          billedMonth,
		Year:           billedYear,
	})
	s.NoError(err)
	s.Require().Equal(1, march.Total)
	s.Equal(generated.InvoiceID, march.Items[0].ID)
}

func (s *InvoiceServiceSuite) TestPDFURLRequiresDocumentStorage() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")
	s.seedAggregate(testutil.TestOrganisationID, "api_calls", "call", 100, 100)
	s.seedRule(nil, "api_calls", "call", "0.01", "USD")
	generated := s.generate(testutil.TestOrganisationID)

	_, err := s.service.PDFURL(s.GetContext(), generated.InvoiceID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestGenerateRejectsImpossibleMonth() {
	s.seedOrganisation(testutil.TestOrganisationID, "Acme Robotics", "USD")

	_, err := s.service.Generate(s.GetContext(), &dto.GenerateInvoiceRequest{
		OrganisationID: testutil.TestOrganisationID,
		Month:          13,
		Year:           billedYear,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}
