package service

import (
	"github.com/meterline/meterline/internal/testutil"
)

// newTestParams assembles a complete ServiceParams from the suite's
// in-memory stores and fakes. Suites overwrite individual fields when a
// test wants a capability disabled.
func newTestParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:  s.GetLogger(),
		Config:  s.GetConfig(),
		DB:      s.GetDB(),
		Cache:   s.GetCache(),
		Metrics: s.GetMetrics(),

		Client:        s.GetHTTPClient(),
		PDFGenerator:  s.GetPDFGenerator(),
		S3:            nil, // document storage off in unit tests
		Email:         s.GetEmail(),
		Notifier:      s.GetNotifier(),
		Gateway:       s.GetGateway(),
		HintPublisher: s.GetHintPublisher(),
		Encryption:    s.GetEncryption(),
		AuthProvider:  s.GetAuthProvider(),
		KeyGen:        s.GetKeyGen(),

		EventRepo:          stores.EventRepo,
		DurableEventRepo:   stores.DurableEventRepo,
		AggregateRepo:      stores.AggregateRepo,
		OrganisationRepo:   stores.OrganisationRepo,
		ProjectRepo:        stores.ProjectRepo,
		UserRepo:           stores.UserRepo,
		AuthRepo:           stores.AuthRepo,
		PricingRepo:        stores.PricingRepo,
		MinimumChargeRepo:  stores.MinimumChargeRepo,
		BillingConfigRepo:  stores.BillingConfigRepo,
		InvoiceRepo:        stores.InvoiceRepo,
		PaymentRepo:        stores.PaymentRepo,
		RefundRepo:         stores.RefundRepo,
		ExchangeRateRepo:   stores.ExchangeRateRepo,
		AlertRuleRepo:      stores.AlertRuleRepo,
		AlertHistoryRepo:   stores.AlertHistoryRepo,
		AuditLogRepo:       stores.AuditLogRepo,
		IdempotencyRepo:    stores.IdempotencyRepo,
		ReconciliationRepo: stores.ReconciliationRepo,
	}
}
