package service

import (
	authProvider "github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/alert"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/auth"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/idempotency"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/domain/pricing"
	"github.com/meterline/meterline/internal/domain/project"
	"github.com/meterline/meterline/internal/domain/reconciliation"
	"github.com/meterline/meterline/internal/domain/refund"
	"github.com/meterline/meterline/internal/domain/user"
	emailSvc "github.com/meterline/meterline/internal/email"
	"github.com/meterline/meterline/internal/httpclient"
	keygen "github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/pdf"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/s3"
	"github.com/meterline/meterline/internal/security"
)

// NewServiceParams assembles the shared dependency bundle. Constructed once
// by the fx container; every service constructor receives the same value.
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	cacheStore cache.Cache,
	metrics *metrics.Metrics,
	client httpclient.Client,
	pdfGenerator pdf.Generator,
	s3Service s3.Service,
	email *emailSvc.Email,
	notifier *notifier.Notifier,
	gateway payment.Gateway,
	hintPublisher publisher.HintPublisher,
	encryption security.EncryptionService,
	authProvider authProvider.Provider,
	keyGen *keygen.Generator,
	eventRepo events.Repository,
	durableEventRepo events.DurableRepository,
	aggregateRepo aggregate.Repository,
	organisationRepo organisation.Repository,
	projectRepo project.Repository,
	userRepo user.Repository,
	authRepo auth.Repository,
	pricingRepo pricing.Repository,
	minimumChargeRepo pricing.MinimumChargeRepository,
	billingConfigRepo pricing.BillingConfigRepository,
	invoiceRepo invoice.Repository,
	paymentRepo payment.Repository,
	refundRepo refund.Repository,
	exchangeRateRepo exchangerate.Repository,
	alertRuleRepo alert.RuleRepository,
	alertHistoryRepo alert.HistoryRepository,
	auditLogRepo auditlog.Repository,
	idempotencyRepo idempotency.Repository,
	reconciliationRepo reconciliation.Repository,
) ServiceParams {
	return ServiceParams{
		Logger:             logger,
		Config:             config,
		DB:                 db,
		Cache:              cacheStore,
		Metrics:            metrics,
		Client:             client,
		PDFGenerator:       pdfGenerator,
		S3:                 s3Service,
		Email:              email,
		Notifier:           notifier,
		Gateway:            gateway,
		HintPublisher:      hintPublisher,
		Encryption:         encryption,
		AuthProvider:       authProvider,
		KeyGen:             keyGen,
		EventRepo:          eventRepo,
		DurableEventRepo:   durableEventRepo,
		AggregateRepo:      aggregateRepo,
		OrganisationRepo:   organisationRepo,
		ProjectRepo:        projectRepo,
		UserRepo:           userRepo,
		AuthRepo:           authRepo,
		PricingRepo:        pricingRepo,
		MinimumChargeRepo:  minimumChargeRepo,
		BillingConfigRepo:  billingConfigRepo,
		InvoiceRepo:        invoiceRepo,
		PaymentRepo:        paymentRepo,
		RefundRepo:         refundRepo,
		ExchangeRateRepo:   exchangeRateRepo,
		AlertRuleRepo:      alertRuleRepo,
		AlertHistoryRepo:   alertHistoryRepo,
		AuditLogRepo:       auditLogRepo,
		IdempotencyRepo:    idempotencyRepo,
		ReconciliationRepo: reconciliationRepo,
	}
}
