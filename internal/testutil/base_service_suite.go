package testutil

import (
	"context"
	"time"

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
	keygen "github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/pdf"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/security"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	EventRepo          events.Repository
	DurableEventRepo   events.DurableRepository
	AggregateRepo      aggregate.Repository
	OrganisationRepo   organisation.Repository
	ProjectRepo        project.Repository
	UserRepo           user.Repository
	AuthRepo           auth.Repository
	PricingRepo        pricing.Repository
	MinimumChargeRepo  pricing.MinimumChargeRepository
	BillingConfigRepo  pricing.BillingConfigRepository
	InvoiceRepo        invoice.Repository
	PaymentRepo        payment.Repository
	RefundRepo         refund.Repository
	ExchangeRateRepo   exchangerate.Repository
	AlertRuleRepo      alert.RuleRepository
	AlertHistoryRepo   alert.HistoryRepository
	AuditLogRepo       auditlog.Repository
	IdempotencyRepo    idempotency.Repository
	ReconciliationRepo reconciliation.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	db     postgres.IClient
	logger *logger.Logger
	config *config.Configuration
	now    time.Time

	gateway        *FakeGateway
	hintPublisher  *InMemoryHintPublisher
	emailChannel   *RecordingChannel
	webhookChannel *RecordingChannel
	notifier       *notifier.Notifier
	email          *emailSvc.Email
	metrics        *metrics.Metrics
	cache          cache.Cache
	pdfGenerator   pdf.Generator
	httpClient     *MockHTTPClient
	encryption     security.EncryptionService
	auth           authProvider.Provider
	keyGen         *keygen.Generator
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	// Initialize validator
	validator.NewValidator()

	cfg := &config.Configuration{
		Deployment: config.DeploymentConfig{Mode: types.ModeLocal},
		Logging: config.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Auth: config.AuthConfig{
			Provider:         types.AuthProviderLocal,
			Secret:           "test-auth-secret",
			TokenExpiryHours: 24,
		},
		Billing: config.BillingConfig{
			DefaultCurrency:  types.DefaultCurrency,
			DefaultTaxRate:   "0.18",
			PaymentTermsDays: 14,
		},
		Migration: config.MigrationConfig{
			BatchSize:  100,
			MaxBatches: 10,
		},
		Cleanup: config.CleanupConfig{RetentionDays: 7},
		Payment: config.PaymentConfig{
			Enabled:             true,
			Gateway:             "razorpay",
			SupportedCurrencies: []string{"INR", "USD"},
			PendingTTLMinutes:   24 * 60,
			Retry: config.PaymentRetryConfig{
				Enabled:           true,
				MaxRetries:        3,
				BaseIntervalHours: 24,
			},
		},
		Alerts: config.AlertsConfig{
			Enabled:                true,
			DefaultCooldownMinutes: 60,
		},
		Email: config.EmailConfig{Enabled: false},
		Secrets: config.SecretsConfig{
			EncryptionKey: "test-encryption-key-for-unit-tests-only",
		},
		Cache: config.CacheConfig{
			Enabled:           true,
			ExpirationMinutes: 30,
		},
	}

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	s.encryption, err = security.NewEncryptionService(cfg, s.logger)
	if err != nil {
		s.T().Fatalf("failed to create encryption service: %v", err)
	}
	s.auth = authProvider.NewProvider(cfg)
	s.keyGen = keygen.NewGenerator()
	s.email = emailSvc.NewEmail(emailSvc.NewEmailClient(cfg), s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	// The refund store resolves organisation filters through the payment
	// rows, like the join in the real repository.
	paymentStore := NewInMemoryPaymentStore()

	s.stores = Stores{
		EventRepo:          NewInMemoryEventStore(),
		DurableEventRepo:   NewInMemoryDurableEventStore(),
		AggregateRepo:      NewInMemoryAggregateStore(),
		OrganisationRepo:   NewInMemoryOrganisationStore(),
		ProjectRepo:        NewInMemoryProjectStore(),
		UserRepo:           NewInMemoryUserStore(),
		AuthRepo:           NewInMemoryAuthStore(),
		PricingRepo:        NewInMemoryPricingStore(),
		MinimumChargeRepo:  NewInMemoryMinimumChargeStore(),
		BillingConfigRepo:  NewInMemoryBillingConfigStore(),
		InvoiceRepo:        NewInMemoryInvoiceStore(),
		PaymentRepo:        paymentStore,
		RefundRepo:         NewInMemoryRefundStore(paymentStore),
		ExchangeRateRepo:   NewInMemoryExchangeRateStore(),
		AlertRuleRepo:      NewInMemoryAlertRuleStore(),
		AlertHistoryRepo:   NewInMemoryAlertHistoryStore(),
		AuditLogRepo:       NewInMemoryAuditLogStore(),
		IdempotencyRepo:    NewInMemoryIdempotencyStore(),
		ReconciliationRepo: NewInMemoryReconciliationStore(),
	}

	s.db = NewMockPostgresClient(s.logger)
	s.gateway = NewFakeGateway()
	s.hintPublisher = NewInMemoryHintPublisher()
	s.emailChannel = NewRecordingChannel(types.AlertChannelEmail)
	s.webhookChannel = NewRecordingChannel(types.AlertChannelWebhook)
	s.notifier = notifier.New(s.logger, s.emailChannel, s.webhookChannel)
	s.metrics = metrics.NewMetrics()
	s.cache = cache.NewInMemoryCache(s.config)
	s.pdfGenerator = NewMockPDFGenerator(s.logger)
	s.httpClient = NewMockHTTPClient()
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.EventRepo.(*InMemoryEventStore).Clear()
	s.stores.DurableEventRepo.(*InMemoryDurableEventStore).Clear()
	s.stores.AggregateRepo.(*InMemoryAggregateStore).Clear()
	s.stores.OrganisationRepo.(*InMemoryOrganisationStore).Clear()
	s.stores.ProjectRepo.(*InMemoryProjectStore).Clear()
	s.stores.UserRepo.(*InMemoryUserStore).Clear()
	s.stores.AuthRepo.(*InMemoryAuthStore).Clear()
	s.stores.PricingRepo.(*InMemoryPricingStore).Clear()
	s.stores.MinimumChargeRepo.(*InMemoryMinimumChargeStore).Clear()
	s.stores.BillingConfigRepo.(*InMemoryBillingConfigStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.PaymentRepo.(*InMemoryPaymentStore).Clear()
	s.stores.RefundRepo.(*InMemoryRefundStore).Clear()
	s.stores.ExchangeRateRepo.(*InMemoryExchangeRateStore).Clear()
	s.stores.AlertRuleRepo.(*InMemoryAlertRuleStore).Clear()
	s.stores.AlertHistoryRepo.(*InMemoryAlertHistoryStore).Clear()
	s.stores.AuditLogRepo.(*InMemoryAuditLogStore).Clear()
	s.stores.IdempotencyRepo.(*InMemoryIdempotencyStore).Clear()
	s.stores.ReconciliationRepo.(*InMemoryReconciliationStore).Clear()
	s.gateway.Clear()
	s.hintPublisher.Clear()
	s.emailChannel.Clear()
	s.webhookChannel.Clear()
	s.httpClient.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetGateway returns the fake payment gateway
func (s *BaseServiceTestSuite) GetGateway() *FakeGateway {
	return s.gateway
}

// GetHintPublisher returns the recording hint publisher
func (s *BaseServiceTestSuite) GetHintPublisher() *InMemoryHintPublisher {
	return s.hintPublisher
}

// GetNotifier returns the notifier wired to the recording channels
func (s *BaseServiceTestSuite) GetNotifier() *notifier.Notifier {
	return s.notifier
}

// GetEmailChannel returns the recording email channel
func (s *BaseServiceTestSuite) GetEmailChannel() *RecordingChannel {
	return s.emailChannel
}

// GetWebhookChannel returns the recording webhook channel
func (s *BaseServiceTestSuite) GetWebhookChannel() *RecordingChannel {
	return s.webhookChannel
}

// GetEmail returns the disabled email sender
func (s *BaseServiceTestSuite) GetEmail() *emailSvc.Email {
	return s.email
}

// GetMetrics returns the per-test metrics registry
func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// GetCache returns the test cache
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetPDFGenerator returns the test PDF generator
func (s *BaseServiceTestSuite) GetPDFGenerator() pdf.Generator {
	return s.pdfGenerator
}

// GetHTTPClient returns the mock HTTP client
func (s *BaseServiceTestSuite) GetHTTPClient() *MockHTTPClient {
	return s.httpClient
}

// GetEncryption returns the test encryption service
func (s *BaseServiceTestSuite) GetEncryption() security.EncryptionService {
	return s.encryption
}

// GetAuthProvider returns the local auth provider
func (s *BaseServiceTestSuite) GetAuthProvider() authProvider.Provider {
	return s.auth
}

// GetKeyGen returns the idempotency key generator
func (s *BaseServiceTestSuite) GetKeyGen() *keygen.Generator {
	return s.keyGen
}

// GetPublisher returns the hint publisher as its port type
func (s *BaseServiceTestSuite) GetPublisher() publisher.HintPublisher {
	return s.hintPublisher
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
