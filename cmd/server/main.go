package main

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/api"
	"github.com/meterline/meterline/internal/api/cron"
	v1 "github.com/meterline/meterline/internal/api/v1"
	authProvider "github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/clickhouse"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/domain/user"
	"github.com/meterline/meterline/internal/email"
	"github.com/meterline/meterline/internal/httpclient"
	keygen "github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/integration"
	"github.com/meterline/meterline/internal/kafka"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/pdf"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/pubsub"
	kafkaPubsub "github.com/meterline/meterline/internal/pubsub/kafka"
	memoryPubsub "github.com/meterline/meterline/internal/pubsub/memory"
	pubsubRouter "github.com/meterline/meterline/internal/pubsub/router"
	"github.com/meterline/meterline/internal/pyroscope"
	"github.com/meterline/meterline/internal/repository"
	"github.com/meterline/meterline/internal/s3"
	"github.com/meterline/meterline/internal/scheduler"
	"github.com/meterline/meterline/internal/security"
	"github.com/meterline/meterline/internal/sentry"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	// Everything, including cron schedules and billing periods, runs in UTC.
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			validator.NewValidator,
			config.NewConfig,
			logger.NewLogger,
			metrics.NewMetrics,

			// Monitoring
			sentry.NewSentryService,
			pyroscope.NewPyroscopeService,

			// Cache
			provideCache,

			// Postgres (durable store)
			postgres.NewDB,
			providePostgresClient,

			// ClickHouse (hot event store)
			clickhouse.NewClickHouseStore,

			// Queue
			providePubSub,
			publisher.NewHintPublisher,
			pubsubRouter.NewRouter,

			// Outbound capabilities
			httpclient.NewDefaultClient,
			security.NewEncryptionService,
			authProvider.NewProvider,
			keygen.NewGenerator,
			email.NewEmailClient,
			email.NewEmail,
			provideNotifier,
			pdf.NewGenerator,
			s3.NewService,
			providePaymentGateway,

			// Repositories
			repository.NewEventRepository,
			repository.NewDurableEventRepository,
			repository.NewAggregateRepository,
			repository.NewOrganisationRepository,
			repository.NewProjectRepository,
			repository.NewUserRepository,
			repository.NewAuthRepository,
			repository.NewPricingRepository,
			repository.NewMinimumChargeRepository,
			repository.NewBillingConfigRepository,
			repository.NewInvoiceRepository,
			repository.NewPaymentRepository,
			repository.NewRefundRepository,
			repository.NewExchangeRateRepository,
			repository.NewAlertRuleRepository,
			repository.NewAlertHistoryRepository,
			repository.NewAuditLogRepository,
			repository.NewIdempotencyRepository,
			repository.NewReconciliationRepository,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewAuthService,
			service.NewOrganisationService,
			service.NewProjectService,
			service.NewEventService,
			service.NewMigrationService,
			service.NewUsageService,
			service.NewPricingService,
			service.NewCurrencyService,
			service.NewInvoiceService,
			service.NewPaymentService,
			service.NewRefundService,
			service.NewRetryService,
			service.NewReminderService,
			service.NewReconciliationService,
			service.NewAlertService,
			service.NewAuditService,
		),
	)

	// API, scheduler and process lifecycle
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
			scheduler.New,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			pyroscope.RegisterHooks,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideCache(cfg *config.Configuration) cache.Cache {
	return cache.NewInMemoryCache(cfg)
}

func providePostgresClient(db *postgres.DB, log *logger.Logger, sentryService *sentry.Service) postgres.IClient {
	return postgres.NewSentryClient(postgres.NewClient(db, log), sentryService, log)
}

// providePubSub selects the queue backing the migration-hint pipeline. The
// local run mode and tests use the in-memory gochannel; everything else
// talks to Kafka.
func providePubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	if cfg.PubSub.Type == types.MemoryPubSub {
		return memoryPubsub.NewPubSub(cfg, log), nil
	}

	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	consumer, err := kafka.NewConsumer(cfg)
	if err != nil {
		return nil, err
	}
	return kafkaPubsub.NewPubSub(cfg, log, producer, consumer), nil
}

func provideNotifier(
	cfg *config.Configuration,
	log *logger.Logger,
	emailService *email.Email,
	userRepo user.Repository,
) (*notifier.Notifier, error) {
	webhookChannel, err := notifier.NewWebhookChannel(cfg, log)
	if err != nil {
		return nil, err
	}
	emailChannel := notifier.NewEmailChannel(emailService, userRepo, log)
	return notifier.New(log, emailChannel, webhookChannel), nil
}

// providePaymentGateway returns a nil gateway when payments are disabled;
// services treat that as "no gateway configured" and refuse order creation.
func providePaymentGateway(
	cfg *config.Configuration,
	encryption security.EncryptionService,
	log *logger.Logger,
) (payment.Gateway, error) {
	return integration.NewGateway(cfg, encryption, log)
}

func provideHandlers(
	cfg *config.Configuration,
	log *logger.Logger,
	authService service.AuthService,
	organisationService service.OrganisationService,
	projectService service.ProjectService,
	eventService service.EventService,
	migrationService service.MigrationService,
	usageService service.UsageService,
	pricingService service.PricingService,
	currencyService service.CurrencyService,
	invoiceService service.InvoiceService,
	paymentService service.PaymentService,
	refundService service.RefundService,
	retryService service.RetryService,
	reminderService service.ReminderService,
	reconciliationService service.ReconciliationService,
	alertService service.AlertService,
	auditService service.AuditService,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(log),
		Auth:         v1.NewAuthHandler(authService, log),
		Events:       v1.NewEventsHandler(eventService, log),
		Usage:        v1.NewUsageHandler(usageService, log),
		Organisation: v1.NewOrganisationHandler(organisationService, log),
		Project:      v1.NewProjectHandler(projectService, log),
		Pricing:      v1.NewPricingHandler(pricingService, log),
		Invoice:      v1.NewInvoiceHandler(invoiceService, log),
		Payment:      v1.NewPaymentHandler(paymentService, retryService, log),
		Webhook:      v1.NewWebhookHandler(paymentService, log),
		Refund:       v1.NewRefundHandler(refundService, log),
		Alert:        v1.NewAlertHandler(alertService, log),
		ExchangeRate: v1.NewExchangeRateHandler(currencyService, log),
		Audit:        v1.NewAuditHandler(auditService, log),

		CronPipeline:       cron.NewPipelineCronHandler(log, migrationService),
		CronBilling:        cron.NewBillingCronHandler(log, invoiceService, reminderService),
		CronPayment:        cron.NewPaymentCronHandler(log, retryService),
		CronReconciliation: cron.NewReconciliationCronHandler(log, reconciliationService),
		CronAlert:          cron.NewAlertCronHandler(log, alertService),
		CronExchangeRate:   cron.NewExchangeRateCronHandler(log, currencyService),
	}
}

func provideRouter(
	handlers api.Handlers,
	cfg *config.Configuration,
	log *logger.Logger,
	projects service.ProjectService,
	m *metrics.Metrics,
) *gin.Engine {
	return api.NewRouter(handlers, cfg, log, projects, m)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	sched *scheduler.Scheduler,
	router *pubsubRouter.Router,
	ps pubsub.PubSub,
	hintPublisher publisher.HintPublisher,
	migrationService service.MigrationService,
	m *metrics.Metrics,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startHintConsumer(lc, router, ps, migrationService, cfg, m, log)
		startScheduler(lc, sched, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
	case types.ModeScheduler:
		startScheduler(lc, sched, log)
	case types.ModeConsumer:
		startHintConsumer(lc, router, ps, migrationService, cfg, m, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}

	// The hint publisher drains on shutdown in every mode; in consumer and
	// scheduler modes nothing enqueues, so Close returns immediately.
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return hintPublisher.Close()
		},
	})
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down API server")
			return nil
		},
	})
}

func startScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			return nil
		},
	})
}

// startHintConsumer registers the migration-hint handler and runs the
// message router. A hint only says "the hot store has fresh rows", so the
// handler runs one migration batch; the scheduled sweep covers lost hints.
func startHintConsumer(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	ps pubsub.PubSub,
	migrationService service.MigrationService,
	cfg *config.Configuration,
	m *metrics.Metrics,
	log *logger.Logger,
) {
	router.AddNoPublishHandler(
		"migration_hint_consumer",
		cfg.Kafka.Topic,
		ps,
		func(msg *message.Message) error {
			var hint types.MigrationHint
			if err := json.Unmarshal(msg.Payload, &hint); err != nil {
				log.Errorw("failed to unmarshal migration hint",
					"message_uuid", msg.UUID,
					"error", err)
				// Malformed hints are not retryable; ack and move on.
				return nil
			}

			_, err := migrationService.ProcessBatch(msg.Context())
			return err
		},
	)

	// Lag only exists against a real broker; the in-memory bus has no
	// committed offsets to compare.
	var stopLagWatch context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.PubSub.Type == types.KafkaPubSub {
				monitoring := kafka.NewMonitoringService(cfg, log, m)
				var watchCtx context.Context
				watchCtx, stopLagWatch = context.WithCancel(context.Background())
				go monitoring.WatchLag(watchCtx)
			}
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stopLagWatch != nil {
				stopLagWatch()
			}
			return router.Close()
		},
	})
}
