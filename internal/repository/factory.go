package repository

import (
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/clickhouse"
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
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	clickhouseRepo "github.com/meterline/meterline/internal/repository/clickhouse"
	postgresRepo "github.com/meterline/meterline/internal/repository/postgres"
)

// Hot events live in ClickHouse; everything durable lives in Postgres.

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return clickhouseRepo.NewEventRepository(store, logger)
}

func NewDurableEventRepository(client postgres.IClient, logger *logger.Logger) events.DurableRepository {
	return postgresRepo.NewEventRepository(client, logger)
}

func NewAggregateRepository(client postgres.IClient, logger *logger.Logger) aggregate.Repository {
	return postgresRepo.NewAggregateRepository(client, logger)
}

func NewOrganisationRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) organisation.Repository {
	return postgresRepo.NewOrganisationRepository(client, logger, cache)
}

func NewProjectRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) project.Repository {
	return postgresRepo.NewProjectRepository(client, logger, cache)
}

func NewPricingRepository(client postgres.IClient, logger *logger.Logger) pricing.Repository {
	return postgresRepo.NewPricingRepository(client, logger)
}

func NewMinimumChargeRepository(client postgres.IClient, logger *logger.Logger) pricing.MinimumChargeRepository {
	return postgresRepo.NewMinimumChargeRepository(client, logger)
}

func NewBillingConfigRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) pricing.BillingConfigRepository {
	return postgresRepo.NewBillingConfigRepository(client, logger, cache)
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceRepository(client, logger)
}

func NewPaymentRepository(client postgres.IClient, logger *logger.Logger) payment.Repository {
	return postgresRepo.NewPaymentRepository(client, logger)
}

func NewRefundRepository(client postgres.IClient, logger *logger.Logger) refund.Repository {
	return postgresRepo.NewRefundRepository(client, logger)
}

func NewExchangeRateRepository(client postgres.IClient, logger *logger.Logger) exchangerate.Repository {
	return postgresRepo.NewExchangeRateRepository(client, logger)
}

func NewAlertRuleRepository(client postgres.IClient, logger *logger.Logger) alert.RuleRepository {
	return postgresRepo.NewAlertRuleRepository(client, logger)
}

func NewAlertHistoryRepository(client postgres.IClient, logger *logger.Logger) alert.HistoryRepository {
	return postgresRepo.NewAlertHistoryRepository(client, logger)
}

func NewAuditLogRepository(client postgres.IClient, logger *logger.Logger) auditlog.Repository {
	return postgresRepo.NewAuditLogRepository(client, logger)
}

func NewIdempotencyRepository(client postgres.IClient, logger *logger.Logger) idempotency.Repository {
	return postgresRepo.NewIdempotencyRepository(client, logger)
}

func NewReconciliationRepository(client postgres.IClient, logger *logger.Logger) reconciliation.Repository {
	return postgresRepo.NewReconciliationRepository(client, logger)
}

func NewUserRepository(client postgres.IClient, logger *logger.Logger) user.Repository {
	return postgresRepo.NewUserRepository(client, logger)
}

func NewAuthRepository(client postgres.IClient, logger *logger.Logger) auth.Repository {
	return postgresRepo.NewAuthRepository(client, logger)
}
