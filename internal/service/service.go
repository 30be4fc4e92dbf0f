package service

import (
	"context"

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
	ierr "github.com/meterline/meterline/internal/errors"
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
	"github.com/meterline/meterline/internal/types"
)

// ServiceParams holds common dependencies for services. Every service embeds
// it and picks the pieces it needs; construction happens once in the fx
// container and the same bundle is shared across the service layer.
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	DB      postgres.IClient
	Cache   cache.Cache
	Metrics *metrics.Metrics

	// Outbound capabilities. Gateway is nil when payments are disabled;
	// S3 is nil when document storage is disabled.
	Client        httpclient.Client
	PDFGenerator  pdf.Generator
	S3            s3.Service
	Email         *emailSvc.Email
	Notifier      *notifier.Notifier
	Gateway       payment.Gateway
	HintPublisher publisher.HintPublisher
	Encryption    security.EncryptionService
	AuthProvider  authProvider.Provider
	KeyGen        *keygen.Generator

	// Repositories
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

// WithIdempotency runs fn exactly once for the given key. The key row is
// locked for the duration of the transaction so concurrent holders of the
// same key serialise; the second holder finds the committed row and gets
// Outcome{Existing} without fn running. A first-writer race that slips past
// the lock is resolved by the unique constraint: the loser's transaction
// rolls back, the key is re-read and the winner's entity id is returned.
//
// fn runs inside the transaction and returns the id of the entity it
// created; any error from fn aborts the transaction and nothing is written.
func (s ServiceParams) WithIdempotency(
	ctx context.Context,
	key string,
	entityType string,
	fn func(ctx context.Context) (string, error),
) (idempotency.Outcome, error) {
	var outcome idempotency.Outcome

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.IdempotencyRepo.GetForUpdate(ctx, key)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if existing != nil {
			outcome = idempotency.Outcome{
				Status:   idempotency.OutcomeExisting,
				EntityID: existing.EntityID,
			}
			return nil
		}

		entityID, err := fn(ctx)
		if err != nil {
			return err
		}

		if err := s.IdempotencyRepo.Create(ctx, idempotency.NewKey(key, entityType, entityID)); err != nil {
			return err
		}

		outcome = idempotency.Outcome{
			Status:   idempotency.OutcomeCreated,
			EntityID: entityID,
		}
		return nil
	})

	if err != nil {
		if ierr.IsAlreadyExists(err) {
			// Lost the insert race; the winner's row is committed by now.
			if row, gerr := s.IdempotencyRepo.Get(ctx, key); gerr == nil {
				return idempotency.Outcome{
					Status:   idempotency.OutcomeExisting,
					EntityID: row.EntityID,
				}, nil
			}
		}
		return idempotency.Outcome{}, err
	}

	return outcome, nil
}

// systemAlertChannels is where operational alerts (exhausted retries,
// reconciliation discrepancies) go. Channels that are not configured are
// skipped by the notifier.
var systemAlertChannels = []string{
	string(types.AlertChannelEmail),
	string(types.AlertChannelWebhook),
}

// audit writes an audit row and only logs on failure. Audit trails never
// abort the operation they describe.
func (s ServiceParams) audit(ctx context.Context, log *auditlog.AuditLog) {
	if err := s.AuditLogRepo.Create(ctx, log); err != nil {
		s.Logger.Errorw("failed to write audit log",
			"entity_type", log.EntityType,
			"entity_id", log.EntityID,
			"action", log.Action,
			"error", err,
		)
	}
}
