package integration

import (
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/security"
)

// NewGateway builds the adapter named by payment.gateway. Returns nil when
// payments are disabled; callers treat a nil gateway as "payments off".
func NewGateway(
	cfg *config.Configuration,
	encryptionService security.EncryptionService,
	logger *logger.Logger,
) (payment.Gateway, error) {
	if !cfg.Payment.Enabled {
		return nil, nil
	}

	switch cfg.Payment.Gateway {
	case "", "razorpay":
		return razorpay.NewClient(cfg, encryptionService, logger)
	default:
		return nil, ierr.NewError("unsupported payment gateway").
			WithHintf("gateway %q is not supported", cfg.Payment.Gateway).
			Mark(ierr.ErrValidation)
	}
}
