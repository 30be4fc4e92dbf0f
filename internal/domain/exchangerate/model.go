package exchangerate

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// ExchangeRate converts one unit of Base into Rate units of Target over its
// effective window. Upserting a newer rate closes the previous open window.
type ExchangeRate struct {
	ID            string          `db:"id" json:"id"`
	Base          string          `db:"base" json:"base"`
	Target        string          `db:"target" json:"target"`
	Rate          decimal.Decimal `db:"rate" json:"rate"`
	EffectiveFrom time.Time       `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time      `db:"effective_to" json:"effective_to,omitempty"`

	// Source names where the rate came from, e.g. manual or a provider id
	Source string `db:"source" json:"source"`

	types.BaseModel
}

// New creates a rate effective from the given instant
func New(base, target string, rate decimal.Decimal, effectiveFrom time.Time, source string) *ExchangeRate {
	return &ExchangeRate{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EXCHANGE_RATE),
		Base:          types.NormalizeCurrency(base),
		Target:        types.NormalizeCurrency(target),
		Rate:          rate,
		EffectiveFrom: effectiveFrom.UTC(),
		Source:        source,
	}
}

func (r *ExchangeRate) Validate() error {
	if err := types.ValidateCurrency(r.Base); err != nil {
		return err
	}
	if err := types.ValidateCurrency(r.Target); err != nil {
		return err
	}
	if types.IsSameCurrency(r.Base, r.Target) {
		return ierr.NewError("base and target must differ").
			Mark(ierr.ErrValidation)
	}
	if !r.Rate.IsPositive() {
		return ierr.NewError("rate must be positive").
			WithReportableDetails(map[string]any{"rate": r.Rate.String()}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsEffectiveAt reports whether the rate covers the given instant
func (r *ExchangeRate) IsEffectiveAt(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}
