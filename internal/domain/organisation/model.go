package organisation

import (
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Organisation is a billed tenant. All usage, pricing overrides, invoices
// and payments hang off an organisation.
type Organisation struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`

	// Currency invoices are issued in unless billing config overrides it
	Currency string `db:"currency" json:"currency"`

	// GatewayCustomerID links the organisation to the payment gateway
	GatewayCustomerID *string `db:"gateway_customer_id" json:"gateway_customer_id,omitempty"`

	types.BaseModel
}

// New creates an organisation with defaults applied
func New(name, currency string) *Organisation {
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &Organisation{
		ID:       types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ORGANISATION),
		Name:     name,
		Currency: types.NormalizeCurrency(currency),
	}
}

func (o *Organisation) Validate() error {
	if o.Name == "" {
		return ierr.NewError("organisation name is required").
			Mark(ierr.ErrValidation)
	}
	if err := types.ValidateCurrency(o.Currency); err != nil {
		return err
	}
	return nil
}
