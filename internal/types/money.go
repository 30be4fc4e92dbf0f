package types

import (
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount tagged with the currency it is
// denominated in. All financial arithmetic goes through this type; the
// currency tag makes cross-currency mistakes compile into explicit errors
// instead of silently mixing units. Conversion between currencies is the
// currency service's job and always produces a fresh Money carrying the
// target currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money from an exact decimal amount.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: NormalizeCurrency(currency)}
}

// MoneyFromString parses a decimal string. Floats never enter the financial
// path; callers hand us strings or decimals only.
func MoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, ierr.WithError(err).
			WithHintf("invalid decimal amount %q", amount).
			Mark(ierr.ErrValidation)
	}
	return NewMoney(d, currency), nil
}

// MoneyFromMinorUnits builds a Money from an amount expressed in the
// currency's minor unit (paise for INR, cents for USD).
func MoneyFromMinorUnits(minor int64, currency string) Money {
	scale := CurrencyScale(currency)
	amount := decimal.New(minor, -scale)
	return NewMoney(amount, currency)
}

func (m Money) sameCurrency(other Money) error {
	if !IsSameCurrency(m.Currency, other.Currency) {
		return ierr.NewErrorf("cannot operate on %s and %s amounts", m.Currency, other.Currency).
			WithHint("Cross-currency arithmetic must go through the currency service").
			WithReportableDetails(map[string]any{
				"left_currency":  m.Currency,
				"right_currency": other.Currency,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

// Add returns m + other; both must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m − other; both must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul scales the amount by a dimensionless factor (quantity, tax rate).
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Div divides the amount by a dimensionless divisor.
func (m Money) Div(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ierr.NewError("division by zero").
			WithHint("Divisor must be non-zero").
			Mark(ierr.ErrValidation)
	}
	return Money{Amount: m.Amount.Div(divisor), Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1; both must share a currency.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Sign returns -1 for negative, 0 for zero, 1 for positive amounts.
func (m Money) Sign() int {
	return m.Amount.Sign()
}

// Min returns the smaller of the two amounts.
func (m Money) Min(other Money) (Money, error) {
	cmp, err := m.Cmp(other)
	if err != nil {
		return Money{}, err
	}
	if cmp <= 0 {
		return m, nil
	}
	return other, nil
}

// Max returns the larger of the two amounts.
func (m Money) Max(other Money) (Money, error) {
	cmp, err := m.Cmp(other)
	if err != nil {
		return Money{}, err
	}
	if cmp >= 0 {
		return m, nil
	}
	return other, nil
}

// Round applies banker's rounding (half-even) at the currency's scale.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.RoundBank(CurrencyScale(m.Currency)), Currency: m.Currency}
}

// Display renders the amount as a fixed-scale string at the currency's
// scale, e.g. "1180.00" for INR, "1180" for JPY.
func (m Money) Display() string {
	return m.Amount.StringFixed(CurrencyScale(m.Currency))
}

// MinorUnits returns the rounded amount in the currency's minor unit, the
// form payment gateways expect (118000 paise for ₹1180.00).
func (m Money) MinorUnits() int64 {
	scale := CurrencyScale(m.Currency)
	return m.Amount.RoundBank(scale).Shift(scale).IntPart()
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return IsSameCurrency(m.Currency, other.Currency) && m.Amount.Equal(other.Amount)
}
