package types

import (
	"strings"

	ierr "github.com/meterline/meterline/internal/errors"
)

// DefaultCurrency is assumed wherever an organisation has not chosen one.
const DefaultCurrency = "INR"

// CURRENCY_CODES_SYMBOLS maps the ISO 4217 codes the platform accepts to
// their display symbols.
var CURRENCY_CODES_SYMBOLS = map[string]string{
	"inr": "₹",
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"aud": "A$",
	"cad": "C$",
	"sgd": "S$",
	"aed": "د.إ",
	"krw": "₩",
}

// zeroDecimalCurrencies have no minor unit; amounts are whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"jpy": {},
	"krw": {},
}

// GetCurrencySymbol returns the symbol for a currency code, falling back to
// the code itself.
func GetCurrencySymbol(code string) string {
	if symbol, ok := CURRENCY_CODES_SYMBOLS[strings.ToLower(code)]; ok {
		return symbol
	}
	return code
}

// IsValidCurrency reports whether the code is one the platform accepts.
func IsValidCurrency(code string) bool {
	_, ok := CURRENCY_CODES_SYMBOLS[strings.ToLower(code)]
	return ok
}

// CurrencyScale returns the number of decimal places used when rounding and
// displaying amounts in the given currency: 2 for INR/USD, 0 for JPY.
func CurrencyScale(code string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(code)]; ok {
		return 0
	}
	return 2
}

// NormalizeCurrency upper-cases a currency code for storage and comparison.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCurrency rejects codes the platform does not accept.
func ValidateCurrency(code string) error {
	if !IsValidCurrency(code) {
		return ierr.NewErrorf("unsupported currency %q", code).
			WithHint("Use one of the supported ISO 4217 currency codes").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsSameCurrency compares two codes case-insensitively.
func IsSameCurrency(a, b string) bool {
	return NormalizeCurrency(a) == NormalizeCurrency(b)
}
