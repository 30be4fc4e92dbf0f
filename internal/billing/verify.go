package billing

import (
	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Verify recomputes the invoice arithmetic from its lines and rejects drift
// beyond one minor unit per line. A failure here means the calculator and
// its own output disagree, so the caller must abort before writing anything.
func Verify(calc *CalculatedInvoice) error {
	scale := types.CurrencyScale(calc.Currency)
	lineEpsilon := decimal.New(1, -scale)
	epsilon := decimal.New(int64(len(calc.Lines)), -scale)

	usage := decimal.Zero
	adjustment := decimal.Zero
	for _, line := range calc.Lines {
		product := line.Quantity.Mul(line.UnitPrice)
		if product.Sub(line.Total).Abs().GreaterThan(lineEpsilon) {
			return mismatch("line total does not match quantity times unit price", map[string]any{
				"line_number": line.LineNumber,
				"quantity":    line.Quantity.String(),
				"unit_price":  line.UnitPrice.String(),
				"total":       line.Total.String(),
			})
		}
		if line.IsMinimumCharge() {
			adjustment = adjustment.Add(line.Total)
		} else {
			usage = usage.Add(line.Total)
		}
	}

	if usage.Sub(calc.Subtotal).Abs().GreaterThan(epsilon) {
		return mismatch("subtotal does not match line totals", map[string]any{
			"subtotal":   calc.Subtotal.String(),
			"recomputed": usage.String(),
		})
	}

	afterMin := usage.Add(adjustment)
	if afterMin.Sub(calc.SubtotalAfterMin).Abs().GreaterThan(epsilon) {
		return mismatch("subtotal after minimum does not match lines", map[string]any{
			"subtotal_after_min": calc.SubtotalAfterMin.String(),
			"recomputed":         afterMin.String(),
		})
	}

	total := calc.SubtotalAfterMin.Add(calc.Tax).Sub(calc.Discount)
	if total.Sub(calc.Total).Abs().GreaterThan(epsilon) {
		return mismatch("total does not match subtotal plus tax minus discount", map[string]any{
			"total":      calc.Total.String(),
			"recomputed": total.String(),
		})
	}

	return nil
}

func mismatch(msg string, details map[string]any) error {
	return ierr.NewError(msg).
		WithHint("Invoice calculation failed verification; nothing was written").
		WithReportableDetails(details).
		Mark(ierr.ErrCalculationMismatch)
}
