package invoice

import (
	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

// Tolerance is the currency rounding slack used when comparing paid against total.
var Tolerance = decimal.RequireFromString("0.01")

func ResolvePaymentStatus(total decimal.Decimal, paid decimal.Decimal) string {
	if paid.GreaterThanOrEqual(total.Sub(Tolerance)) {
		return domain.PaymentStatusPaid
	}
	if paid.IsPositive() {
		return domain.PaymentStatusPartial
	}
	return domain.PaymentStatusUnpaid
}

func Status(inv domain.Invoice) string {
	return ResolvePaymentStatus(inv.TotalAmount, inv.PaidAmount)
}

// View derives status, classification and effective figures from the
// current amounts and line state.
func View(inv domain.Invoice) domain.InvoiceView {
	return domain.InvoiceView{
		Invoice:         inv,
		Status:          Status(inv),
		Classification:  Classify(inv),
		EffectiveTotal:  inv.EffectiveTotal(),
		EffectiveItems:  inv.EffectiveItemCount(),
		CustomerDisplay: inv.CustomerName(),
	}
}
