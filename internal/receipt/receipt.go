package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/invoice"
)

const header = "KasirinAja POS"

// Render builds the printable form of a final invoice. Returned lines are
// shown next to the sold quantity and the totals are net of returns.
func Render(inv domain.Invoice) domain.Receipt {
	view := invoice.View(inv)
	lines := []string{
		header,
		"========================",
		"No     : " + inv.Number,
		"Kasir  : " + inv.CashierID,
		"Tanggal: " + inv.CreatedAt.Format("2006-01-02 15:04:05"),
		"Pelanggan: " + view.CustomerDisplay,
		"------------------------",
	}
	for _, item := range inv.Items {
		name := item.ProductName
		if name == "" {
			name = item.ProductID
		}
		lines = append(lines, fmt.Sprintf("%s x%d @%s", name, item.Quantity, money(item.UnitPrice)))
		if item.ReturnedQuantity > 0 {
			lines = append(lines, fmt.Sprintf("  retur x%d", item.ReturnedQuantity))
		}
		lines = append(lines, "  "+money(item.EffectiveTotal()))
	}
	lines = append(lines,
		"------------------------",
		"Total    : "+money(inv.TotalAmount),
	)
	if !view.EffectiveTotal.Equal(inv.TotalAmount) {
		lines = append(lines, "Retur    : "+money(inv.TotalAmount.Sub(view.EffectiveTotal)))
		lines = append(lines, "Neto     : "+money(view.EffectiveTotal))
	}
	lines = append(lines,
		"Bayar    : "+money(inv.PaidAmount),
		"Metode   : "+inv.PaymentMethod,
		"Status   : "+view.Status,
		"========================",
		"Terima kasih",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.Receipt{
		InvoiceID:    inv.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", inv.Number),
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
