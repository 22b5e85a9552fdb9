package invoice

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

// ValidateReturn checks a requested batch against the invoice's current line
// state without touching it.
func ValidateReturn(inv domain.Invoice, requested map[string]int) error {
	totalQty := 0
	for lineItemID, qty := range requested {
		line, ok := inv.Line(lineItemID)
		if !ok {
			return fmt.Errorf("%w: line %s does not belong to invoice %s", domain.ErrInvalidReturnQuantity, lineItemID, inv.ID)
		}
		if qty < 0 || qty > line.MaxReturnable() {
			return fmt.Errorf("%w: line %s requested %d, max returnable %d", domain.ErrInvalidReturnQuantity, lineItemID, qty, line.MaxReturnable())
		}
		totalQty += qty
	}
	if totalQty == 0 {
		return domain.ErrEmptyReturn
	}
	return nil
}

// ApplyReturn validates every requested line first and only then mutates inv,
// so a rejected batch leaves the invoice exactly as it was.
func ApplyReturn(inv *domain.Invoice, requested map[string]int, returnID string) (domain.ReturnResult, error) {
	if inv == nil {
		return domain.ReturnResult{}, domain.ErrInvoiceNotFound
	}
	if err := ValidateReturn(*inv, requested); err != nil {
		return domain.ReturnResult{}, err
	}

	refunds := make([]domain.LineRefund, 0, len(requested))
	refundAmount := decimal.Zero
	for i := range inv.Items {
		item := &inv.Items[i]
		qty := requested[item.ID]
		if qty == 0 {
			continue
		}
		item.ReturnedQuantity += qty
		amount := item.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
		refundAmount = refundAmount.Add(amount)
		refunds = append(refunds, domain.LineRefund{
			LineItemID: item.ID,
			Quantity:   qty,
			UnitPrice:  item.UnitPrice,
			Amount:     amount,
		})
	}

	return domain.ReturnResult{
		ReturnID:                 returnID,
		InvoiceID:                inv.ID,
		RefundAmount:             refundAmount,
		PerLineRefunds:           refunds,
		NewInvoiceEffectiveTotal: inv.EffectiveTotal(),
		Classification:           Classify(*inv),
	}, nil
}

// ReturnLines flattens a request into invoice line order, dropping zero
// quantities.
func ReturnLines(inv domain.Invoice, requested map[string]int) []domain.ReturnLine {
	lines := make([]domain.ReturnLine, 0, len(requested))
	for _, item := range inv.Items {
		if qty := requested[item.ID]; qty > 0 {
			lines = append(lines, domain.ReturnLine{LineItemID: item.ID, Quantity: qty})
		}
	}
	return lines
}

func LinesToRequest(lines []domain.ReturnLine) map[string]int {
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		requested[line.LineItemID] += line.Quantity
	}
	return requested
}
