package domain

import (
	"github.com/shopspring/decimal"
)

// MaxReturnable is how many more units of the line can still be returned.
func (l LineItem) MaxReturnable() int {
	remaining := l.Quantity - l.ReturnedQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EffectiveQuantity is the sold quantity net of returns, clamped at zero.
func (l LineItem) EffectiveQuantity() int {
	return l.MaxReturnable()
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l LineItem) EffectiveTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.EffectiveQuantity())))
}

func (inv Invoice) EffectiveTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.EffectiveTotal())
	}
	return total
}

func (inv Invoice) EffectiveItemCount() int {
	count := 0
	for _, item := range inv.Items {
		count += item.EffectiveQuantity()
	}
	return count
}

func (inv Invoice) Line(lineItemID string) (LineItem, bool) {
	for _, item := range inv.Items {
		if item.ID == lineItemID {
			return item, true
		}
	}
	return LineItem{}, false
}

func (inv Invoice) CustomerName() string {
	if inv.Customer == nil || inv.Customer.Name == "" {
		return WalkInCustomer
	}
	return inv.Customer.Name
}

func (inv Invoice) Clone() Invoice {
	cloned := inv
	cloned.Items = append([]LineItem(nil), inv.Items...)
	if inv.Customer != nil {
		customer := *inv.Customer
		cloned.Customer = &customer
	}
	return cloned
}

func SumLines(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal())
	}
	return total
}
