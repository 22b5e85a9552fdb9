package invoice

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func sampleInvoice(t *testing.T) domain.Invoice {
	t.Helper()
	return domain.Invoice{
		ID:          "inv-1",
		Number:      "INV-20261015-0001",
		CashierID:   "cashier",
		TotalAmount: dec(t, "65.00"),
		PaidAmount:  dec(t, "65.00"),
		Items: []domain.LineItem{
			{ID: "line-a", ProductID: "p-a", Quantity: 5, UnitPrice: dec(t, "10.00"), ReturnedQuantity: 2},
			{ID: "line-b", ProductID: "p-b", Quantity: 1, UnitPrice: dec(t, "15.00")},
		},
	}
}

func TestResolvePaymentStatusScenarios(t *testing.T) {
	cases := []struct {
		name string
		paid string
		want string
	}{
		{name: "exact", paid: "100.00", want: domain.PaymentStatusPaid},
		{name: "within tolerance", paid: "99.995", want: domain.PaymentStatusPaid},
		{name: "at tolerance edge", paid: "99.99", want: domain.PaymentStatusPaid},
		{name: "overpaid", paid: "120.00", want: domain.PaymentStatusPaid},
		{name: "half", paid: "50.00", want: domain.PaymentStatusPartial},
		{name: "just below tolerance", paid: "99.98", want: domain.PaymentStatusPartial},
		{name: "nothing", paid: "0", want: domain.PaymentStatusUnpaid},
	}
	total := dec(t, "100.00")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolvePaymentStatus(total, dec(t, tc.paid))
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if again := ResolvePaymentStatus(total, dec(t, tc.paid)); again != got {
				t.Fatalf("expected stable status, got %s then %s", got, again)
			}
		})
	}
}

func TestZeroTotalInvoiceIsPaid(t *testing.T) {
	if got := ResolvePaymentStatus(decimal.Zero, decimal.Zero); got != domain.PaymentStatusPaid {
		t.Fatalf("expected zero-total invoice to be paid, got %s", got)
	}
}

func TestApplyReturnRejectsMoreThanReturnable(t *testing.T) {
	inv := sampleInvoice(t)

	_, err := ApplyReturn(&inv, map[string]int{"line-a": 4}, "ret-1")
	if !errors.Is(err, domain.ErrInvalidReturnQuantity) {
		t.Fatalf("expected ErrInvalidReturnQuantity, got %v", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if inv.Items[0].ReturnedQuantity != 2 {
		t.Fatalf("expected returned quantity untouched, got %d", inv.Items[0].ReturnedQuantity)
	}
}

func TestApplyReturnAcceptsRemainingQuantity(t *testing.T) {
	inv := sampleInvoice(t)

	result, err := ApplyReturn(&inv, map[string]int{"line-a": 3}, "ret-1")
	if err != nil {
		t.Fatalf("apply return: %v", err)
	}
	if !result.RefundAmount.Equal(dec(t, "30.00")) {
		t.Fatalf("expected refund 30.00, got %s", result.RefundAmount)
	}
	if inv.Items[0].ReturnedQuantity != 5 {
		t.Fatalf("expected returned quantity 5, got %d", inv.Items[0].ReturnedQuantity)
	}
	if inv.Items[0].EffectiveQuantity() != 0 {
		t.Fatalf("expected effective quantity 0, got %d", inv.Items[0].EffectiveQuantity())
	}
	if !result.NewInvoiceEffectiveTotal.Equal(dec(t, "15.00")) {
		t.Fatalf("expected effective total 15.00, got %s", result.NewInvoiceEffectiveTotal)
	}
	if result.Classification != domain.PartiallyReturned {
		t.Fatalf("expected partiallyReturned, got %s", result.Classification)
	}
	if len(result.PerLineRefunds) != 1 || result.PerLineRefunds[0].LineItemID != "line-a" {
		t.Fatalf("unexpected per-line refunds: %+v", result.PerLineRefunds)
	}
}

func TestApplyReturnIsAtomicAcrossLines(t *testing.T) {
	inv := sampleInvoice(t)

	_, err := ApplyReturn(&inv, map[string]int{"line-b": 1, "line-a": 9}, "ret-1")
	if !errors.Is(err, domain.ErrInvalidReturnQuantity) {
		t.Fatalf("expected ErrInvalidReturnQuantity, got %v", err)
	}
	if inv.Items[1].ReturnedQuantity != 0 {
		t.Fatalf("expected valid line to stay untouched, got %d", inv.Items[1].ReturnedQuantity)
	}
}

func TestApplyReturnRejectsForeignAndNegativeLines(t *testing.T) {
	inv := sampleInvoice(t)

	if _, err := ApplyReturn(&inv, map[string]int{"line-z": 1}, "ret-1"); !errors.Is(err, domain.ErrInvalidReturnQuantity) {
		t.Fatalf("expected foreign line to be rejected, got %v", err)
	}
	if _, err := ApplyReturn(&inv, map[string]int{"line-b": -1}, "ret-1"); !errors.Is(err, domain.ErrInvalidReturnQuantity) {
		t.Fatalf("expected negative quantity to be rejected, got %v", err)
	}
}

func TestApplyReturnRejectsEmptyBatch(t *testing.T) {
	inv := sampleInvoice(t)

	if _, err := ApplyReturn(&inv, map[string]int{"line-a": 0, "line-b": 0}, "ret-1"); !errors.Is(err, domain.ErrEmptyReturn) {
		t.Fatalf("expected ErrEmptyReturn, got %v", err)
	}
	if _, err := ApplyReturn(&inv, nil, "ret-1"); !errors.Is(err, domain.ErrEmptyReturn) {
		t.Fatalf("expected ErrEmptyReturn for nil request, got %v", err)
	}
}

func TestReturnedQuantityStaysWithinBoundsAcrossBatches(t *testing.T) {
	inv := sampleInvoice(t)
	batches := []map[string]int{
		{"line-a": 1},
		{"line-a": 1, "line-b": 1},
		{"line-a": 5},
		{"line-b": 1},
		{"line-a": 1},
	}
	for i, batch := range batches {
		_, _ = ApplyReturn(&inv, batch, "ret")
		for _, item := range inv.Items {
			if item.ReturnedQuantity < 0 || item.ReturnedQuantity > item.Quantity {
				t.Fatalf("batch %d broke bounds on %s: returned %d of %d", i, item.ID, item.ReturnedQuantity, item.Quantity)
			}
		}
	}
	if Classify(inv) != domain.FullyReturned {
		t.Fatalf("expected fullyReturned after draining every line, got %s", Classify(inv))
	}
}

func TestClassify(t *testing.T) {
	inv := sampleInvoice(t)
	inv.Items[0].ReturnedQuantity = 0
	if got := Classify(inv); got != domain.NonReturned {
		t.Fatalf("expected nonReturned, got %s", got)
	}

	inv.Items[0].ReturnedQuantity = 5
	if got := Classify(inv); got != domain.PartiallyReturned {
		t.Fatalf("expected partiallyReturned when one line is drained, got %s", got)
	}

	inv.Items[1].ReturnedQuantity = 1
	if got := Classify(inv); got != domain.FullyReturned {
		t.Fatalf("expected fullyReturned, got %s", got)
	}

	if got := Classify(domain.Invoice{}); got != domain.NonReturned {
		t.Fatalf("expected invoice without lines to be nonReturned, got %s", got)
	}
}

func TestMatchesClassification(t *testing.T) {
	inv := sampleInvoice(t)
	if !MatchesClassification(inv, "") {
		t.Fatalf("expected empty filter to match")
	}
	if !MatchesClassification(inv, domain.PartiallyReturned) {
		t.Fatalf("expected partiallyReturned filter to match")
	}
	if MatchesClassification(inv, domain.FullyReturned) {
		t.Fatalf("expected fullyReturned filter not to match")
	}
}

func TestViewDerivesFromCurrentAmounts(t *testing.T) {
	inv := sampleInvoice(t)
	inv.PaidAmount = dec(t, "20")

	view := View(inv)
	if view.Status != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", view.Status)
	}
	if view.CustomerDisplay != domain.WalkInCustomer {
		t.Fatalf("expected walk-in customer, got %s", view.CustomerDisplay)
	}
	if !view.EffectiveTotal.Equal(dec(t, "45")) || view.EffectiveItems != 4 {
		t.Fatalf("unexpected effective figures: %s / %d", view.EffectiveTotal, view.EffectiveItems)
	}
}

func TestReturnLinesFollowInvoiceOrder(t *testing.T) {
	inv := sampleInvoice(t)
	lines := ReturnLines(inv, map[string]int{"line-b": 1, "line-a": 2, "line-x": 0})
	if len(lines) != 2 || lines[0].LineItemID != "line-a" || lines[1].LineItemID != "line-b" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
	back := LinesToRequest(lines)
	if back["line-a"] != 2 || back["line-b"] != 1 {
		t.Fatalf("unexpected request: %+v", back)
	}
}
