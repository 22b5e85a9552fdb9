package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

func TestHandlerExposesDomainMetrics(t *testing.T) {
	m := New()
	m.RecordCheckout(domain.PaymentMethodCash, nil)
	m.RecordCheckout(domain.PaymentMethodCash, errors.New("boom"))
	m.RecordReturn(domain.ReturnResult{RefundAmount: decimal.RequireFromString("30")}, nil)
	m.ObserveAggregate(domain.DailyAggregate{CashierID: "cashier", Total: decimal.RequireFromString("90"), InvoiceCount: 2, ItemCount: 5})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`kasirinaja_checkouts_total{payment_method="cash",result="ok"} 1`,
		`kasirinaja_checkouts_total{payment_method="cash",result="error"} 1`,
		`kasirinaja_refund_amount_total 30`,
		`kasirinaja_daily_sales_total{cashier="cashier"} 90`,
		`kasirinaja_daily_invoices{cashier="cashier"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
