package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/barcode"
	"kasirinaja/terminal/internal/debounce"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/metrics"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store/memory"
	"kasirinaja/terminal/internal/ws"
)

const mieBarcode = "8991002101234"

// newTestAPI wires a full API over the seeded memory store. Session timers
// run on a manual scheduler so nothing fires during a test.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	sched := debounce.NewManualScheduler(time.Now())
	sessions := service.NewRegistry(repo, service.Options{
		Location:  time.UTC,
		Now:       sched.Now,
		AfterFunc: sched.AfterFunc,
	})
	t.Cleanup(sessions.CloseAll)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(sessions, auth, "*").WithMetrics(metrics.New())
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d", username, rec.Code)
	}
	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func checkout(t *testing.T, api *API, token string, req domain.CheckoutRequest) domain.InvoiceView {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Invoice domain.InvoiceView `json:"invoice"`
	}
	decodeBody(t, rec, &payload)
	return payload.Invoice
}

func addItem(t *testing.T, api *API, token string, productID string, qty int) {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", token, cartItemRequest{ProductID: productID, Quantity: qty})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.CashierID != "cashier" || resp.Role != "cashier" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cashier", Password: "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestLogoutClosesSession(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	addItem(t, api, token, "prd-mie", 2)
	if _, ok := api.sessions.Lookup("cashier"); !ok {
		t.Fatalf("expected a live session after adding to cart")
	}

	if rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET logout, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if _, ok := api.sessions.Lookup("cashier"); ok {
		t.Fatalf("expected session closed after logout")
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/cart", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a fresh session on next request, got %d", rec.Code)
	}
	var payload struct {
		Cart domain.Cart `json:"cart"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Cart.Lines) != 0 {
		t.Fatalf("expected empty cart after logout, got %+v", payload.Cart.Lines)
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/cart", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/cart", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestScanCheckoutAndAggregate(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/scan", token, scanRequest{Value: mieBarcode, Source: "decoder"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var scanned scanResponse
	decodeBody(t, rec, &scanned)
	if scanned.Outcome.State != barcode.StateResolved || scanned.Cart.ItemCount != 1 {
		t.Fatalf("unexpected scan response %+v", scanned)
	}

	addItem(t, api, token, "prd-telur", 2)

	inv := checkout(t, api, token, domain.CheckoutRequest{PaymentMethod: "cash"})
	if !inv.TotalAmount.Equal(decimal.RequireFromString("56500")) || inv.Status != domain.PaymentStatusPaid {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if inv.CashierID != "cashier" || inv.Classification != domain.NonReturned {
		t.Fatalf("unexpected invoice owner or classification %+v", inv)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/aggregate", token, nil)
	var agg struct {
		Aggregate domain.DailyAggregate `json:"aggregate"`
	}
	decodeBody(t, rec, &agg)
	if !agg.Aggregate.Total.Equal(decimal.RequireFromString("56500")) || agg.Aggregate.InvoiceCount != 1 || agg.Aggregate.ItemCount != 3 {
		t.Fatalf("unexpected aggregate %+v", agg.Aggregate)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/cart", token, nil)
	var cart struct {
		Cart domain.Cart `json:"cart"`
	}
	decodeBody(t, rec, &cart)
	if len(cart.Cart.Lines) != 0 {
		t.Fatalf("expected empty cart after checkout, got %+v", cart.Cart)
	}
}

func TestCheckoutEmptyCartIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScanUnknownBarcodeOffersCreate(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/scan", token, scanRequest{Value: "0000000000000", Source: "decoder"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var scanned scanResponse
	decodeBody(t, rec, &scanned)
	if scanned.Outcome.State != barcode.StateFailed || !scanned.Outcome.OfferCreate || scanned.Error == "" {
		t.Fatalf("unexpected scan response %+v", scanned)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/scan", token, scanRequest{Value: "12-34", Source: "decoder"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed barcode, got %d", rec.Code)
	}
}

func TestReturnsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	addItem(t, api, token, "prd-mie", 2)
	inv := checkout(t, api, token, domain.CheckoutRequest{})
	lineID := inv.Items[0].ID

	rec := doJSON(t, api, http.MethodPost, "/api/v1/returns", token, domain.ReturnRequest{InvoiceID: inv.ID, Lines: map[string]int{lineID: 1}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("return: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Return domain.ReturnResult `json:"return"`
	}
	decodeBody(t, rec, &created)
	if !created.Return.RefundAmount.Equal(decimal.RequireFromString("3500")) || created.Return.Classification != domain.PartiallyReturned {
		t.Fatalf("unexpected return %+v", created.Return)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", token, domain.ReturnRequest{InvoiceID: inv.ID, Lines: map[string]int{lineID: 5}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-return, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", token, domain.ReturnRequest{InvoiceID: "missing", Lines: map[string]int{lineID: 1}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown invoice, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/invoices?classification=partiallyReturned", token, nil)
	var listed struct {
		Invoices []domain.InvoiceView `json:"invoices"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Invoices) != 1 || listed.Invoices[0].ID != inv.ID {
		t.Fatalf("unexpected invoices %+v", listed.Invoices)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/invoices?classification=broken", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown classification, got %d", rec.Code)
	}
}

func TestPaymentsAndReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	addItem(t, api, token, "prd-mie", 1)
	down := decimal.RequireFromString("1000")
	inv := checkout(t, api, token, domain.CheckoutRequest{PaymentMethod: "credit", DownPayment: &down})
	if inv.Status != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", inv.Status)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", token, domain.PaymentRequest{PaidAmount: decimal.RequireFromString("3500")})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var paid struct {
		Invoice domain.InvoiceView `json:"invoice"`
	}
	decodeBody(t, rec, &paid)
	if paid.Invoice.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Invoice.Status)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", token, domain.PaymentRequest{PaidAmount: decimal.RequireFromString("10")})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for lowering payment, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/invoices/"+inv.ID+"/receipt", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d", rec.Code)
	}
	var rcpt domain.Receipt
	decodeBody(t, rec, &rcpt)
	if rcpt.InvoiceID != inv.ID || rcpt.EscposBase64 == "" {
		t.Fatalf("unexpected receipt %+v", rcpt)
	}
}

func TestDeleteInvoiceNeedsAdminAndManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	admin := login(t, api, "admin", "admin123")

	addItem(t, api, cashier, "prd-mie", 1)
	inv := checkout(t, api, cashier, domain.CheckoutRequest{})
	path := "/api/v1/invoices/" + inv.ID

	if rec := doJSON(t, api, http.MethodDelete, path, cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, path, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	req.Header.Set("X-Manager-PIN", "000000")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, path, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	req.Header.Set("X-Manager-PIN", "123456")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin with pin, got %d (%s)", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, api, http.MethodGet, path, cashier, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted invoice to be gone, got %d", rec.Code)
	}
}

func TestCustomerLookup(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/customers?q=siti", token, nil)
	var found struct {
		Customers []domain.CustomerRef `json:"customers"`
	}
	decodeBody(t, rec, &found)
	if len(found.Customers) != 1 || found.Customers[0].ID != "cus-siti" {
		t.Fatalf("unexpected customers %+v", found.Customers)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/customers/search", token, map[string]string{"query": "bud"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for debounced search, got %d", rec.Code)
	}
}

func TestCashierAdministration(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	admin := login(t, api, "admin", "admin123")

	if rec := doJSON(t, api, http.MethodGet, "/api/v1/users/cashiers", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "kasir2", Password: "rahasia1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "kasir2", Password: "rahasia1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	login(t, api, "kasir2", "rahasia1")
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t)
	doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `kasirinaja_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request to be counted:\n%s", rec.Body.String())
	}
}

func TestEventFeedStreamsAggregate(t *testing.T) {
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	api := newTestAPI(t).WithEventFeed(hub)
	token := login(t, api, "cashier", "cashier123")
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ws.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != ws.EventAggregateUpdated {
		t.Fatalf("expected initial aggregate, got %s", event.Type)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil); err == nil {
		t.Fatalf("expected dial without token to fail")
	}
}
