package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kasirinaja/terminal/internal/barcode"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutatingRequestWithoutCSRFTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}
}

func TestCSRFTokenEndpoint(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if !api.validateCSRFToken(payload["csrf_token"]) {
		t.Fatalf("expected issued token to validate")
	}
	if api.validateCSRFToken("deadbeef") {
		t.Fatalf("expected forged token to fail")
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/invoices/inv-nonexistent", nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
		req.Header.Set("X-Manager-PIN", "000000")
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	res := httptest.NewRecorder()
	writeServiceError(res, errors.New("pq: relation invoices does not exist"))
	if res.Code != http.StatusInternalServerError || strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("expected generic 500, got %d %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	writeServiceError(res, fmt.Errorf("%w: dial tcp 10.0.0.1:443", domain.ErrNetwork))
	if res.Code != http.StatusBadGateway || strings.Contains(res.Body.String(), "10.0.0.1") {
		t.Fatalf("expected opaque 502, got %d %s", res.Code, res.Body.String())
	}
}

func TestStatusForMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidReturnQuantity, http.StatusBadRequest},
		{domain.ErrEmptyCart, http.StatusBadRequest},
		{domain.ErrInvoiceNotFound, http.StatusNotFound},
		{domain.ErrRequestInFlight, http.StatusConflict},
		{barcode.ErrSuperseded, http.StatusConflict},
		{store.ErrDuplicateUser, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrRetryLimitExceeded), http.StatusLocked},
		{domain.ErrNetwork, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestRouteLabelDropsIDs(t *testing.T) {
	cases := map[string]string{
		"/api/v1/invoices/inv-1":          "/api/v1/invoices/{id}",
		"/api/v1/invoices/inv-1/payments": "/api/v1/invoices/{id}/payments",
		"/api/v1/cart/items/prd-mie":      "/api/v1/cart/items/{id}",
		"/api/v1/aggregate":               "/api/v1/aggregate",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("%s: expected %s, got %s", path, want, got)
		}
	}
}
