package httpapi

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kasirinaja/terminal/internal/barcode"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/metrics"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/ws"
)

type API struct {
	sessions      *service.Registry
	auth          *AuthManager
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	metrics       *metrics.Metrics
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(sessions *service.Registry, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		sessions:      sessions,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// WithEventFeed serves the cashier's live events on /ws/events.
func (a *API) WithEventFeed(hub *ws.Hub) *API {
	a.hub = hub
	a.upgrader = ws.NewUpgrader(a.allowedOrigin)
	return a
}

// WithMetrics records request metrics and serves /metrics.
func (a *API) WithMetrics(m *metrics.Metrics) *API {
	a.metrics = m
	return a
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/v1/auth/logout", a.requireAuth(a.handleLogout, roleCashier, roleAdmin))
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	if a.hub != nil {
		mux.HandleFunc("/ws/events", a.requireAuth(a.handleEventFeed, roleCashier, roleAdmin))
	}

	mux.HandleFunc("/api/v1/cart", a.withSession(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.withSession(a.handleCartItems))
	mux.HandleFunc("/api/v1/cart/items/", a.withSession(a.handleCartItemActions))
	mux.HandleFunc("/api/v1/scan", a.withSession(a.handleScan))
	mux.HandleFunc("/api/v1/scan/mode", a.withSession(a.handleScanMode))
	mux.HandleFunc("/api/v1/checkout", a.withSession(a.handleCheckout))
	mux.HandleFunc("/api/v1/invoices", a.withSession(a.handleInvoices))
	mux.HandleFunc("/api/v1/invoices/", a.withSession(a.handleInvoiceActions))
	mux.HandleFunc("/api/v1/returns", a.withSession(a.handleReturns))
	mux.HandleFunc("/api/v1/returns/candidates", a.withSession(a.handleReturnCandidates))
	mux.HandleFunc("/api/v1/customers", a.withSession(a.handleCustomers))
	mux.HandleFunc("/api/v1/customers/search", a.withSession(a.handleCustomerSearch))
	mux.HandleFunc("/api/v1/aggregate", a.withSession(a.handleAggregate))
	mux.HandleFunc("/api/v1/aggregate/refresh", a.withSession(a.handleRefresh))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, roleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session *service.Session)

// withSession authenticates the request and binds it to the caller's
// terminal session.
func (a *API) withSession(next sessionHandler) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.sessions.ForActor(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		next(w, r, session)
	}, roleCashier, roleAdmin)
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket handshake, so upgrades may pass access_token in the query.
func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		token := strings.TrimSpace(authorization[len("Bearer "):])
		return token, token != ""
	}
	if websocket.IsWebSocketUpgrade(r) {
		token := strings.TrimSpace(r.URL.Query().Get("access_token"))
		return token, token != ""
	}
	return "", false
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout ends the caller's terminal session: its timers stop and the
// cart is dropped. The access token itself stays valid until it expires.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	a.sessions.Close(actor.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	session, err := a.sessions.ForActor(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ws.Serve(a.hub, a.upgrader, session.CashierID(), w, r)
	if err := a.hub.Publish(session.CashierID(), ws.EventAggregateUpdated, session.Aggregate()); err != nil {
		log.Printf("[httpapi] WARN: initial aggregate for %s: %v", session.CashierID(), err)
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request, session *service.Session) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		session.ClearCart()
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": session.Cart()})
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cart, err := session.AddProduct(req.ProductID, req.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request, session *service.Session) {
	productID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/"), "/"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	var (
		cart domain.Cart
		err  error
	)
	switch r.Method {
	case http.MethodPatch:
		var req cartItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cart, err = session.SetQuantity(productID, req.Quantity)
	case http.MethodDelete:
		cart, err = session.RemoveFromCart(productID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

type scanRequest struct {
	Value  string `json:"value"`
	Source string `json:"source"`
	Submit bool   `json:"submit"`
}

type scanResponse struct {
	Outcome barcode.Outcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
	Cart    domain.Cart     `json:"cart"`
}

// handleScan feeds the barcode intake. Keystrokes without submit are only
// recorded; auto-submit resolves them in the background and reports over the
// event feed.
func (a *API) handleScan(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		outcome barcode.Outcome
		err     error
	)
	switch {
	case req.Source == "decoder":
		outcome, err = session.DecodeScan(r.Context(), req.Value)
	case req.Submit:
		if req.Value != "" {
			session.ScanInput(req.Value)
		}
		outcome, err = session.SubmitScan(r.Context())
	default:
		session.ScanInput(req.Value)
		writeJSON(w, http.StatusAccepted, map[string]any{"state": session.ScanState()})
		return
	}

	if outcome.State == "" {
		writeServiceError(w, err)
		return
	}
	resp := scanResponse{Outcome: outcome, Cart: session.Cart()}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleScanMode(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Mode barcode.Mode `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := session.SetScanMode(req.Mode); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := session.Checkout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := session.GetInvoice(r.Context(), created.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": view})
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	filter := domain.InvoiceFilter{
		CashierID:      session.CashierID(),
		Classification: strings.TrimSpace(query.Get("classification")),
		Limit:          parsePositiveLimit(query.Get("limit"), 100, 500),
	}
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Role == roleAdmin {
		if cashierID, set := query["cashier_id"]; set {
			filter.CashierID = strings.TrimSpace(cashierID[0])
		}
	}

	var err error
	if filter.From, err = parseTimeParam(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	views, err := session.ListInvoices(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": views})
}

func (a *API) handleInvoiceActions(w http.ResponseWriter, r *http.Request, session *service.Session) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/"), "/")
	invoiceID, action, _ := strings.Cut(tail, "/")
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice id required"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			view, err := session.GetInvoice(r.Context(), invoiceID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"invoice": view})
		case http.MethodDelete:
			a.deleteInvoice(w, r, session, invoiceID)
		default:
			writeMethodNotAllowed(w)
		}
	case "payments":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.PaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := session.RecordPayment(r.Context(), invoiceID, req.PaidAmount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoice": view})
	case "receipt":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		rcpt, err := session.Receipt(r.Context(), invoiceID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rcpt)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown invoice action"))
	}
}

// deleteInvoice requires an admin token plus the manager PIN.
func (a *API) deleteInvoice(w http.ResponseWriter, r *http.Request, session *service.Session, invoiceID string) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || actor.Role != roleAdmin {
		writeError(w, http.StatusForbidden, errors.New("forbidden role"))
		return
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	if err := session.DeleteInvoice(r.Context(), invoiceID); err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[httpapi] invoice %s deleted by %s", invoiceID, actor.Username)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": invoiceID, "aggregate": session.Aggregate()})
}

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := session.SubmitReturn(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": result})
}

func (a *API) handleReturnCandidates(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": session.ReturnCandidates()})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	customers, err := session.SearchCustomersNow(r.Context(), query.Get("q"), parsePositiveLimit(query.Get("limit"), 10, 10))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

// handleCustomerSearch takes search-as-you-type keystrokes. Results arrive
// on the event feed once typing settles.
func (a *API) handleCustomerSearch(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session.PublishCustomerResults(req.Query)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregate": session.Aggregate()})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request, session *service.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := session.Refresh(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregate": session.Aggregate()})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers()})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method != http.MethodGet && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)
		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rec.status, elapsed)
		}
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

// routeLabel collapses ids out of paths so metric labels stay bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/v1/invoices/", "/api/v1/cart/items/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
		if _, action, found := strings.Cut(rest, "/"); found {
			return prefix + "{id}/" + action
		}
		return prefix + "{id}"
	}
	return path
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC3339 or a bare local date.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", domain.ErrValidation, raw)
	}
	return t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRequestInFlight), errors.Is(err, barcode.ErrSuperseded), errors.Is(err, store.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRetryLimitExceeded):
		return http.StatusLocked
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides 5xx details from clients. An unreachable backend is
// reported as such so the terminal can offer a retry.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
		if status == http.StatusBadGateway {
			msg = domain.ErrNetwork.Error()
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
