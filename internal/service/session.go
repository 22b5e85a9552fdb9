package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/aggregate"
	"kasirinaja/terminal/internal/barcode"
	"kasirinaja/terminal/internal/catalog"
	"kasirinaja/terminal/internal/debounce"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/invoice"
	"kasirinaja/terminal/internal/receipt"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/ws"
	"kasirinaja/terminal/internal/xid"
)

const (
	DefaultCustomerSearchDelay = 350 * time.Millisecond

	customerSearchLimit = 10
	returnLookupWindow  = 30 * 24 * time.Hour
	returnLookupLimit   = 50
	backgroundTimeout   = 10 * time.Second
)

// Notifier pushes session events to connected terminals.
type Notifier interface {
	Publish(cashierID string, eventType string, payload any) error
}

// Recorder receives operational metrics.
type Recorder interface {
	RecordCheckout(paymentMethod string, err error)
	RecordReturn(result domain.ReturnResult, err error)
	RecordBarcode(mode string, state string)
	ObserveAggregate(snapshot domain.DailyAggregate)
}

type Options struct {
	Location             *time.Location
	Now                  func() time.Time
	AfterFunc            debounce.AfterFunc
	Barcode              barcode.Config
	CustomerSearchDelay  time.Duration
	RolloverRebuildDelay time.Duration
	RefreshInterval      time.Duration
	Notifier             Notifier
	Recorder             Recorder
}

// Session is one cashier's terminal: cart, scanner, daily aggregate and the
// checkout and return flows that feed it.
type Session struct {
	cashierID string
	repo      store.Repository
	index     *catalog.Index
	engine    *aggregate.Engine
	scanner   *barcode.Machine
	search    *debounce.Debouncer
	notifier  Notifier
	recorder  Recorder
	now       func() time.Time
	loc       *time.Location

	checkoutBusy atomic.Bool
	returnBusy   atomic.Bool

	mu          sync.Mutex
	cart        []domain.CartLine
	candidates  []domain.Invoice
	unsubscribe func()
}

func NewSession(cashierID string, repo store.Repository, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	searchDelay := opts.CustomerSearchDelay
	if searchDelay <= 0 {
		searchDelay = DefaultCustomerSearchDelay
	}
	barcodeCfg := opts.Barcode
	if barcodeCfg.AfterFunc == nil {
		barcodeCfg.AfterFunc = opts.AfterFunc
	}

	s := &Session{
		cashierID: cashierID,
		repo:      repo,
		index:     catalog.NewIndex(),
		notifier:  opts.Notifier,
		recorder:  opts.Recorder,
		now:       now,
		loc:       loc,
		search:    debounce.New(searchDelay, opts.AfterFunc),
	}
	s.engine = aggregate.New(aggregate.Options{
		CashierID:            cashierID,
		Lister:               repo,
		Location:             loc,
		Now:                  now,
		AfterFunc:            opts.AfterFunc,
		RolloverRebuildDelay: opts.RolloverRebuildDelay,
		RefreshInterval:      opts.RefreshInterval,
	})
	s.scanner = barcode.New(barcodeCfg, s.index, repo, s.onScan)
	s.unsubscribe = s.engine.Subscribe(s.onAggregate)
	return s
}

func (s *Session) CashierID() string {
	return s.cashierID
}

// Start loads the product index and performs the initial aggregate rebuild.
func (s *Session) Start(ctx context.Context) error {
	var errs []error
	if err := s.index.Reload(ctx, s.repo); err != nil {
		errs = append(errs, fmt.Errorf("load products: %w", err))
	}
	if err := s.engine.Start(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rebuild daily aggregate: %w", err))
	}
	return errors.Join(errs...)
}

// Close tears down timers. A new session for the same cashier re-arms them.
func (s *Session) Close() {
	s.engine.Close()
	s.scanner.Close()
	s.search.Cancel()
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Session) AddToCart(product domain.Product, qty int) (domain.Cart, error) {
	if qty < 1 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidQuantity)
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Cart{}, domain.ErrProductNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cart {
		if s.cart[i].ProductID == product.ID {
			s.cart[i].Quantity += qty
			return s.cartLocked(), nil
		}
	}
	s.cart = append(s.cart, domain.CartLine{
		ProductID: product.ID,
		Barcode:   product.Barcode,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  qty,
	})
	return s.cartLocked(), nil
}

// AddProduct adds a product already present in the local index.
func (s *Session) AddProduct(productID string, qty int) (domain.Cart, error) {
	product, ok := s.index.Product(strings.TrimSpace(productID))
	if !ok {
		return domain.Cart{}, domain.ErrProductNotFound
	}
	return s.AddToCart(product, qty)
}

// SetQuantity changes a line's quantity; zero removes the line.
func (s *Session) SetQuantity(productID string, qty int) (domain.Cart, error) {
	if qty < 0 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cart {
		if s.cart[i].ProductID != productID {
			continue
		}
		if qty == 0 {
			s.cart = append(s.cart[:i], s.cart[i+1:]...)
		} else {
			s.cart[i].Quantity = qty
		}
		return s.cartLocked(), nil
	}
	return domain.Cart{}, domain.ErrProductNotFound
}

func (s *Session) RemoveFromCart(productID string) (domain.Cart, error) {
	return s.SetQuantity(productID, 0)
}

func (s *Session) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLocked()
}

func (s *Session) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
}

// removeSold takes the invoiced quantities off the cart, keeping anything
// added while the checkout was in flight.
func (s *Session) removeSold(sold map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cart[:0]
	for _, line := range s.cart {
		line.Quantity -= sold[line.ProductID]
		if line.Quantity > 0 {
			kept = append(kept, line)
		}
	}
	s.cart = kept
}

// Checkout persists the cart as an invoice. A second call while one is in
// flight fails with ErrRequestInFlight; a failed call keeps the cart so the
// cashier can resubmit.
func (s *Session) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Invoice, error) {
	if !s.checkoutBusy.CompareAndSwap(false, true) {
		return nil, domain.ErrRequestInFlight
	}
	defer s.checkoutBusy.Store(false)

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCash
	}
	created, err := s.checkout(ctx, method, req)
	if s.recorder != nil {
		s.recorder.RecordCheckout(method, err)
	}
	return created, err
}

func (s *Session) checkout(ctx context.Context, method string, req domain.CheckoutRequest) (*domain.Invoice, error) {
	s.mu.Lock()
	lines := append([]domain.CartLine(nil), s.cart...)
	s.mu.Unlock()
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if !domain.IsSupportedPaymentMethod(method) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidPayment, method)
	}

	customer, err := normalizeCustomer(req.Customer)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, 0, len(lines))
	sold := make(map[string]int, len(lines))
	for _, line := range lines {
		items = append(items, domain.LineItem{
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
		sold[line.ProductID] += line.Quantity
	}
	total := domain.SumLines(items)

	paid := total
	if domain.IsDeferredPaymentMethod(method) {
		paid = decimal.Zero
		if req.DownPayment != nil {
			paid = *req.DownPayment
		}
		if paid.IsNegative() || paid.GreaterThan(total) {
			return nil, fmt.Errorf("%w: down payment %s outside 0..%s", domain.ErrInvalidPayment, paid, total)
		}
	}

	now := s.now()
	number := xid.QuickInvoiceNumber(now.In(s.loc))
	if req.Formal {
		number = xid.FormalInvoiceNumber(now)
	}

	created, err := s.repo.CreateInvoice(ctx, domain.InvoiceDraft{
		ID:            xid.New("inv"),
		Number:        number,
		CreatedAt:     now,
		CashierID:     s.cashierID,
		Customer:      customer,
		PaymentMethod: method,
		TotalAmount:   total,
		PaidAmount:    paid,
		Items:         items,
	})
	if err != nil {
		return nil, err
	}

	s.engine.OnNewSale(*created)
	s.index.DecrementStock(sold)
	s.removeSold(sold)
	s.publish(ws.EventInvoiceCreated, invoice.View(*created))
	return created, nil
}

// SubmitReturn validates the batch against the invoice as last read from the
// store, then dispatches it. Once dispatched it is not cancelled or retried.
func (s *Session) SubmitReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	if !s.returnBusy.CompareAndSwap(false, true) {
		return domain.ReturnResult{}, domain.ErrRequestInFlight
	}
	defer s.returnBusy.Store(false)

	result, err := s.submitReturn(ctx, req)
	if s.recorder != nil {
		s.recorder.RecordReturn(result, err)
	}
	return result, err
}

func (s *Session) submitReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return domain.ReturnResult{}, domain.ErrInvoiceNotFound
	}
	current, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	returnID := xid.New("ret")
	local := current.Clone()
	result, err := invoice.ApplyReturn(&local, req.Lines, returnID)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	rcpt, err := s.repo.CreateReturn(ctx, domain.ReturnSubmission{
		ReturnID:  returnID,
		InvoiceID: invoiceID,
		CashierID: s.cashierID,
		Reason:    strings.TrimSpace(req.Reason),
		Lines:     invoice.ReturnLines(*current, req.Lines),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.ReturnResult{}, err
	}

	final := local
	if rcpt.Invoice.ID != "" {
		final = rcpt.Invoice
		result.NewInvoiceEffectiveTotal = final.EffectiveTotal()
		result.Classification = invoice.Classify(final)
	}
	if rcpt.ReturnID != "" {
		result.ReturnID = rcpt.ReturnID
	}

	applied := make(map[string]int, len(result.PerLineRefunds))
	for _, refund := range result.PerLineRefunds {
		applied[refund.LineItemID] = refund.Quantity
	}
	s.engine.OnNewReturn(domain.ReturnEvent{ReturnID: result.ReturnID, InvoiceID: invoiceID, Lines: applied})
	s.replaceCandidate(final)
	s.publish(ws.EventReturnCreated, result)
	return result, nil
}

// RecordPayment raises an invoice's paid amount. Lowering it is rejected.
func (s *Session) RecordPayment(ctx context.Context, invoiceID string, paid decimal.Decimal) (domain.InvoiceView, error) {
	if paid.IsNegative() {
		return domain.InvoiceView{}, fmt.Errorf("%w: paid amount must not be negative", domain.ErrInvalidPayment)
	}
	current, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	if paid.LessThan(current.PaidAmount) {
		return domain.InvoiceView{}, fmt.Errorf("%w: paid amount %s is below recorded %s", domain.ErrInvalidPayment, paid, current.PaidAmount)
	}
	updated, err := s.repo.RecordPayment(ctx, invoiceID, paid)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	return invoice.View(*updated), nil
}

// DeleteInvoice removes an invoice and rebuilds the aggregate from the store.
func (s *Session) DeleteInvoice(ctx context.Context, invoiceID string) error {
	if err := s.repo.DeleteInvoice(ctx, invoiceID); err != nil {
		return err
	}
	s.dropCandidate(invoiceID)
	if err := s.Refresh(ctx); err != nil {
		log.Printf("[service] WARN: refresh after deleting invoice %s failed: %v", invoiceID, err)
	}
	return nil
}

// Refresh reconciles provisional state: product stock and the daily aggregate
// are overwritten from the store.
func (s *Session) Refresh(ctx context.Context) error {
	var errs []error
	if err := s.index.Reload(ctx, s.repo); err != nil {
		errs = append(errs, fmt.Errorf("reload products: %w", err))
	}
	if err := s.engine.Refresh(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rebuild daily aggregate: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.InvoiceView, error) {
	if !invoice.IsValidClassification(filter.Classification) {
		return nil, fmt.Errorf("%w: unknown classification %q", domain.ErrValidation, filter.Classification)
	}
	invoices, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]domain.InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		if !invoice.MatchesClassification(inv, filter.Classification) {
			continue
		}
		views = append(views, invoice.View(inv))
	}
	return views, nil
}

func (s *Session) GetInvoice(ctx context.Context, invoiceID string) (domain.InvoiceView, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	return invoice.View(*inv), nil
}

// Receipt renders the invoice as currently stored, returns included.
func (s *Session) Receipt(ctx context.Context, invoiceID string) (domain.Receipt, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return receipt.Render(*inv), nil
}

// SearchCustomers coalesces keystrokes: only the last query inside the
// debounce window reaches the directory, and its result goes to deliver.
func (s *Session) SearchCustomers(query string, deliver func([]domain.CustomerRef, error)) {
	query = strings.TrimSpace(query)
	s.search.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		deliver(s.repo.SearchCustomers(ctx, query, customerSearchLimit))
	})
}

// SearchCustomersNow queries the directory directly, without debouncing.
func (s *Session) SearchCustomersNow(ctx context.Context, query string, limit int) ([]domain.CustomerRef, error) {
	if limit < 1 || limit > customerSearchLimit {
		limit = customerSearchLimit
	}
	return s.repo.SearchCustomers(ctx, strings.TrimSpace(query), limit)
}

// PublishCustomerResults runs a debounced search and pushes the result to
// the cashier's event feed.
func (s *Session) PublishCustomerResults(query string) {
	s.SearchCustomers(query, func(customers []domain.CustomerRef, err error) {
		if err != nil {
			log.Printf("[service] WARN: customer search %q failed: %v", query, err)
			return
		}
		s.publish(ws.EventCustomerResults, map[string]any{"query": query, "customers": customers})
	})
}

func (s *Session) Aggregate() domain.DailyAggregate {
	return s.engine.Snapshot()
}

func (s *Session) ReturnCandidates() []domain.InvoiceView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]domain.InvoiceView, 0, len(s.candidates))
	for _, inv := range s.candidates {
		views = append(views, invoice.View(inv))
	}
	return views
}

func (s *Session) ScanInput(raw string) {
	s.scanner.Input(raw)
}

func (s *Session) SubmitScan(ctx context.Context) (barcode.Outcome, error) {
	return s.scanner.Submit(ctx)
}

func (s *Session) DecodeScan(ctx context.Context, raw string) (barcode.Outcome, error) {
	return s.scanner.Decoded(ctx, raw)
}

func (s *Session) SetScanMode(mode barcode.Mode) error {
	if mode != barcode.ModeSale && mode != barcode.ModeReturn {
		return fmt.Errorf("%w: unknown scan mode %q", domain.ErrValidation, mode)
	}
	s.scanner.SetMode(mode)
	return nil
}

func (s *Session) ScanState() barcode.State {
	return s.scanner.State()
}

func (s *Session) onScan(outcome barcode.Outcome) {
	if s.recorder != nil {
		s.recorder.RecordBarcode(string(outcome.Mode), string(outcome.State))
	}
	if outcome.Product != nil {
		switch outcome.Mode {
		case barcode.ModeReturn:
			s.seedReturnLookup(*outcome.Product)
		default:
			if _, err := s.AddToCart(*outcome.Product, 1); err != nil {
				log.Printf("[service] WARN: add scanned product %s to cart: %v", outcome.Product.ID, err)
			}
		}
	}
	s.publish(ws.EventBarcodeResolved, outcome)
}

// seedReturnLookup collects recent invoices that still have the scanned
// product left to return.
func (s *Session) seedReturnLookup(product domain.Product) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	invoices, err := s.repo.ListInvoices(ctx, domain.InvoiceFilter{
		From:  s.now().Add(-returnLookupWindow),
		Limit: returnLookupLimit,
	})
	if err != nil {
		log.Printf("[service] WARN: return lookup for product %s failed: %v", product.ID, err)
		return
	}

	matches := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		for _, item := range inv.Items {
			if item.ProductID == product.ID && item.MaxReturnable() > 0 {
				matches = append(matches, inv)
				break
			}
		}
	}

	s.mu.Lock()
	s.candidates = matches
	s.mu.Unlock()
}

func (s *Session) replaceCandidate(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.candidates {
		if s.candidates[i].ID == inv.ID {
			s.candidates[i] = inv.Clone()
		}
	}
}

func (s *Session) dropCandidate(invoiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.candidates[:0]
	for _, inv := range s.candidates {
		if inv.ID != invoiceID {
			kept = append(kept, inv)
		}
	}
	s.candidates = kept
}

func (s *Session) onAggregate(snapshot domain.DailyAggregate) {
	if s.recorder != nil {
		s.recorder.ObserveAggregate(snapshot)
	}
	s.publish(ws.EventAggregateUpdated, snapshot)
}

func (s *Session) publish(eventType string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(s.cashierID, eventType, payload); err != nil {
		log.Printf("[service] WARN: publish %s for cashier %s: %v", eventType, s.cashierID, err)
	}
}

func (s *Session) cartLocked() domain.Cart {
	lines := append([]domain.CartLine(nil), s.cart...)
	total := decimal.Zero
	count := 0
	for _, line := range lines {
		total = total.Add(line.LineTotal())
		count += line.Quantity
	}
	return domain.Cart{Lines: lines, Total: total, ItemCount: count}
}
