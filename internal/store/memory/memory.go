package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/invoice"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	barcodes         map[string]string
	customers        []domain.CustomerRef
	invoicesByID     map[string]*domain.Invoice
	invoiceNumbers   map[string]string
	returnsByID      map[string]domain.ReturnSubmission
	returnsByInvoice map[string][]string
	usersByUsername  map[string]domain.UserAccount
	now              func() time.Time
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// when unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		barcodes:         make(map[string]string),
		invoicesByID:     make(map[string]*domain.Invoice),
		invoiceNumbers:   make(map[string]string),
		returnsByID:      make(map[string]domain.ReturnSubmission),
		returnsByInvoice: make(map[string][]string),
		usersByUsername:  make(map[string]domain.UserAccount),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func NewSeeded() *Store {
	s := New()
	for _, p := range []struct {
		id, barcode, name, price string
	}{
		{"prd-mie", "8991002101234", "Mie Goreng Instan", "3500"},
		{"prd-telur", "8992761123456", "Telur 10 Butir", "26500"},
		{"prd-susu", "8998009010231", "Susu UHT 1L", "18900"},
		{"prd-roti", "8991102205678", "Roti Tawar", "17800"},
		{"prd-kopi", "8992696404441", "Kopi Sachet", "2600"},
		{"prd-gula", "8993093665421", "Gula 1kg", "17400"},
		{"prd-teh", "8992388101015", "Teh Celup", "9800"},
		{"prd-air", "8886008101053", "Air Mineral 600ml", "3900"},
		{"prd-keripik", "8997011930013", "Keripik Singkong", "12800"},
		{"prd-sabun", "8999999036621", "Sabun Mandi", "7400"},
	} {
		s.PutProduct(domain.Product{
			ID:      p.id,
			Barcode: p.barcode,
			Name:    p.name,
			Price:   decimal.RequireFromString(p.price),
			Stock:   120,
			Active:  true,
		})
	}
	for _, c := range []domain.CustomerRef{
		{ID: "cus-budi", Name: "Budi Santoso", Phone: "081234567890"},
		{ID: "cus-siti", Name: "Siti Rahayu", Phone: "085612345678"},
		{ID: "cus-andi", Name: "Andi Wijaya", Phone: "087711223344"},
	} {
		s.PutCustomer(c)
	}
	s.usersByUsername = seedUsers()
	return s
}

// PutProduct inserts or replaces a product by id.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.products[product.ID]; ok {
		delete(s.barcodes, old.Barcode)
	}
	s.products[product.ID] = product
	if product.Barcode != "" {
		s.barcodes[product.Barcode] = product.ID
	}
}

// PutCustomer inserts or replaces a customer by id.
func (s *Store) PutCustomer(customer domain.CustomerRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.customers {
		if s.customers[i].ID == customer.ID {
			s.customers[i] = customer
			return
		}
	}
	s.customers = append(s.customers, customer)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) FindByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.barcodes[barcode]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	product := s.products[id]
	if !product.Active {
		return nil, domain.ErrProductNotFound
	}
	return &product, nil
}

func (s *Store) SearchCustomers(_ context.Context, query string, limit int) ([]domain.CustomerRef, error) {
	if limit < 1 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CustomerRef, 0, limit)
	for _, c := range s.customers {
		if q != "" && !strings.Contains(strings.ToLower(c.Name), q) && !strings.Contains(c.Phone, q) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if filter.CashierID != "" && inv.CashierID != filter.CashierID {
			continue
		}
		if !filter.From.IsZero() && inv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inv.CreatedAt.Before(filter.To) {
			continue
		}
		if !invoice.MatchesClassification(*inv, filter.Classification) {
			continue
		}
		out = append(out, inv.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Invoice) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cloned := inv.Clone()
	return &cloned, nil
}

func (s *Store) CreateInvoice(_ context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if err := store.ValidateDraft(draft); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoiceNumbers[draft.Number]; exists {
		return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrInvalidInvoice, draft.Number)
	}

	inv := domain.Invoice{
		ID:            draft.ID,
		Number:        draft.Number,
		CreatedAt:     draft.CreatedAt,
		CashierID:     draft.CashierID,
		PaymentMethod: draft.PaymentMethod,
		TotalAmount:   draft.TotalAmount,
		PaidAmount:    draft.PaidAmount,
		Items:         make([]domain.LineItem, 0, len(draft.Items)),
	}
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if _, exists := s.invoicesByID[inv.ID]; exists {
		return nil, fmt.Errorf("%w: invoice id %s already used", store.ErrInvalidInvoice, inv.ID)
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	if draft.Customer != nil {
		customer := *draft.Customer
		inv.Customer = &customer
	}
	for _, item := range draft.Items {
		item.ID = xid.New("line")
		item.ReturnedQuantity = 0
		inv.Items = append(inv.Items, item)
		if product, ok := s.products[item.ProductID]; ok {
			product.Stock = max(product.Stock-item.Quantity, 0)
			s.products[item.ProductID] = product
		}
	}

	s.invoicesByID[inv.ID] = &inv
	s.invoiceNumbers[inv.Number] = inv.ID
	created := inv.Clone()
	return &created, nil
}

func (s *Store) RecordPayment(_ context.Context, id string, paid decimal.Decimal) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	if paid.IsNegative() || paid.LessThan(inv.PaidAmount) {
		return nil, fmt.Errorf("%w: paid amount %s is below recorded %s", domain.ErrInvalidPayment, paid, inv.PaidAmount)
	}
	inv.PaidAmount = paid
	updated := inv.Clone()
	return &updated, nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	delete(s.invoiceNumbers, inv.Number)
	delete(s.invoicesByID, id)
	return nil
}

// CreateReturn applies the batch against the stored invoice under the store
// lock, so concurrent sessions cannot over-return a line.
func (s *Store) CreateReturn(_ context.Context, submission domain.ReturnSubmission) (*domain.ReturnReceipt, error) {
	if strings.TrimSpace(submission.InvoiceID) == "" {
		return nil, domain.ErrInvoiceNotFound
	}
	if submission.ReturnID == "" {
		submission.ReturnID = xid.New("ret")
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.returnsByID[submission.ReturnID]; exists {
		return nil, fmt.Errorf("%w: return %s already recorded", domain.ErrValidation, submission.ReturnID)
	}
	stored, ok := s.invoicesByID[submission.InvoiceID]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}

	updated := stored.Clone()
	result, err := invoice.ApplyReturn(&updated, invoice.LinesToRequest(submission.Lines), submission.ReturnID)
	if err != nil {
		return nil, err
	}
	for _, refund := range result.PerLineRefunds {
		line, _ := updated.Line(refund.LineItemID)
		if product, ok := s.products[line.ProductID]; ok {
			product.Stock += refund.Quantity
			s.products[line.ProductID] = product
		}
	}

	*stored = updated
	s.returnsByID[submission.ReturnID] = cloneSubmission(submission)
	s.returnsByInvoice[submission.InvoiceID] = append(s.returnsByInvoice[submission.InvoiceID], submission.ReturnID)

	return &domain.ReturnReceipt{
		ReturnID:     submission.ReturnID,
		InvoiceID:    submission.InvoiceID,
		RefundAmount: result.RefundAmount,
		Invoice:      updated.Clone(),
		CreatedAt:    submission.CreatedAt,
	}, nil
}

// ListReturns returns the recorded batches for an invoice in creation order.
func (s *Store) ListReturns(_ context.Context, invoiceID string) ([]domain.ReturnSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.returnsByInvoice[invoiceID]
	out := make([]domain.ReturnSubmission, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSubmission(s.returnsByID[id]))
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicateUser
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return domain.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSubmission(src domain.ReturnSubmission) domain.ReturnSubmission {
	dup := src
	lines := make([]domain.ReturnLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
