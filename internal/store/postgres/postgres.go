package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/invoice"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	barcode TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	price NUMERIC(14,2) NOT NULL CHECK (price >= 0),
	stock INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	cashier_id TEXT NOT NULL,
	customer_id TEXT,
	customer_name TEXT,
	customer_phone TEXT,
	payment_method TEXT NOT NULL,
	total_amount NUMERIC(14,2) NOT NULL,
	paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS invoices_cashier_created_idx ON invoices (cashier_id, created_at DESC);
CREATE TABLE IF NOT EXISTS invoice_items (
	id TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(14,2) NOT NULL,
	returned_quantity INTEGER NOT NULL DEFAULT 0 CHECK (returned_quantity >= 0 AND returned_quantity <= quantity)
);
CREATE TABLE IF NOT EXISTS invoice_returns (
	id TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	cashier_id TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	refund_amount NUMERIC(14,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS invoice_return_lines (
	return_id TEXT NOT NULL REFERENCES invoice_returns(id) ON DELETE CASCADE,
	line_item_id TEXT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0)
);
CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'cashier',
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates the tables the terminal needs when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, barcode, name, price, stock, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Barcode, &p.Name, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, barcode, name, price, stock, active
		FROM products
		WHERE barcode = $1 AND active = true
	`, barcode).Scan(&p.ID, &p.Barcode, &p.Name, &p.Price, &p.Stock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpsertProduct inserts a product or replaces the one with the same id.
func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Barcode) == "" || product.Price.IsNegative() {
		return fmt.Errorf("%w: product id, barcode and price are required", domain.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, barcode, name, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (id)
		DO UPDATE SET barcode = EXCLUDED.barcode, name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, active = EXCLUDED.active, updated_at = now()
	`, product.ID, product.Barcode, product.Name, product.Price, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: barcode %s already used", domain.ErrValidation, product.Barcode)
		}
		return err
	}
	return nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.CustomerRef) error {
	if strings.TrimSpace(customer.ID) == "" || strings.TrimSpace(customer.Name) == "" {
		return fmt.Errorf("%w: customer id and name are required", domain.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone)
		VALUES ($1,$2,$3)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone
	`, customer.ID, customer.Name, customer.Phone)
	return err
}

func (s *Store) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.CustomerRef, error) {
	if limit < 1 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone
		FROM customers
		WHERE name ILIKE $1 OR phone LIKE $1
		ORDER BY name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomerRef, 0, limit)
	for rows.Next() {
		var c domain.CustomerRef
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.CashierID != "" {
		args = append(args, filter.CashierID)
		conditions = append(conditions, fmt.Sprintf("cashier_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `
		SELECT id, number, cashier_id, customer_id, customer_name, customer_phone,
			payment_method, total_amount, paid_amount, created_at
		FROM invoices`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	invoices, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, s.db, invoices, false); err != nil {
		return nil, err
	}

	// classification depends on the line items, so it is filtered after loading
	out := invoices[:0]
	for _, inv := range invoices {
		if !invoice.MatchesClassification(inv, filter.Classification) {
			continue
		}
		out = append(out, inv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.loadInvoice(ctx, s.db, id, false)
}

func (s *Store) CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if err := store.ValidateDraft(draft); err != nil {
		return nil, err
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
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if draft.Customer != nil {
		customer := *draft.Customer
		inv.Customer = &customer
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var customerID, customerName, customerPhone any
	if inv.Customer != nil {
		customerID = nullIfEmpty(inv.Customer.ID)
		customerName = inv.Customer.Name
		customerPhone = nullIfEmpty(inv.Customer.Phone)
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, number, cashier_id, customer_id, customer_name, customer_phone,
			payment_method, total_amount, paid_amount, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inv.ID, inv.Number, inv.CashierID, customerID, customerName, customerPhone,
		inv.PaymentMethod, inv.TotalAmount, inv.PaidAmount, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice %s already exists", store.ErrInvalidInvoice, inv.Number)
		}
		return nil, err
	}

	for position, item := range draft.Items {
		item.ID = xid.New("line")
		item.ReturnedQuantity = 0
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, position, product_id, product_name, quantity, unit_price, returned_quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,0)
		`, item.ID, inv.ID, position, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = GREATEST(stock - $2, 0), updated_at = now()
			WHERE id = $1
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, item)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) RecordPayment(ctx context.Context, id string, paid decimal.Decimal) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var current decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT paid_amount
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if paid.IsNegative() || paid.LessThan(current) {
		return nil, fmt.Errorf("%w: paid amount %s is below recorded %s", domain.ErrInvalidPayment, paid, current)
	}

	if _, err := pgTx.ExecContext(ctx, `UPDATE invoices SET paid_amount = $2 WHERE id = $1`, id, paid); err != nil {
		return nil, err
	}
	updated, err := s.loadInvoice(ctx, pgTx, id, false)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

// CreateReturn locks the invoice rows and applies the batch against what is
// stored, so a concurrent terminal cannot push returned past quantity. A
// serialization failure means another return won the race for the same
// lines and is reported as an over-return.
func (s *Store) CreateReturn(ctx context.Context, submission domain.ReturnSubmission) (*domain.ReturnReceipt, error) {
	receipt, err := s.createReturn(ctx, submission)
	if err != nil {
		return nil, overReturnOnConflict(err)
	}
	return receipt, nil
}

func (s *Store) createReturn(ctx context.Context, submission domain.ReturnSubmission) (*domain.ReturnReceipt, error) {
	if strings.TrimSpace(submission.InvoiceID) == "" {
		return nil, domain.ErrInvoiceNotFound
	}
	if submission.ReturnID == "" {
		submission.ReturnID = xid.New("ret")
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	stored, err := s.loadInvoice(ctx, pgTx, submission.InvoiceID, true)
	if err != nil {
		return nil, err
	}
	result, err := invoice.ApplyReturn(stored, invoice.LinesToRequest(submission.Lines), submission.ReturnID)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoice_returns (id, invoice_id, cashier_id, reason, refund_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, submission.ReturnID, submission.InvoiceID, submission.CashierID, submission.Reason, result.RefundAmount, submission.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: return %s already recorded", domain.ErrValidation, submission.ReturnID)
		}
		return nil, err
	}

	for _, refund := range result.PerLineRefunds {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO invoice_return_lines (return_id, line_item_id, quantity)
			VALUES ($1,$2,$3)
		`, submission.ReturnID, refund.LineItemID, refund.Quantity)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE invoice_items
			SET returned_quantity = returned_quantity + $2
			WHERE id = $1
		`, refund.LineItemID, refund.Quantity)
		if err != nil {
			return nil, err
		}
		line, _ := stored.Line(refund.LineItemID)
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
		`, line.ProductID, refund.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.ReturnReceipt{
		ReturnID:     submission.ReturnID,
		InvoiceID:    submission.InvoiceID,
		RefundAmount: result.RefundAmount,
		Invoice:      stored.Clone(),
		CreatedAt:    submission.CreatedAt,
	}, nil
}

// ListReturns returns the recorded batches for an invoice in creation order.
func (s *Store) ListReturns(ctx context.Context, invoiceID string) ([]domain.ReturnSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.cashier_id, r.reason, r.created_at, l.line_item_id, l.quantity
		FROM invoice_returns r
		JOIN invoice_return_lines l ON l.return_id = r.id
		WHERE r.invoice_id = $1
		ORDER BY r.created_at ASC, r.id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ReturnSubmission, 0, 4)
	for rows.Next() {
		var (
			returnID, cashierID, reason string
			createdAt                   time.Time
			line                        domain.ReturnLine
		)
		if err := rows.Scan(&returnID, &cashierID, &reason, &createdAt, &line.LineItemID, &line.Quantity); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ReturnID != returnID {
			out = append(out, domain.ReturnSubmission{
				ReturnID:  returnID,
				InvoiceID: invoiceID,
				CashierID: cashierID,
				Reason:    reason,
				CreatedAt: createdAt.UTC(),
			})
		}
		last := &out[len(out)-1]
		last.Lines = append(last.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) loadInvoice(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Invoice, error) {
	query := `
		SELECT id, number, cashier_id, customer_id, customer_name, customer_phone,
			payment_method, total_amount, paid_amount, created_at
		FROM invoices
		WHERE id = $1`
	if forUpdate {
		query += "\n\t\tFOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	invoices, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	if err := s.attachItems(ctx, q, invoices, forUpdate); err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func (s *Store) attachItems(ctx context.Context, q queryer, invoices []domain.Invoice, forUpdate bool) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, 0, len(invoices))
	index := make(map[string]int, len(invoices))
	for i, inv := range invoices {
		ids = append(ids, inv.ID)
		index[inv.ID] = i
	}

	query := `
		SELECT id, invoice_id, product_id, product_name, quantity, unit_price, returned_quantity
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position ASC`
	if forUpdate {
		query += "\n\t\tFOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.LineItem
		var invoiceID string
		if err := rows.Scan(&item.ID, &invoiceID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.ReturnedQuantity); err != nil {
			return err
		}
		i := index[invoiceID]
		invoices[i].Items = append(invoices[i].Items, item)
	}
	return rows.Err()
}

func scanInvoices(rows *sql.Rows) ([]domain.Invoice, error) {
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 16)
	for rows.Next() {
		var inv domain.Invoice
		var customerID, customerName, customerPhone sql.NullString
		err := rows.Scan(
			&inv.ID,
			&inv.Number,
			&inv.CashierID,
			&customerID,
			&customerName,
			&customerPhone,
			&inv.PaymentMethod,
			&inv.TotalAmount,
			&inv.PaidAmount,
			&inv.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if customerID.Valid || customerName.Valid || customerPhone.Valid {
			inv.Customer = &domain.CustomerRef{
				ID:    customerID.String,
				Name:  customerName.String,
				Phone: customerPhone.String,
			}
		}
		inv.CreatedAt = inv.CreatedAt.UTC()
		inv.Items = make([]domain.LineItem, 0, 4)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func overReturnOnConflict(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: concurrent return on the same invoice: %v", domain.ErrInvalidReturnQuantity, err)
	}
	return err
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
