package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

var (
	ErrInvalidInvoice = fmt.Errorf("%w: invalid invoice", domain.ErrValidation)
	ErrDuplicateUser  = errors.New("user already exists")
)

// InvoiceStore persists invoices. Filter.To is exclusive.
type InvoiceStore interface {
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, id string, paid decimal.Decimal) (*domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
}

// ReturnStore records return batches. Implementations enforce
// returned <= quantity against their own state, so a stale client read
// surfaces as domain.ErrInvalidReturnQuantity.
type ReturnStore interface {
	CreateReturn(ctx context.Context, submission domain.ReturnSubmission) (*domain.ReturnReceipt, error)
}

type ProductLookup interface {
	FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type CustomerDirectory interface {
	SearchCustomers(ctx context.Context, query string, limit int) ([]domain.CustomerRef, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Repository is everything a terminal session talks to.
type Repository interface {
	InvoiceStore
	ReturnStore
	ProductLookup
	CustomerDirectory
}

// ValidateDraft checks a checkout draft before any adapter writes it.
func ValidateDraft(draft domain.InvoiceDraft) error {
	if strings.TrimSpace(draft.CashierID) == "" || strings.TrimSpace(draft.Number) == "" {
		return fmt.Errorf("%w: cashier and invoice number are required", ErrInvalidInvoice)
	}
	if len(draft.Items) == 0 {
		return domain.ErrEmptyCart
	}
	for _, item := range draft.Items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %s", domain.ErrInvalidQuantity, item.ProductID)
		}
	}
	if !draft.TotalAmount.Equal(domain.SumLines(draft.Items)) {
		return fmt.Errorf("%w: total %s does not match lines", ErrInvalidInvoice, draft.TotalAmount)
	}
	if draft.PaidAmount.IsNegative() || draft.PaidAmount.GreaterThan(draft.TotalAmount) {
		return fmt.Errorf("%w: paid amount %s", domain.ErrInvalidPayment, draft.PaidAmount)
	}
	return nil
}
