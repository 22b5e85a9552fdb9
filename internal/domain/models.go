package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID      string          `json:"id"`
	Barcode string          `json:"barcode"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Stock   int             `json:"stock"`
	Active  bool            `json:"active"`
}

type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type CartLine struct {
	ProductID string          `json:"product_id"`
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (c CartLine) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

type Cart struct {
	Lines     []CartLine      `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

type Invoice struct {
	ID            string          `json:"id"`
	Number        string          `json:"invoice_number"`
	CreatedAt     time.Time       `json:"created_at"`
	CashierID     string          `json:"cashier_id"`
	Customer      *CustomerRef    `json:"customer,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Items         []LineItem      `json:"items"`
}

type LineItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReturnedQuantity int             `json:"returned_quantity"`
}

// InvoiceDraft is what checkout hands to the invoice store. The store assigns
// line item ids and may assign the invoice id.
type InvoiceDraft struct {
	ID            string
	Number        string
	CreatedAt     time.Time
	CashierID     string
	Customer      *CustomerRef
	PaymentMethod string
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
	Items         []LineItem
}

type InvoiceFilter struct {
	CashierID      string
	From           time.Time
	To             time.Time
	Classification string
	Limit          int
}

// InvoiceView carries the derived fields next to the invoice for callers
// that render or filter; they are recomputed on every read.
type InvoiceView struct {
	Invoice
	Status          string          `json:"status"`
	Classification  string          `json:"classification"`
	EffectiveTotal  decimal.Decimal `json:"effective_total"`
	EffectiveItems  int             `json:"effective_items"`
	CustomerDisplay string          `json:"customer_display"`
}

type ReturnRequest struct {
	InvoiceID string         `json:"invoice_id"`
	Lines     map[string]int `json:"lines"`
	Reason    string         `json:"reason,omitempty"`
}

type LineRefund struct {
	LineItemID string          `json:"line_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Amount     decimal.Decimal `json:"amount"`
}

type ReturnResult struct {
	ReturnID                 string          `json:"return_id"`
	InvoiceID                string          `json:"invoice_id"`
	RefundAmount             decimal.Decimal `json:"refund_amount"`
	PerLineRefunds           []LineRefund    `json:"per_line_refunds"`
	NewInvoiceEffectiveTotal decimal.Decimal `json:"new_invoice_effective_total"`
	Classification           string          `json:"classification"`
}

type ReturnLine struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
}

type ReturnSubmission struct {
	ReturnID  string       `json:"return_id"`
	InvoiceID string       `json:"invoice_id"`
	CashierID string       `json:"cashier_id"`
	Reason    string       `json:"reason,omitempty"`
	Lines     []ReturnLine `json:"lines"`
	CreatedAt time.Time    `json:"created_at"`
}

type ReturnReceipt struct {
	ReturnID     string          `json:"return_id"`
	InvoiceID    string          `json:"invoice_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Invoice      Invoice         `json:"invoice"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ReturnEvent is what the daily aggregate consumes: the quantities returned
// in one batch, keyed by line item id.
type ReturnEvent struct {
	ReturnID  string
	InvoiceID string
	Lines     map[string]int
}

type DailyAggregate struct {
	CashierID    string          `json:"cashier_id"`
	Day          string          `json:"day"`
	Total        decimal.Decimal `json:"total"`
	InvoiceCount int             `json:"invoice_count"`
	ItemCount    int             `json:"item_count"`
	Invoices     []Invoice       `json:"invoices"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CheckoutRequest struct {
	Customer      *CustomerRef     `json:"customer,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	Formal        bool             `json:"formal"`
	DownPayment   *decimal.Decimal `json:"down_payment,omitempty"`
}

type PaymentRequest struct {
	PaidAmount decimal.Decimal `json:"paid_amount"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	CashierID   string `json:"cashier_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type Receipt struct {
	InvoiceID    string `json:"invoice_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

const WalkInCustomer = "walk-in customer"

const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	NonReturned       = "nonReturned"
	PartiallyReturned = "partiallyReturned"
	FullyReturned     = "fullyReturned"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodQRIS     = "qris"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCredit   = "credit"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodQRIS, PaymentMethodTransfer, PaymentMethodCredit:
		return true
	default:
		return false
	}
}

// IsDeferredPaymentMethod reports whether invoices paid with method start
// below their total and get settled later via RecordPayment.
func IsDeferredPaymentMethod(method string) bool {
	return method == PaymentMethodCredit
}
