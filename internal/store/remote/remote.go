package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"kasirinaja/terminal/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	// OnBreakerStateChange receives 0 closed, 1 half-open, 2 open.
	OnBreakerStateChange func(name string, state int)
}

// Client talks to the backend API. It never retries: a failed checkout or
// return must be resubmitted explicitly by the cashier.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// passthrough carries a definitive backend answer through the breaker
// without counting it as a failure.
type passthrough struct {
	err error
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	settings := gobreaker.Settings{
		Name:        "backend-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[remote] WARN: circuit breaker %s changed from %s to %s", name, from, to)
			if cfg.OnBreakerStateChange != nil {
				cfg.OnBreakerStateChange(name, int(to))
			}
		},
	}

	return &Client{
		baseURL: base.String(),
		token:   strings.TrimSpace(cfg.Token),
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

func (c *Client) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	q := url.Values{}
	if filter.CashierID != "" {
		q.Set("cashier_id", filter.CashierID)
	}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.Format(time.RFC3339))
	}
	if filter.Classification != "" {
		q.Set("classification", filter.Classification)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out []domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/api/v1/invoices", q, nil, &out, domain.ErrInvoiceNotFound, domain.ErrValidation); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var out domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/api/v1/invoices/"+url.PathEscape(id), nil, nil, &out, domain.ErrInvoiceNotFound, domain.ErrValidation); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	payload := domain.Invoice{
		ID:            draft.ID,
		Number:        draft.Number,
		CreatedAt:     draft.CreatedAt,
		CashierID:     draft.CashierID,
		Customer:      draft.Customer,
		PaymentMethod: draft.PaymentMethod,
		TotalAmount:   draft.TotalAmount,
		PaidAmount:    draft.PaidAmount,
		Items:         draft.Items,
	}
	var out domain.Invoice
	if err := c.do(ctx, http.MethodPost, "/api/v1/invoices", nil, payload, &out, domain.ErrNotFound, domain.ErrValidation); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecordPayment(ctx context.Context, id string, paid decimal.Decimal) (*domain.Invoice, error) {
	var out domain.Invoice
	path := "/api/v1/invoices/" + url.PathEscape(id) + "/payments"
	if err := c.do(ctx, http.MethodPost, path, nil, domain.PaymentRequest{PaidAmount: paid}, &out, domain.ErrInvoiceNotFound, domain.ErrInvalidPayment); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteInvoice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/invoices/"+url.PathEscape(id), nil, nil, nil, domain.ErrInvoiceNotFound, domain.ErrValidation)
}

// CreateReturn maps a backend rejection to ErrInvalidReturnQuantity, which
// is how a stale local read of returned quantities surfaces.
func (c *Client) CreateReturn(ctx context.Context, submission domain.ReturnSubmission) (*domain.ReturnReceipt, error) {
	var out domain.ReturnReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/returns", nil, submission, &out, domain.ErrInvoiceNotFound, domain.ErrInvalidReturnQuantity); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var out domain.Product
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/barcode/"+url.PathEscape(barcode), nil, nil, &out, domain.ErrProductNotFound, domain.ErrInvalidBarcode); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, nil, &out, domain.ErrNotFound, domain.ErrValidation); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.CustomerRef, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.CustomerRef
	if err := c.do(ctx, http.MethodGet, "/api/v1/customers", q, nil, &out, domain.ErrNotFound, domain.ErrValidation); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, out any, notFound error, rejected error) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		callErr := c.roundTrip(ctx, method, path, query, body, out, notFound, rejected)
		if callErr != nil && !errors.Is(callErr, domain.ErrNetwork) {
			return passthrough{err: callErr}, nil
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	if err != nil {
		return err
	}
	if p, ok := result.(passthrough); ok {
		return p.err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method string, path string, query url.Values, body any, out any, notFound error, rejected error) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readErrorMessage(resp.Body)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", notFound, message)
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", rejected, message)
		default:
			return fmt.Errorf("%w: %s %s returned %d", domain.ErrNetwork, method, path, resp.StatusCode)
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrNetwork, path, err)
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "request rejected"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
