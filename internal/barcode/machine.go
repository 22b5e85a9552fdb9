package barcode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"kasirinaja/terminal/internal/debounce"
	"kasirinaja/terminal/internal/domain"
)

type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateFailed   State = "failed"
	StateLocked   State = "locked"
)

// Mode decides where a resolved product goes.
type Mode string

const (
	ModeSale   Mode = "sale"
	ModeReturn Mode = "return"
)

const (
	DefaultTargetLength  = 13
	DefaultSettleDelay   = 40 * time.Millisecond
	DefaultMaxFailures   = 3
	DefaultLookupTimeout = 5 * time.Second

	minDigits = 8
	maxDigits = 20
)

// ErrSuperseded is returned to a resolution whose input was replaced before
// it finished.
var ErrSuperseded = errors.New("barcode input superseded")

type Lookup interface {
	FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
}

// Index is the local product table consulted before Lookup.
type Index interface {
	Lookup(barcode string) (domain.Product, bool)
	Put(p domain.Product)
}

type Config struct {
	TargetLength  int
	SettleDelay   time.Duration
	MaxFailures   int
	AutoSubmit    bool
	LookupTimeout time.Duration
	AfterFunc     debounce.AfterFunc
}

// Outcome is delivered to the handler after every resolution that was not
// superseded.
type Outcome struct {
	Barcode     string          `json:"barcode"`
	Mode        Mode            `json:"mode"`
	State       State           `json:"state"`
	Product     *domain.Product `json:"product,omitempty"`
	Err         error           `json:"-"`
	OfferCreate bool            `json:"offer_create"`
	Failures    int             `json:"failures"`
}

type Machine struct {
	mu sync.Mutex

	cfg     Config
	index   Index
	lookup  Lookup
	handler func(Outcome)
	settle  *debounce.Debouncer

	state      State
	mode       Mode
	value      string
	gen        uint64
	failures   int
	failed     map[string]struct{}
	lastFailed string
}

func New(cfg Config, index Index, lookup Lookup, handler func(Outcome)) *Machine {
	if cfg.TargetLength <= 0 {
		cfg.TargetLength = DefaultTargetLength
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if handler == nil {
		handler = func(Outcome) {}
	}
	return &Machine{
		cfg:     cfg,
		index:   index,
		lookup:  lookup,
		handler: handler,
		settle:  debounce.New(cfg.SettleDelay, cfg.AfterFunc),
		state:   StateIdle,
		mode:    ModeSale,
		failed:  make(map[string]struct{}),
	}
}

// Clean strips every non-digit and checks the 8-20 digit length rule.
func Clean(raw string) (string, error) {
	digits := digitsOnly(raw)
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %d digits after cleaning", domain.ErrInvalidBarcode, len(digits))
	}
	return digits, nil
}

// Input records the latest raw value from the keyboard or scanner wedge.
// Any pending resolution is superseded.
func (m *Machine) Input(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.value = raw
	gen := m.supersedeLocked()

	cleaned := digitsOnly(raw)
	complete := len(cleaned) == m.cfg.TargetLength
	if m.state == StateLocked && complete && !m.hasFailedLocked(cleaned) {
		m.unlockLocked()
	}

	if !m.cfg.AutoSubmit || !complete || m.state == StateLocked || cleaned == m.lastFailed {
		m.settle.Cancel()
		return
	}
	m.settle.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LookupTimeout)
		defer cancel()
		if _, err := m.resolve(ctx, gen, raw); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[barcode] WARN: auto-submit of %q failed: %v", raw, err)
		}
	})
}

// Submit resolves the current value on an explicit cashier action.
func (m *Machine) Submit(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	m.settle.Cancel()
	gen, raw := m.supersedeLocked(), m.value
	m.mu.Unlock()

	return m.resolve(ctx, gen, raw)
}

// Decoded feeds a camera or image decoder result through the same path as
// manual entry.
func (m *Machine) Decoded(ctx context.Context, raw string) (Outcome, error) {
	m.mu.Lock()
	m.settle.Cancel()
	m.value = raw
	gen := m.supersedeLocked()
	m.mu.Unlock()

	return m.resolve(ctx, gen, raw)
}

func (m *Machine) resolve(ctx context.Context, gen uint64, raw string) (Outcome, error) {
	cleaned, err := Clean(raw)
	if err != nil {
		return Outcome{}, err
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return Outcome{}, ErrSuperseded
	}
	if m.state == StateLocked {
		if m.hasFailedLocked(cleaned) {
			m.mu.Unlock()
			return Outcome{}, fmt.Errorf("%w: %d failed lookups, enter a different barcode", domain.ErrRetryLimitExceeded, m.failures)
		}
		m.unlockLocked()
	}
	m.state = StatePending
	mode := m.mode
	m.mu.Unlock()

	product, lookupErr := m.find(ctx, cleaned)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return Outcome{}, ErrSuperseded
	}
	outcome := Outcome{Barcode: cleaned, Mode: mode}
	if lookupErr == nil {
		m.state = StateResolved
		m.failures = 0
		m.lastFailed = ""
		clear(m.failed)
		outcome.Product = product
	} else {
		m.failures++
		m.failed[cleaned] = struct{}{}
		m.lastFailed = cleaned
		m.state = StateFailed
		if m.failures >= m.cfg.MaxFailures {
			m.state = StateLocked
		}
		outcome.Err = lookupErr
		outcome.OfferCreate = errors.Is(lookupErr, domain.ErrNotFound)
	}
	outcome.State = m.state
	outcome.Failures = m.failures
	m.mu.Unlock()

	if product != nil && m.index != nil {
		m.index.Put(*product)
	}
	m.handler(outcome)
	return outcome, lookupErr
}

func (m *Machine) find(ctx context.Context, cleaned string) (*domain.Product, error) {
	if m.index != nil {
		if p, ok := m.index.Lookup(cleaned); ok {
			return &p, nil
		}
	}
	if m.lookup == nil {
		return nil, domain.ErrProductNotFound
	}
	p, err := m.lookup.FindByBarcode(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

func (m *Machine) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *Machine) Value() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Close drops any pending auto-submit.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle.Cancel()
	m.supersedeLocked()
}

// supersedeLocked invalidates any resolution in flight. A pending state
// belongs to that resolution, so it drops back to idle.
func (m *Machine) supersedeLocked() uint64 {
	m.gen++
	if m.state == StatePending {
		m.state = StateIdle
	}
	return m.gen
}

func (m *Machine) hasFailedLocked(cleaned string) bool {
	_, ok := m.failed[cleaned]
	return ok
}

func (m *Machine) unlockLocked() {
	m.state = StateIdle
	m.failures = 0
	m.lastFailed = ""
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
