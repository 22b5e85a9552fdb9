package aggregate

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/debounce"
	"kasirinaja/terminal/internal/domain"
)

const (
	DefaultRolloverRebuildDelay = 2 * time.Second
	DefaultRefreshInterval      = 5 * time.Minute

	timerRefreshTimeout = 30 * time.Second
	maxRefreshAttempts  = 3
	dayLayout           = "2006-01-02"
)

// InvoiceLister is the slice of the invoice store the engine needs to rebuild.
type InvoiceLister interface {
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
}

type Options struct {
	CashierID string
	Lister    InvoiceLister
	Location  *time.Location
	Now       func() time.Time
	AfterFunc debounce.AfterFunc

	// RolloverRebuildDelay is how long after midnight the engine refetches,
	// catching invoices stamped right at the boundary.
	RolloverRebuildDelay time.Duration
	// RefreshInterval drives periodic reconciliation; zero disables it.
	RefreshInterval time.Duration
}

// Engine keeps one cashier's running total for the current local day.
type Engine struct {
	mu sync.Mutex

	cashierID       string
	lister          InvoiceLister
	loc             *time.Location
	now             func() time.Time
	after           debounce.AfterFunc
	rebuildDelay    time.Duration
	refreshInterval time.Duration

	day          string
	total        decimal.Decimal
	invoiceCount int
	itemCount    int
	invoices     []domain.Invoice
	updatedAt    time.Time

	// gen counts incremental changes. Sales recorded while a refresh runs
	// are kept in recentSales until the last refresh finishes.
	gen         uint64
	refreshing  int
	recentSales []domain.Invoice

	midnightTimer debounce.Timer
	rebuildTimer  debounce.Timer
	periodicTimer debounce.Timer
	started       bool
	closed        bool

	nextObserverID int
	observers      map[int]func(domain.DailyAggregate)
}

func New(opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	after := opts.AfterFunc
	if after == nil {
		after = debounce.System
	}
	rebuildDelay := opts.RolloverRebuildDelay
	if rebuildDelay <= 0 {
		rebuildDelay = DefaultRolloverRebuildDelay
	}
	refreshInterval := opts.RefreshInterval
	if refreshInterval < 0 {
		refreshInterval = 0
	}

	e := &Engine{
		cashierID:       opts.CashierID,
		lister:          opts.Lister,
		loc:             loc,
		now:             now,
		after:           after,
		rebuildDelay:    rebuildDelay,
		refreshInterval: refreshInterval,
		total:           decimal.Zero,
		observers:       map[int]func(domain.DailyAggregate){},
	}
	e.day = e.dayKey(now())
	return e
}

func (e *Engine) CashierID() string {
	return e.cashierID
}

// Start arms the midnight and reconciliation timers and performs the initial
// rebuild. Timers stay armed even when the initial rebuild fails.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed || e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.armMidnightLocked()
	e.armPeriodicLocked()
	e.mu.Unlock()

	return e.Refresh(ctx)
}

// Close stops every timer. A closed engine ignores further timer callbacks.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for _, t := range []debounce.Timer{e.midnightTimer, e.rebuildTimer, e.periodicTimer} {
		if t != nil {
			t.Stop()
		}
	}
	e.midnightTimer = nil
	e.rebuildTimer = nil
	e.periodicTimer = nil
}

// Refresh lists today's invoices for the cashier and rebuilds from them.
// A listing that overlapped an incremental change is repeated, and sales
// recorded since the refresh began are merged back when the store did not
// return them yet.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.lister == nil {
		return nil
	}

	e.mu.Lock()
	e.refreshing++
	mark := len(e.recentSales)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.refreshing--
		if e.refreshing == 0 {
			e.recentSales = nil
		}
		e.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		e.mu.Lock()
		gen := e.gen
		e.mu.Unlock()

		start, end := e.dayBounds(e.now())
		invoices, err := e.lister.ListInvoices(ctx, domain.InvoiceFilter{
			CashierID: e.cashierID,
			From:      start,
			To:        end,
		})
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.gen != gen && attempt < maxRefreshAttempts {
			e.mu.Unlock()
			continue
		}
		e.rebuildLocked(mergeMissing(invoices, e.recentSales[mark:]))
		snapshot, observers := e.snapshotLocked(), e.observerListLocked()
		e.mu.Unlock()

		notify(observers, snapshot)
		return nil
	}
}

// Rebuild replaces the state with a fold over invoices, keeping only the
// tracked cashier's invoices created today.
func (e *Engine) Rebuild(invoices []domain.Invoice) {
	e.mu.Lock()
	e.rebuildLocked(invoices)
	snapshot, observers := e.snapshotLocked(), e.observerListLocked()
	e.mu.Unlock()

	notify(observers, snapshot)
}

func (e *Engine) rebuildLocked(invoices []domain.Invoice) {
	now := e.now()
	e.day = e.dayKey(now)
	start, end := e.dayBounds(now)

	seen := make(map[string]struct{}, len(invoices))
	kept := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.CashierID != e.cashierID || !inDay(inv.CreatedAt, start, end) {
			continue
		}
		if _, ok := seen[inv.ID]; ok {
			continue
		}
		seen[inv.ID] = struct{}{}
		kept = append(kept, inv.Clone())
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})

	e.invoices = kept
	e.invoiceCount = len(kept)
	e.refoldLocked()
	e.updatedAt = now
}

// OnNewSale adds a freshly created invoice. It reports false when the
// invoice belongs to another cashier or day, or is already tracked.
func (e *Engine) OnNewSale(inv domain.Invoice) bool {
	e.mu.Lock()
	now := e.now()
	e.rollIfStaleLocked(now)
	start, end := e.dayBounds(now)

	if inv.CashierID != e.cashierID || !inDay(inv.CreatedAt, start, end) || e.indexOfLocked(inv.ID) >= 0 {
		e.mu.Unlock()
		return false
	}

	tracked := inv.Clone()
	e.gen++
	if e.refreshing > 0 {
		e.recentSales = append(e.recentSales, tracked.Clone())
	}
	e.invoices = append([]domain.Invoice{tracked}, e.invoices...)
	e.invoiceCount++
	e.total = e.total.Add(tracked.EffectiveTotal())
	e.itemCount += tracked.EffectiveItemCount()
	e.updatedAt = now
	snapshot, observers := e.snapshotLocked(), e.observerListLocked()
	e.mu.Unlock()

	notify(observers, snapshot)
	return true
}

// OnNewReturn applies returned quantities to a tracked invoice and refolds.
// Unknown invoices are ignored.
func (e *Engine) OnNewReturn(ev domain.ReturnEvent) bool {
	e.mu.Lock()
	now := e.now()
	e.rollIfStaleLocked(now)

	idx := e.indexOfLocked(ev.InvoiceID)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}

	inv := &e.invoices[idx]
	for i := range inv.Items {
		item := &inv.Items[i]
		qty := ev.Lines[item.ID]
		if qty <= 0 {
			continue
		}
		item.ReturnedQuantity += qty
		if item.ReturnedQuantity > item.Quantity {
			item.ReturnedQuantity = item.Quantity
		}
	}
	e.gen++
	e.refoldLocked()
	e.updatedAt = now
	snapshot, observers := e.snapshotLocked(), e.observerListLocked()
	e.mu.Unlock()

	notify(observers, snapshot)
	return true
}

func (e *Engine) Snapshot() domain.DailyAggregate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for a snapshot after every change and returns a
// function that removes it.
func (e *Engine) Subscribe(fn func(domain.DailyAggregate)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextObserverID
	e.nextObserverID++
	e.observers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) rollover() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	now := e.now()
	e.resetLocked(now)
	e.midnightTimer = nil
	if e.rebuildTimer != nil {
		e.rebuildTimer.Stop()
	}
	e.rebuildTimer = e.after(e.rebuildDelay, e.refreshFromTimer)
	e.armMidnightLocked()
	snapshot, observers := e.snapshotLocked(), e.observerListLocked()
	e.mu.Unlock()

	log.Printf("[aggregate] cashier %s rolled over to %s", e.cashierID, snapshot.Day)
	notify(observers, snapshot)
}

func (e *Engine) periodic() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.periodicTimer = nil
	e.armPeriodicLocked()
	e.mu.Unlock()

	e.refreshFromTimer()
}

func (e *Engine) refreshFromTimer() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerRefreshTimeout)
	defer cancel()
	if err := e.Refresh(ctx); err != nil {
		log.Printf("[aggregate] WARN: refresh for cashier %s failed: %v", e.cashierID, err)
	}
}

func (e *Engine) armMidnightLocked() {
	now := e.now()
	y, m, d := now.In(e.loc).Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, e.loc)
	e.midnightTimer = e.after(next.Sub(now), e.rollover)
}

func (e *Engine) armPeriodicLocked() {
	if e.refreshInterval <= 0 {
		return
	}
	e.periodicTimer = e.after(e.refreshInterval, e.periodic)
}

// rollIfStaleLocked covers a midnight that passed while the timer could not
// fire, such as a suspended host.
func (e *Engine) rollIfStaleLocked(now time.Time) {
	if e.dayKey(now) != e.day {
		e.resetLocked(now)
	}
}

func (e *Engine) resetLocked(now time.Time) {
	e.day = e.dayKey(now)
	e.total = decimal.Zero
	e.invoiceCount = 0
	e.itemCount = 0
	e.invoices = nil
	e.updatedAt = now
}

func (e *Engine) refoldLocked() {
	total := decimal.Zero
	items := 0
	for _, inv := range e.invoices {
		total = total.Add(inv.EffectiveTotal())
		items += inv.EffectiveItemCount()
	}
	e.total = total
	e.itemCount = items
}

func (e *Engine) indexOfLocked(invoiceID string) int {
	for i := range e.invoices {
		if e.invoices[i].ID == invoiceID {
			return i
		}
	}
	return -1
}

func (e *Engine) snapshotLocked() domain.DailyAggregate {
	invoices := make([]domain.Invoice, 0, len(e.invoices))
	for _, inv := range e.invoices {
		invoices = append(invoices, inv.Clone())
	}
	return domain.DailyAggregate{
		CashierID:    e.cashierID,
		Day:          e.day,
		Total:        e.total,
		InvoiceCount: e.invoiceCount,
		ItemCount:    e.itemCount,
		Invoices:     invoices,
		UpdatedAt:    e.updatedAt,
	}
}

func (e *Engine) observerListLocked() []func(domain.DailyAggregate) {
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(domain.DailyAggregate), 0, len(ids))
	for _, id := range ids {
		out = append(out, e.observers[id])
	}
	return out
}

func (e *Engine) dayKey(t time.Time) string {
	return t.In(e.loc).Format(dayLayout)
}

// dayBounds returns [start of day, start of next day) in the engine's location.
func (e *Engine) dayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.In(e.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, e.loc)
}

// mergeMissing appends the sales a listing did not contain yet.
func mergeMissing(listed []domain.Invoice, recent []domain.Invoice) []domain.Invoice {
	if len(recent) == 0 {
		return listed
	}
	listed = append([]domain.Invoice(nil), listed...)
	present := make(map[string]struct{}, len(listed))
	for _, inv := range listed {
		present[inv.ID] = struct{}{}
	}
	for _, inv := range recent {
		if _, ok := present[inv.ID]; !ok {
			listed = append(listed, inv)
			present[inv.ID] = struct{}{}
		}
	}
	return listed
}

func inDay(t time.Time, start time.Time, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func notify(observers []func(domain.DailyAggregate), snapshot domain.DailyAggregate) {
	for _, fn := range observers {
		fn(snapshot)
	}
}
