package debounce

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through System.
type AfterFunc func(d time.Duration, f func()) Timer

func System(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs only the last function passed to Trigger, once the delay has
// elapsed without another Trigger.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	after AfterFunc
	timer Timer
	gen   uint64
}

func New(delay time.Duration, after AfterFunc) *Debouncer {
	if after == nil {
		after = System
	}
	return &Debouncer{delay: delay, after: after}
}

func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.delay, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		f()
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
