package watch

import (
	"sync"
	"time"
)

// Debouncer rate-limits a callback to at most one call per interval. The
// first trigger fires immediately; triggers arriving inside the window are
// collapsed into a single call when the window closes.
type Debouncer struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	// Serializes fn between the caller and the timer goroutine.
	fnMu sync.Mutex
}

// NewDebouncer creates a debouncer calling fn.
func NewDebouncer(interval time.Duration, fn func()) *Debouncer {
	return &Debouncer{interval: interval, fn: fn}
}

// Trigger records an event.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
	d.mu.Unlock()

	d.call()
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = time.AfterFunc(d.interval, d.flush)
	d.mu.Unlock()

	d.call()
}

func (d *Debouncer) call() {
	d.fnMu.Lock()
	defer d.fnMu.Unlock()
	d.fn()
}

// Stop cancels any pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
