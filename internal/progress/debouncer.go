package progress

import (
	"sync"
	"time"

	"github.com/civiclab/quiz-arena/internal/clock"
)

// DefaultDebounce is the save delay used when none is configured.
const DefaultDebounce = 750 * time.Millisecond

// Debouncer coalesces save requests. The first Trigger arms a timer; later
// triggers ride along until it fires, so a save is never deferred by more
// than the delay.
type Debouncer struct {
	mu      sync.Mutex
	clk     clock.Clock
	delay   time.Duration
	fn      func()
	timer   clock.Timer
	stopped bool
}

// NewDebouncer runs fn at most once per delay window.
func NewDebouncer(clk clock.Clock, delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{clk: clk, delay: delay, fn: fn}
}

// Trigger schedules fn unless a run is already pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = d.clk.AfterFunc(d.delay, d.fire)
}

// Flush runs a pending fn immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := d.timer != nil && d.timer.Stop()
	d.timer = nil
	d.mu.Unlock()
	if pending {
		d.fn()
	}
}

// Stop cancels any pending run and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}
