package collaboration

import (
	"sync"
	"time"
)

// Debouncer is a single-slot deferred task: at most one run of fn is
// scheduled at a time, and each Trigger pushes it back by the full window.
// A generation counter makes Cancel and Flush race-free against a timer
// that is firing concurrently: whoever clears the slot first owns the run.
type Debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64

	runMu sync.Mutex // serializes executions of fn
}

func NewDebouncer(wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

// Trigger cancels any scheduled run and schedules a new one after the window
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.timer == nil || d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.run()
}

// Cancel drops the scheduled run, reporting whether one was pending
func (d *Debouncer) Cancel() bool {
	_, ok := d.claim()
	return ok
}

// Flush runs the pending task inline, right now. It reports false and does
// nothing when no run was pending.
func (d *Debouncer) Flush() bool {
	if _, ok := d.claim(); !ok {
		return false
	}
	d.run()
	return true
}

// Pending reports whether a run is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) claim() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return 0, false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return d.gen, true
}

func (d *Debouncer) run() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.fn()
}
