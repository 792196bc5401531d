// Package debounce coalesces bursts of events into a single call.
package debounce

import (
	"sync"
	"time"
)

var (
	afterFunc = time.AfterFunc
	now       = time.Now
)

// Debouncer runs fn once Trigger has not been called for delay. With a positive maxWait,
// fn also runs when maxWait has passed since the first Trigger of a burst.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	maxWait time.Duration
	fn      func()

	timer *time.Timer
	gen   uint64
	start time.Time // first Trigger of the pending burst
}

func New(delay, maxWait time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, maxWait: maxWait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := now()
	if d.timer == nil {
		d.start = t
	} else {
		d.timer.Stop()
	}
	wait := d.delay
	if d.maxWait > 0 {
		if left := d.start.Add(d.maxWait).Sub(t); left < wait {
			wait = max(left, 0)
		}
	}
	d.gen++
	gen := d.gen
	d.timer = afterFunc(wait, func() { d.fire(gen) })
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// fire drops callbacks of timers that were superseded or stopped before they ran.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Stop drops the pending call, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
