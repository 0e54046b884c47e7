package state

import (
	"sync"
	"time"
)

// Debounce coalesces bursts of triggers into single firings with
// exponential backoff: the first trigger fires after the initial delay,
// repeated triggers double the delay up to the cap, and the delay resets
// to the initial value once triggers stop for one full interval. Used for
// both LSA origination throttling and SPF scheduling (separate instances).
type Debounce struct {
	sched   *Scheduler
	initial time.Duration
	max     time.Duration
	fire    func()

	mu        sync.Mutex
	delay     time.Duration
	pending   bool
	triggered bool
	stopped   bool
	timer     *Timer
}

func NewDebounce(sched *Scheduler, initial, max time.Duration, fire func()) *Debounce {
	return &Debounce{
		sched:   sched,
		initial: initial,
		max:     max,
		fire:    fire,
		delay:   initial,
	}
}

// Trigger requests a firing. Triggers arriving while one is already
// pending are coalesced into it.
func (d *Debounce) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.triggered = true
	if d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = true
	wait := d.delay
	d.delay = min(d.delay*2, d.max)
	d.timer = d.sched.Schedule(wait, d.run)
	d.mu.Unlock()
}

func (d *Debounce) run() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.triggered = false
	quiet := d.delay
	d.mu.Unlock()

	d.fire()

	// if nothing re-triggers within one full interval, back off resets
	d.sched.Schedule(quiet, func() {
		d.mu.Lock()
		if !d.pending && !d.triggered {
			d.delay = d.initial
		}
		d.mu.Unlock()
	})
}

// Stop cancels any pending firing. Used on scope teardown.
func (d *Debounce) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Cancel()
	}
	d.mu.Unlock()
}
