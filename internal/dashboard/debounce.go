package dashboard

import (
	"sync"
	"time"
)

// Debouncer delivers only the last value set within delay of each other.
type Debouncer struct {
	delay time.Duration
	fire  func(string)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending string
	armed   bool
	stopped bool
}

func NewDebouncer(delay time.Duration, fire func(string)) *Debouncer {
	return &Debouncer{delay: delay, fire: fire}
}

// Set replaces the pending value and restarts the window.
func (d *Debouncer) Set(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending = v
	d.armed = true
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped || gen != d.gen || !d.armed {
			d.mu.Unlock()
			return
		}
		d.armed = false
		value := d.pending
		d.mu.Unlock()

		d.fire(value)
	})
}

// Flush delivers the pending value now, if any, and reports whether it did.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || !d.armed {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.armed = false
	value := d.pending
	d.mu.Unlock()

	d.fire(value)
	return true
}

// Stop discards the pending value; later calls to Set are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
