package query

import (
	"sync"
	"time"
)

// Poller calls tick on a fixed interval between Start and Stop. Ticks never
// overlap; a tick already running when Stop is called finishes on its own.
type Poller struct {
	mu       sync.Mutex
	tick     func()
	interval time.Duration
	stop     chan struct{}
}

func NewPoller(tick func()) *Poller {
	return &Poller{tick: tick}
}

// Start begins polling at interval. Starting a running poller with the same
// interval is a no-op; a different interval restarts it.
func (p *Poller) Start(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		if p.interval == interval {
			return
		}
		close(p.stop)
	}

	p.stop = make(chan struct{})
	p.interval = interval
	go p.run(p.stop, interval)
}

// Stop halts polling. It does not wait for an in-progress tick.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		close(p.stop)
		p.stop = nil
		p.interval = 0
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			p.tick()
		}
	}
}
