package engine

import "time"

// DefaultPollInterval is how often the room list is re-fetched while the feed is down.
const DefaultPollInterval = 10 * time.Second

// Poller calls tick immediately on Start and then once per interval until
// Stop. Timer callbacks are posted back to the owner's loop and carry a
// generation, so a callback that lost a race with Stop does nothing.
type Poller struct {
	clock    Clock
	interval time.Duration
	post     func(func())
	tick     func()

	running bool
	timer   Timer
	gen     uint64
}

// NewPoller creates a stopped poller.
func NewPoller(clock Clock, interval time.Duration, post func(func()), tick func()) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{clock: clock, interval: interval, post: post, tick: tick}
}

// Start begins polling. It is a no-op while running.
func (p *Poller) Start() {
	if p.running {
		return
	}
	p.running = true
	p.gen++
	p.tick()
	p.arm(p.gen)
}

func (p *Poller) arm(gen uint64) {
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.post(func() {
			if !p.running || gen != p.gen {
				return
			}
			p.tick()
			p.arm(gen)
		})
	})
}

// Stop halts polling. It is a no-op while stopped.
func (p *Poller) Stop() {
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	return p.running
}
