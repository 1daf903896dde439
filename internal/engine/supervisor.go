package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/metrics"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// State is the supervisor's view of the change feed.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

const (
	DefaultRetryBase = time.Second
	DefaultRetryCap  = 30 * time.Second
)

// Backoff computes reconnect delays as min(Base*2^n, Cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the attempt following n consecutive failures.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		if d >= b.Cap {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// SupervisorHooks are the actions the supervisor drives.
type SupervisorHooks struct {
	// Connect opens a new feed; Disconnect terminates the current one.
	Connect    func()
	Disconnect func()
	// Refetch reloads the full room list after a failed fetch.
	Refetch func()
	// Transition observes every state change.
	Transition func(from, to State)
}

// Supervisor owns the feed lifecycle, the fallback poller and the retry
// timer. All methods must be called from the owner's loop; post queues
// timer callbacks onto that loop.
type Supervisor struct {
	clock   Clock
	backoff Backoff
	post    func(func())
	poller  *Poller
	hooks   SupervisorHooks

	state    State
	retries  int
	retry    Timer
	retryGen uint64

	fetchFailures int
	refetch       Timer
	refetchGen    uint64
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(clock Clock, backoff Backoff, poller *Poller, post func(func()), hooks SupervisorHooks) *Supervisor {
	return &Supervisor{clock: clock, backoff: backoff, poller: poller, post: post, hooks: hooks}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

// Retries returns the number of consecutive failed attempts.
func (s *Supervisor) Retries() int {
	return s.retries
}

// Activate starts a fresh connection cycle, tearing down any previous one.
func (s *Supervisor) Activate() {
	if s.state != Disconnected {
		s.Teardown()
	}
	s.setState(Connecting)
	s.hooks.Connect()
}

// HandleStatus reacts to a health status reported by the feed.
func (s *Supervisor) HandleStatus(status realtime.Status) {
	if status.Healthy() {
		if s.state != Connecting {
			return
		}
		s.setState(Subscribed)
		s.retries = 0
		s.poller.Stop()
		s.cancelRetry()
		return
	}

	if s.state != Connecting && s.state != Subscribed {
		return
	}
	s.hooks.Disconnect()
	s.setState(Degraded)
	s.cancelRefetch()
	s.poller.Start()

	delay := s.backoff.Delay(s.retries)
	s.retries++
	metrics.RecordSyncRetry("reconnect")
	log.Info().
		Str("status", string(status)).
		Int("attempt", s.retries).
		Dur("retry_in", delay).
		Msg("rooms feed unhealthy, polling until reconnect")
	s.scheduleRetry(delay)
}

func (s *Supervisor) scheduleRetry(d time.Duration) {
	s.cancelRetry()
	gen := s.retryGen
	s.retry = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if gen != s.retryGen || s.state != Degraded {
				return
			}
			s.retry = nil
			s.setState(Connecting)
			s.hooks.Connect()
		})
	})
}

func (s *Supervisor) cancelRetry() {
	s.retryGen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// FetchFailed schedules a refetch of the room list after a backoff delay.
// While the poller runs it already retries, so nothing is scheduled.
func (s *Supervisor) FetchFailed() {
	if s.state == Disconnected || s.poller.Running() {
		return
	}
	delay := s.backoff.Delay(s.fetchFailures)
	s.fetchFailures++
	metrics.RecordSyncRetry("refetch")
	log.Info().
		Int("attempt", s.fetchFailures).
		Dur("retry_in", delay).
		Msg("room list fetch failed, refetching")

	s.cancelRefetch()
	gen := s.refetchGen
	s.refetch = s.clock.AfterFunc(delay, func() {
		s.post(func() {
			if gen != s.refetchGen || s.state == Disconnected {
				return
			}
			s.refetch = nil
			s.hooks.Refetch()
		})
	})
}

// FetchSucceeded resets the refetch backoff.
func (s *Supervisor) FetchSucceeded() {
	s.fetchFailures = 0
	s.cancelRefetch()
}

func (s *Supervisor) cancelRefetch() {
	s.refetchGen++
	if s.refetch != nil {
		s.refetch.Stop()
		s.refetch = nil
	}
}

// Teardown cancels the feed, the poller, the retry timer and any pending
// refetch. It is safe to call in any state, including repeatedly.
func (s *Supervisor) Teardown() {
	s.hooks.Disconnect()
	s.poller.Stop()
	s.cancelRetry()
	s.cancelRefetch()
	s.retries = 0
	s.fetchFailures = 0
	s.setState(Disconnected)
}

func (s *Supervisor) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	metrics.RecordFeedState(to.String())
	if s.hooks.Transition != nil {
		s.hooks.Transition(from, to)
	}
}
