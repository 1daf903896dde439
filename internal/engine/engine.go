// Package engine keeps a client's copy of the room table in sync with the
// backing store and applies status changes on behalf of the session user.
//
// All mutable state is owned by a single loop goroutine started with Run.
// Timers, feed pumps and fetches never touch that state directly; they post
// closures to the loop. Readers get a snapshot published after every change.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// Session identifies the user the engine acts for.
type Session struct {
	UserID string
	Role   access.Role
	Grants access.Grants
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithBackoff sets the reconnect backoff.
func WithBackoff(base, limit time.Duration) Option {
	return func(e *Engine) { e.backoff = Backoff{Base: base, Cap: limit} }
}

// WithPolicy replaces the default access policy.
func WithPolicy(p access.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRecipients sets who is notified about transitions.
func WithRecipients(pred RecipientPredicate) Option {
	return func(e *Engine) { e.recipients = pred }
}

// WithSyncConfig applies the poll and retry timings from cfg.
func WithSyncConfig(cfg config.SyncConfig) Option {
	return func(e *Engine) {
		if cfg.PollInterval > 0 {
			e.pollInterval = cfg.PollInterval
		}
		if cfg.RetryBase > 0 {
			e.backoff.Base = cfg.RetryBase
		}
		if cfg.RetryCap > 0 {
			e.backoff.Cap = cfg.RetryCap
		}
	}
}

// OnChange registers f to run after every published change to rooms or
// liveness. f runs on the engine loop and must not block or call Start/Stop.
func OnChange(f func()) Option {
	return func(e *Engine) { e.onChange = f }
}

// Engine is the live room synchronization engine.
type Engine struct {
	backend      Backend
	clock        Clock
	policy       access.Policy
	recipients   RecipientPredicate
	pollInterval time.Duration
	backoff      Backoff
	onChange     func()

	mailbox chan func()
	done    chan struct{}

	// Owned by the loop goroutine.
	store         *RoomStore
	supervisor    *Supervisor
	poller        *Poller
	session       *Session
	sessionGen    uint64
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	sub           Subscription
	subGen        uint64
	subCancel     context.CancelFunc
	fetching      bool
	refetch       bool
	pending       []Event
	synced        chan struct{}
	syncedClosed  bool

	mu   sync.RWMutex
	view view
}

type view struct {
	rooms   []model.Room
	state   State
	session *Session
	synced  chan struct{}
}

// New creates an engine. Call Run before Start.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		clock:        systemClock{},
		policy:       access.DefaultPolicy(),
		recipients:   ByNotificationFlag(),
		pollInterval: DefaultPollInterval,
		backoff:      Backoff{Base: DefaultRetryBase, Cap: DefaultRetryCap},
		mailbox:      make(chan func(), 64),
		done:         make(chan struct{}),
		store:        NewRoomStore(),
		sessionCtx:   context.Background(),
		synced:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.poller = NewPoller(e.clock, e.pollInterval, e.postFunc, e.refresh)
	e.supervisor = NewSupervisor(e.clock, e.backoff, e.poller, e.postFunc, SupervisorHooks{
		Connect:    e.connect,
		Disconnect: e.disconnect,
		Refetch:    e.refresh,
		Transition: e.onTransition,
	})
	e.view = view{state: Disconnected, synced: e.synced}
	return e
}

// Run processes the engine loop until ctx is done. Any active session is
// torn down on exit. Run must be called once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()
		case f := <-e.mailbox:
			f()
		}
	}
}

// post queues f on the loop. It reports false once the loop has exited.
func (e *Engine) post(f func()) bool {
	select {
	case e.mailbox <- f:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) postFunc(f func()) {
	e.post(f)
}

// call runs f on the loop and waits for it.
func (e *Engine) call(f func()) error {
	ran := make(chan struct{})
	if !e.post(func() { f(); close(ran) }) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Start ends any previous session and activates s: the room list is fetched
// and the change feed opened.
func (e *Engine) Start(s Session) error {
	return e.call(func() { e.activate(s) })
}

// Stop ends the current session. The room list is cleared and no timer,
// fetch or feed callback from the session has any further effect.
func (e *Engine) Stop() error {
	return e.call(e.teardown)
}

func (e *Engine) activate(s Session) {
	e.teardown()

	e.sessionGen++
	e.session = &s
	e.sessionCtx, e.sessionCancel = context.WithCancel(context.Background())
	e.synced = make(chan struct{})
	e.syncedClosed = false

	log.Info().Str("user_id", s.UserID).Str("role", string(s.Role)).Msg("sync session started")

	e.supervisor.Activate()
	e.refresh()
	e.publish()
}

func (e *Engine) teardown() {
	e.supervisor.Teardown()
	if e.sessionCancel != nil {
		e.sessionCancel()
		e.sessionCancel = nil
	}
	e.sessionCtx = context.Background()
	if e.session != nil {
		log.Info().Str("user_id", e.session.UserID).Msg("sync session ended")
	}
	e.sessionGen++
	e.session = nil
	e.fetching = false
	e.refetch = false
	e.pending = nil
	e.store.ReplaceAll(nil)
	e.publish()
}

func (e *Engine) onTransition(from, to State) {
	log.Debug().Stringer("from", from).Stringer("to", to).Msg("rooms feed state")
	if to == Subscribed {
		// Changes committed between the last fetch and the subscription
		// were never pushed.
		e.refresh()
	}
	e.publish()
}

// refresh fetches the full room list unless a fetch is already out, in
// which case another one follows it.
func (e *Engine) refresh() {
	if e.session == nil {
		return
	}
	if e.fetching {
		e.refetch = true
		return
	}
	e.fetching = true
	e.pending = nil
	gen := e.sessionGen
	ctx := e.sessionCtx
	go func() {
		rooms, err := e.backend.ListRooms(ctx)
		e.post(func() { e.finishFetch(gen, rooms, err) })
	}()
}

func (e *Engine) finishFetch(gen uint64, rooms []model.Room, err error) {
	if gen != e.sessionGen {
		return
	}
	e.fetching = false
	pending := e.pending
	e.pending = nil

	if err != nil {
		log.Warn().Err(&BackingStoreError{Op: "list rooms", Err: err}).Msg("room list refresh failed")
		if !e.refetch {
			e.supervisor.FetchFailed()
		}
	} else {
		e.supervisor.FetchSucceeded()
		e.store.ReplaceAll(rooms)
		for _, ev := range pending {
			e.store.Apply(ev)
		}
		e.publish()
		if !e.syncedClosed {
			close(e.synced)
			e.syncedClosed = true
		}
	}

	if e.refetch {
		e.refetch = false
		e.refresh()
	}
}

func (e *Engine) applyEvent(ev Event) {
	e.store.Apply(ev)
	if e.fetching {
		e.pending = append(e.pending, ev)
	}
	e.publish()
}

func (e *Engine) publish() {
	e.mu.Lock()
	e.view = view{
		rooms:   e.store.Get(),
		state:   e.supervisor.State(),
		session: e.session,
		synced:  e.synced,
	}
	e.mu.Unlock()

	if e.onChange != nil {
		e.onChange()
	}
}

func (e *Engine) snapshot() view {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Rooms returns the current rooms ordered by room number.
func (e *Engine) Rooms() []model.Room {
	v := e.snapshot()
	out := make([]model.Room, len(v.rooms))
	copy(out, v.rooms)
	return out
}

// IsLive reports whether updates are being pushed by the feed rather than polled.
func (e *Engine) IsLive() bool {
	return e.snapshot().state == Subscribed
}

// State returns the feed state.
func (e *Engine) State() State {
	return e.snapshot().state
}

// Synced is closed once the current session has loaded its first room list.
func (e *Engine) Synced() <-chan struct{} {
	return e.snapshot().synced
}

// CurrentSession returns the active session, if any.
func (e *Engine) CurrentSession() (Session, bool) {
	v := e.snapshot()
	if v.session == nil {
		return Session{}, false
	}
	return *v.session, true
}

// CanAccessRoom reports whether the session user may act on roomID.
func (e *Engine) CanAccessRoom(roomID string) bool {
	v := e.snapshot()
	if v.session == nil {
		return false
	}
	return e.policy.CanAccess(v.session.Role, v.session.Grants, roomID)
}
