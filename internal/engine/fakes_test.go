package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the delays of timers that have not fired or been stopped.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fakeSub is a subscription fed by the test or by fakeBackend writes.
type fakeSub struct {
	mu     sync.Mutex
	ch     chan realtime.Update
	closed bool
	ended  bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan realtime.Update, 64)}
}

func (s *fakeSub) Updates() <-chan realtime.Update { return s.ch }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) send(u realtime.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	s.ch <- u
}

func (s *fakeSub) status(st realtime.Status) {
	s.send(realtime.Update{Status: st})
}

func (s *fakeSub) change(c realtime.Change) {
	s.send(realtime.Update{Change: &c})
}

// end closes the update channel the way a dropped connection does.
func (s *fakeSub) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

// fakeBackend is an in-memory backing store that pushes a change to every
// open subscription on each write.
type fakeBackend struct {
	mu            sync.Mutex
	rooms         map[string]model.Room
	users         []model.User
	notifications []model.Notification
	subs          []*fakeSub
	listCalls     int
	updateCalls   int

	// listGate, when set, holds ListRooms after it has taken its snapshot.
	listGate     chan struct{}
	listFailures int
	subscribeErr error
	updateErr    error
	usersErr     error
	// silent subscriptions do not report SUBSCRIBED on their own.
	silent bool
}

func newFakeBackend(rooms ...model.Room) *fakeBackend {
	b := &fakeBackend{rooms: make(map[string]model.Room)}
	for _, r := range rooms {
		b.rooms[r.ID] = r
	}
	return b
}

func (b *fakeBackend) ListRooms(ctx context.Context) ([]model.Room, error) {
	b.mu.Lock()
	b.listCalls++
	if b.listFailures > 0 {
		b.listFailures--
		b.mu.Unlock()
		return nil, errors.New("list rooms: connection refused")
	}
	out := make([]model.Room, 0, len(b.rooms))
	for _, r := range b.rooms {
		out = append(out, r)
	}
	gate := b.listGate
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RoomNumber < out[j].RoomNumber })
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (b *fakeBackend) UpdateRoom(_ context.Context, id string, u model.RoomUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateCalls++
	if b.updateErr != nil {
		return b.updateErr
	}
	r, ok := b.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	at := u.LastStatusChange
	by := u.LastChangedBy
	r.Status = u.Status
	r.IncubatorNumber = u.IncubatorNumber
	r.LastStatusChange = &at
	r.LastChangedBy = &by
	b.rooms[id] = r
	b.emitLocked(realtime.ChangeUpdate, r)
	return nil
}

// put inserts or replaces a room and announces it.
func (b *fakeBackend) put(typ realtime.ChangeType, r model.Room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ == realtime.ChangeDelete {
		delete(b.rooms, r.ID)
	} else {
		b.rooms[r.ID] = r
	}
	b.emitLocked(typ, r)
}

func (b *fakeBackend) emitLocked(typ realtime.ChangeType, r model.Room) {
	c, err := realtime.NewChange(realtime.TableRooms, typ, r, time.Now())
	if err != nil {
		panic(err)
	}
	for _, s := range b.subs {
		s.change(c)
	}
}

func (b *fakeBackend) InsertNotifications(_ context.Context, ns []model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, ns...)
	return nil
}

func (b *fakeBackend) ListUsers(context.Context) ([]model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.usersErr != nil {
		return nil, b.usersErr
	}
	return append([]model.User(nil), b.users...), nil
}

func (b *fakeBackend) Subscribe(_ context.Context, topic realtime.Topic) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	s := newFakeSub()
	b.subs = append(b.subs, s)
	if !b.silent {
		s.status(realtime.StatusSubscribed)
	}
	return s, nil
}

func (b *fakeBackend) lastSub() *fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return nil
	}
	return b.subs[len(b.subs)-1]
}

func (b *fakeBackend) subCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBackend) openSubs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (b *fakeBackend) lists() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func (b *fakeBackend) sent() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Notification(nil), b.notifications...)
}

func (b *fakeBackend) room(id string) model.Room {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[id]
}

func strPtr(s string) *string { return &s }

func room(id, number string, status model.RoomStatus) model.Room {
	return model.Room{ID: id, RoomNumber: number, Status: status, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}
