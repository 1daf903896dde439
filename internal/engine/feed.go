package engine

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// Subscription is an open change feed. Updates delivers health statuses and
// row changes in arrival order; the channel is closed when the feed ends.
// Close must be safe to call more than once.
type Subscription interface {
	Updates() <-chan realtime.Update
	Close() error
}

var roomsTopic = realtime.Topic{Table: realtime.TableRooms}

// DecodeChange turns a row change on the rooms table into a Room Store event.
func DecodeChange(c realtime.Change) (Event, error) {
	if c.Table != realtime.TableRooms {
		return Event{}, fmt.Errorf("unexpected table %q", c.Table)
	}

	switch c.Type {
	case realtime.ChangeInsert, realtime.ChangeUpdate:
		var room model.Room
		if err := json.Unmarshal(c.Record, &room); err != nil {
			return Event{}, fmt.Errorf("failed to decode room record: %w", err)
		}
		if room.ID == "" {
			return Event{}, fmt.Errorf("room record without id")
		}
		if !room.Status.Valid() {
			return Event{}, fmt.Errorf("room %s has invalid status %q", room.ID, room.Status)
		}
		kind := Inserted
		if c.Type == realtime.ChangeUpdate {
			kind = Updated
		}
		return Event{Kind: kind, Room: room, ID: room.ID}, nil

	case realtime.ChangeDelete:
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(c.OldRecord, &old); err != nil {
			return Event{}, fmt.Errorf("failed to decode deleted room: %w", err)
		}
		if old.ID == "" {
			return Event{}, fmt.Errorf("deleted room without id")
		}
		return Event{Kind: Deleted, ID: old.ID}, nil
	}

	return Event{}, fmt.Errorf("unknown change type %q", c.Type)
}

// connect opens a new rooms feed, dropping any previous one first.
// Runs on the engine loop.
func (e *Engine) connect() {
	e.disconnect()
	e.subGen++
	gen := e.subGen
	ctx, cancel := context.WithCancel(e.sessionCtx)
	e.subCancel = cancel
	go e.pump(ctx, gen)
}

// disconnect terminates the current feed. Anything it still delivers is
// dropped by the generation check in handleUpdate.
func (e *Engine) disconnect() {
	if e.subCancel != nil {
		e.subCancel()
		e.subCancel = nil
	}
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			log.Debug().Err(err).Msg("closing rooms feed")
		}
		e.sub = nil
	}
	e.subGen++
}

// pump forwards one subscription's updates to the engine loop.
func (e *Engine) pump(ctx context.Context, gen uint64) {
	sub, err := e.backend.Subscribe(ctx, roomsTopic)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("failed to subscribe to rooms feed")
		e.post(func() { e.handleUpdate(gen, realtime.Update{Status: realtime.StatusChannelError}) })
		return
	}
	defer sub.Close()

	if ctx.Err() != nil {
		return
	}
	e.post(func() { e.attach(gen, sub) })

	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				e.post(func() { e.handleUpdate(gen, realtime.Update{Status: realtime.StatusClosed}) })
				return
			}
			e.post(func() { e.handleUpdate(gen, u) })
		}
	}
}

func (e *Engine) attach(gen uint64, sub Subscription) {
	if gen != e.subGen {
		sub.Close()
		return
	}
	e.sub = sub
}

func (e *Engine) handleUpdate(gen uint64, u realtime.Update) {
	if gen != e.subGen {
		return
	}
	if u.IsStatus() {
		log.Debug().Str("status", string(u.Status)).Msg("rooms feed status")
		e.supervisor.HandleStatus(u.Status)
		return
	}
	ev, err := DecodeChange(*u.Change)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed room change")
		return
	}
	e.applyEvent(ev)
}
