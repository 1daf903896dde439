package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/parse"
)

// Plan validates a status change of room by the session's user and returns
// the action it performs and the columns to write. It does no I/O.
func Plan(policy access.Policy, s Session, room model.Room, to model.RoomStatus, label *string, now time.Time) (access.Action, model.RoomUpdate, error) {
	if !policy.CanAccess(s.Role, s.Grants, room.ID) {
		return "", model.RoomUpdate{}, ErrAccessDenied
	}
	action, ok := access.ActionFor(room.Status, to)
	if !ok {
		return "", model.RoomUpdate{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, room.Status, to)
	}
	if !policy.CanPerform(s.Role, action, room.Status) {
		return "", model.RoomUpdate{}, fmt.Errorf("%w: role %q may not %s", ErrAccessDenied, s.Role, action)
	}

	update := model.RoomUpdate{
		Status:           to,
		LastStatusChange: now.UTC(),
		LastChangedBy:    s.UserID,
	}
	switch action {
	case access.ActionStartWork:
		update.IncubatorNumber = parse.IncubatorLabel(label)
	case access.ActionFinishWork:
		update.IncubatorNumber = parse.IncubatorLabel(label)
		if update.IncubatorNumber == nil {
			update.IncubatorNumber = room.IncubatorNumber
		}
	case access.ActionFinishCleaning:
		update.IncubatorNumber = nil
	}
	return action, update, nil
}

// UpdateStatus moves a room to a new status on behalf of the session user.
// Policy and state-machine checks run against the local copy before any
// I/O. The local copy is not touched; it catches up through the feed or
// the poller. Notification failures are logged and do not fail the call.
func (e *Engine) UpdateStatus(ctx context.Context, roomID string, to model.RoomStatus, label *string) error {
	v := e.snapshot()
	if v.session == nil {
		return ErrNotAuthenticated
	}
	room, ok := findRoom(v.rooms, roomID)
	if !ok {
		return ErrRoomNotFound
	}

	s := *v.session
	action, update, err := Plan(e.policy, s, room, to, label, e.clock.Now())
	if err != nil {
		return err
	}

	if err := e.backend.UpdateRoom(ctx, room.ID, update); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return &BackingStoreError{Op: "update room", Err: err}
	}

	log.Info().
		Str("room_id", room.ID).
		Str("room_number", room.RoomNumber).
		Str("user_id", s.UserID).
		Str("action", string(action)).
		Msg("room status changed")

	if err := e.fanOut(ctx, action, room, update, s.UserID); err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Str("action", string(action)).Msg("failed to send notifications")
	}
	return nil
}

func findRoom(rooms []model.Room, id string) (model.Room, bool) {
	for _, r := range rooms {
		if r.ID == id {
			return r, true
		}
	}
	return model.Room{}, false
}
