package engine

import (
	"context"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// RoomSource returns the full room list ordered by room number.
type RoomSource interface {
	ListRooms(ctx context.Context) ([]model.Room, error)
}

// RoomWriter writes a single room by id. It returns ErrRoomNotFound
// (possibly wrapped) when no row matched.
type RoomWriter interface {
	UpdateRoom(ctx context.Context, id string, u model.RoomUpdate) error
}

// NotificationWriter inserts notification rows in one batch.
type NotificationWriter interface {
	InsertNotifications(ctx context.Context, ns []model.Notification) error
}

// Directory lists the users notifications may be addressed to.
type Directory interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Subscriber opens a change feed for one topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic realtime.Topic) (Subscription, error)
}

// Backend is everything the engine consumes from the backing store.
type Backend interface {
	RoomSource
	RoomWriter
	NotificationWriter
	Directory
	Subscriber
}
