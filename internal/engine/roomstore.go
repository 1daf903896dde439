package engine

import (
	"sort"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// EventKind is the kind of Room Store mutation.
type EventKind int

const (
	Inserted EventKind = iota + 1
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one mutation of the Room Store. Room is set for Inserted and
// Updated; ID is set for every kind.
type Event struct {
	Kind EventKind
	Room model.Room
	ID   string
}

// RoomStore is the client-local copy of the room table, kept sorted by
// room number using byte-wise string comparison. It is not safe for
// concurrent use.
type RoomStore struct {
	rooms []model.Room
}

// NewRoomStore returns an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{}
}

// Get returns a copy of the rooms in order.
func (s *RoomStore) Get() []model.Room {
	out := make([]model.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Len returns the number of rooms.
func (s *RoomStore) Len() int {
	return len(s.rooms)
}

// Lookup returns the room with the given id.
func (s *RoomStore) Lookup(id string) (model.Room, bool) {
	if i := s.index(id); i >= 0 {
		return s.rooms[i], true
	}
	return model.Room{}, false
}

// Apply mutates the store. Inserting an id that is already present replaces
// that record. Updating or deleting an absent id does nothing.
func (s *RoomStore) Apply(ev Event) {
	switch ev.Kind {
	case Inserted:
		if i := s.index(ev.Room.ID); i >= 0 {
			s.rooms[i] = ev.Room
		} else {
			s.rooms = append(s.rooms, ev.Room)
		}
	case Updated:
		i := s.index(ev.Room.ID)
		if i < 0 {
			return
		}
		s.rooms[i] = ev.Room
	case Deleted:
		i := s.index(ev.ID)
		if i < 0 {
			return
		}
		s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
		return
	default:
		return
	}
	s.sort()
}

// ReplaceAll swaps the whole content for rooms.
func (s *RoomStore) ReplaceAll(rooms []model.Room) {
	s.rooms = make([]model.Room, len(rooms))
	copy(s.rooms, rooms)
	s.sort()
}

func (s *RoomStore) index(id string) int {
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *RoomStore) sort() {
	sort.SliceStable(s.rooms, func(i, j int) bool {
		return s.rooms[i].RoomNumber < s.rooms[j].RoomNumber
	})
}
