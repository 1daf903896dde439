package model

import "time"

// RoomStatus is the operational state of a room.
type RoomStatus string

const (
	StatusReady            RoomStatus = "ready"
	StatusOccupied         RoomStatus = "occupied"
	StatusAwaitingCleaning RoomStatus = "awaiting_cleaning"
)

// RoomStatuses lists every valid status.
var RoomStatuses = []RoomStatus{StatusReady, StatusOccupied, StatusAwaitingCleaning}

// Valid reports whether s is one of the enumerated statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case StatusReady, StatusOccupied, StatusAwaitingCleaning:
		return true
	}
	return false
}

// Room is a physical room whose status is tracked.
type Room struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	RoomNumber       string     `gorm:"uniqueIndex;size:64;not null" json:"room_number"`
	Status           RoomStatus `gorm:"size:32;not null;default:'ready'" json:"status"`
	IncubatorNumber  *string    `gorm:"size:64" json:"incubator_number"`
	LastStatusChange *time.Time `json:"last_status_change"`
	LastChangedBy    *string    `gorm:"size:36" json:"last_changed_by"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
}

// RoomUpdate is the full set of columns written by a status change.
type RoomUpdate struct {
	Status           RoomStatus `json:"status" binding:"required"`
	IncubatorNumber  *string    `json:"incubator_number"`
	LastStatusChange time.Time  `json:"last_status_change" binding:"required"`
	LastChangedBy    string     `json:"last_changed_by" binding:"required"`
}

// Columns returns the update as a column map so that NULL incubator values are written.
func (u RoomUpdate) Columns() map[string]any {
	return map[string]any{
		"status":             u.Status,
		"incubator_number":   u.IncubatorNumber,
		"last_status_change": u.LastStatusChange,
		"last_changed_by":    u.LastChangedBy,
	}
}
