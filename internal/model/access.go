package model

import "time"

// RoomAccess grants a user explicit access to a room.
type RoomAccess struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_room_access_user_room" json:"user_id"`
	RoomID    string    `gorm:"size:36;not null;uniqueIndex:idx_room_access_user_room" json:"room_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName keeps the singular table name of the existing schema.
func (RoomAccess) TableName() string {
	return "room_access"
}

// UserRole assigns a role to a user.
type UserRole struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// Me is the caller's own role and room grants.
type Me struct {
	UserID  string   `json:"user_id"`
	Role    string   `json:"role"`
	RoomIDs []string `json:"room_ids"`
}
