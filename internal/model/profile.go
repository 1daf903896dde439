package model

import "time"

// Profile holds per-user display and notification preferences.
type Profile struct {
	ID                    string    `gorm:"primaryKey;size:36" json:"id"`
	UserID                string    `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Username              string    `gorm:"size:128;uniqueIndex;not null" json:"username"`
	DisplayName           string    `gorm:"size:256;not null" json:"display_name"`
	ReceivesNotifications bool      `gorm:"not null;default:false" json:"receives_notifications"`
	CreatedAt             time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time `gorm:"not null" json:"updated_at"`
}

// User is a directory entry: a profile joined with its role.
type User struct {
	UserID                string `json:"user_id"`
	Username              string `json:"username"`
	DisplayName           string `json:"display_name"`
	Role                  string `json:"role"`
	ReceivesNotifications bool   `json:"receives_notifications"`
}
