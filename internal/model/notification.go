package model

import "time"

// NotificationType names the transition a notification was created for.
type NotificationType string

const (
	NotificationWorkFinished     NotificationType = "work_finished"
	NotificationCleaningComplete NotificationType = "cleaning_complete"
)

// Notification is one message addressed to one recipient.
type Notification struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	RoomID           string           `gorm:"size:36;not null;index" json:"room_id"`
	SenderID         string           `gorm:"size:36;not null" json:"sender_id"`
	RecipientID      string           `gorm:"size:36;not null;index:idx_notifications_recipient_created" json:"recipient_id"`
	NotificationType NotificationType `gorm:"size:32;not null" json:"notification_type"`
	Message          string           `gorm:"not null" json:"message"`
	IsRead           bool             `gorm:"not null;default:false" json:"is_read"`
	CreatedAt        time.Time        `gorm:"not null;index:idx_notifications_recipient_created" json:"created_at"`
}
