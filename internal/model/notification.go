package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationType identifies what event a notification describes.
type NotificationType string

const (
	NotifyBookingConfirmed NotificationType = "booking-confirmed"
	NotifyNoShowWarning    NotificationType = "no-show-warning"
	NotifySlotReleased     NotificationType = "slot-released"
	NotifySessionStarted   NotificationType = "session-started"
	NotifySessionEnding    NotificationType = "session-ending"
	NotifySessionCompleted NotificationType = "session-completed"
	NotifySessionStopped   NotificationType = "session-stopped"
	NotifyExtensionGranted NotificationType = "extension-granted"
	NotifyIssueReported    NotificationType = "issue-reported"
	NotifyIssueResolved    NotificationType = "issue-resolved"
	NotifyPriorityRebook   NotificationType = "priority-rebook"
)

// Notification is a stored in-app notification. Delivery beyond the row
// insert (web push) is best effort.
type Notification struct {
	ID      string           `gorm:"primaryKey;size:36"`
	UserID  string           `gorm:"index;size:36;not null"`
	Type    NotificationType `gorm:"size:64;not null"`
	Title   string           `gorm:"size:256;not null"`
	Message string           `gorm:"size:1024;not null"`
	Data    string           `gorm:"size:2048"` // JSON payload for the client
	Read    bool             `gorm:"not null;default:false"`

	CreatedAt time.Time
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// PushSubscription holds a browser push subscription for a user.
type PushSubscription struct {
	Endpoint  string `gorm:"primaryKey"`
	UserID    string `gorm:"index;size:36;not null"`
	P256DH    string `gorm:"column:p256dh;not null"`
	Auth      string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
