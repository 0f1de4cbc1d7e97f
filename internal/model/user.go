package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the slice of the identity system's account record that the engine
// reads and counts against. Authentication happens upstream.
type User struct {
	ID            string        `gorm:"primaryKey;size:36"`
	Name          string        `gorm:"size:256;not null"`
	Email         string        `gorm:"uniqueIndex;size:256"`
	RoomNumber    string        `gorm:"size:32"`
	CredentialID  string        `gorm:"uniqueIndex;size:64"` // badge/RFID UID, empty until assigned
	AccountStatus AccountStatus `gorm:"size:32;not null;default:active"`

	TotalBookings    int  `gorm:"not null;default:0"`
	TotalSessions    int  `gorm:"not null;default:0"`
	NoShowCount      int  `gorm:"not null;default:0"`
	HasPendingRebook bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
