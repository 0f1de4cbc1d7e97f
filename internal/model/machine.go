package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Machine represents one physical washing machine whose power relay is gated
// by badge scans.
type Machine struct {
	ID            string        `gorm:"primaryKey;size:36"`
	Code          string        `gorm:"uniqueIndex;size:64;not null"` // human-facing id, e.g. "W1"
	Name          string        `gorm:"size:256;not null"`
	Location      string        `gorm:"size:256"`
	BridgeAddr    string        `gorm:"size:64"` // hardware bridge network address
	RelayPin      int
	Status        MachineStatus `gorm:"size:32;not null;default:available"`
	IsOnline      bool          `gorm:"not null;default:false"`
	LastHeartbeat *time.Time

	// Weak references: at most one non-terminal booking/session each.
	CurrentBookingID *string `gorm:"size:36"`
	CurrentSessionID *string `gorm:"size:36"`

	TotalUsageCount   int `gorm:"not null;default:0"`
	TotalUsageMinutes int `gorm:"not null;default:0"`
	MaintenanceNote   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Machine) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
