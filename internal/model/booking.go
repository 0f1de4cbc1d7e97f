package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Booking duration bounds in minutes.
const (
	MinBookingMinutes = 10
	MaxBookingMinutes = 60
)

// Booking is a reserved time window on one machine.
type Booking struct {
	ID              string        `gorm:"primaryKey;size:36"`
	UserID          string        `gorm:"index;size:36;not null"`
	MachineID       string        `gorm:"index:idx_bookings_machine_window;size:36;not null"`
	SlotDate        time.Time     `gorm:"index;not null"` // midnight of the slot's day
	StartTime       time.Time     `gorm:"index:idx_bookings_machine_window;not null"`
	EndTime         time.Time     `gorm:"not null"`
	DurationMinutes int           `gorm:"not null"`
	Status          BookingStatus `gorm:"index;size:32;not null;default:confirmed"`
	SessionID       *string       `gorm:"size:36"`

	IsPriority     bool `gorm:"not null;default:false"`
	RFIDScannedAt  *time.Time
	ArrivedAt      *time.Time
	CancelledAt    *time.Time
	CancelReason   string
	NoShowAt       *time.Time
	ReminderSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Booking) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Window returns the booking's half-open time window.
func (b *Booking) Window() (start, end time.Time) {
	return b.StartTime, b.EndTime
}
