package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the live occupation of a machine, created when a confirmed
// booking's owner badges in. Once closed it is immutable.
type Session struct {
	ID        string        `gorm:"primaryKey;size:36"`
	BookingID string        `gorm:"uniqueIndex;size:36;not null"`
	UserID    string        `gorm:"index;size:36;not null"`
	MachineID string        `gorm:"index;size:36;not null"`
	Status    SessionStatus `gorm:"index;size:32;not null;default:running"`

	StartedAt      time.Time `gorm:"not null"`
	ScheduledEndAt time.Time `gorm:"not null"` // copied from the booking at creation
	ExtendedEndAt  *time.Time
	ActualEndAt    *time.Time

	PausedAt           *time.Time
	ResumedAt          *time.Time
	TotalPausedMinutes int `gorm:"not null;default:0"`

	ExtensionGranted bool `gorm:"not null;default:false"`
	ExtensionMinutes int  `gorm:"not null;default:0"`

	// EndingReminderAt keys the ending-soon reminder to the effective end it
	// was sent for, so an extension re-arms the reminder.
	EndingReminderFor *time.Time

	DurationMinutes int    `gorm:"not null;default:0"` // final, computed at close
	TerminatedBy    *Actor `gorm:"size:16"`
	InterruptedByID *string `gorm:"size:36"` // issue that paused this session

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// EffectiveEnd is the session's current expected end time: the extended end
// if one was granted, otherwise the scheduled end.
func (s *Session) EffectiveEnd() time.Time {
	if s.ExtendedEndAt != nil {
		return *s.ExtendedEndAt
	}
	return s.ScheduledEndAt
}
