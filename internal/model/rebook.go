package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PriorityRebook is a time-boxed replacement-slot offer for a user whose
// session was interrupted by an issue. At most one unexpired Offered offer
// may exist per issue.
type PriorityRebook struct {
	ID                string      `gorm:"primaryKey;size:36"`
	UserID            string      `gorm:"index;size:36;not null"`
	OriginalBookingID string      `gorm:"size:36;not null"`
	IssueID           string      `gorm:"index;size:36;not null"`
	Status            OfferStatus `gorm:"index;size:32;not null;default:offered"`

	OfferedMachineID string    `gorm:"size:36;not null"`
	OfferedStart     time.Time `gorm:"not null"`
	OfferedEnd       time.Time `gorm:"not null"`

	ExpiresAt    time.Time `gorm:"index;not null"`
	RespondedAt  *time.Time
	NewBookingID *string `gorm:"size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *PriorityRebook) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
