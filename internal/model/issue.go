package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssueType categorizes what went wrong at the machine.
type IssueType string

const (
	IssueWater        IssueType = "water"
	IssuePower        IssueType = "power"
	IssueMachineFault IssueType = "machine-fault"
	IssueOther        IssueType = "other"
)

// Issue is a problem report against a machine, optionally tied to the
// booking/session it interrupted.
type Issue struct {
	ID           string      `gorm:"primaryKey;size:36"`
	ReportedByID string      `gorm:"index;size:36;not null"`
	MachineID    string      `gorm:"index;size:36;not null"`
	BookingID    *string     `gorm:"size:36"`
	SessionID    *string     `gorm:"size:36"`
	Type         IssueType   `gorm:"size:32;not null"`
	Description  string      `gorm:"size:1024"`
	Status       IssueStatus `gorm:"index;size:32;not null;default:reported"`

	SessionPaused bool `gorm:"not null;default:false"`
	RebookOffered bool `gorm:"not null;default:false"`

	VerifiedByID   *string `gorm:"size:36"`
	VerifiedAt     *time.Time
	ResolvedByID   *string `gorm:"size:36"`
	ResolvedAt     *time.Time
	ResolutionNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i *Issue) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
