package api

import (
	"time"

	"lunex-backend/internal/model"
)

// Response shapes returned to clients. The gorm entities stay internal; the
// wire format is fixed here so schema changes don't leak into the API.

type machineView struct {
	ID              string  `json:"id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Location        string  `json:"location,omitempty"`
	Status          string  `json:"status"`
	IsOnline        bool    `json:"isOnline"`
	CurrentBooking  *string `json:"currentBookingId,omitempty"`
	CurrentSession  *string `json:"currentSessionId,omitempty"`
	TotalUsageCount int     `json:"totalUsageCount"`
	MaintenanceNote string  `json:"maintenanceNote,omitempty"`
}

func viewMachine(m *model.Machine) machineView {
	return machineView{
		ID:              m.ID,
		Code:            m.Code,
		Name:            m.Name,
		Location:        m.Location,
		Status:          string(m.Status),
		IsOnline:        m.IsOnline,
		CurrentBooking:  m.CurrentBookingID,
		CurrentSession:  m.CurrentSessionID,
		TotalUsageCount: m.TotalUsageCount,
		MaintenanceNote: m.MaintenanceNote,
	}
}

type bookingView struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	MachineID       string     `json:"machineId"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          string     `json:"status"`
	IsPriority      bool       `json:"isPriority"`
	SessionID       *string    `json:"sessionId,omitempty"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	ArrivedAt       *time.Time `json:"arrivedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func viewBooking(b *model.Booking) bookingView {
	return bookingView{
		ID:              b.ID,
		UserID:          b.UserID,
		MachineID:       b.MachineID,
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		IsPriority:      b.IsPriority,
		SessionID:       b.SessionID,
		CancelReason:    b.CancelReason,
		ArrivedAt:       b.ArrivedAt,
		CreatedAt:       b.CreatedAt,
	}
}

type sessionView struct {
	ID                 string     `json:"id"`
	BookingID          string     `json:"bookingId"`
	UserID             string     `json:"userId"`
	MachineID          string     `json:"machineId"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"startedAt"`
	EffectiveEndAt     time.Time  `json:"effectiveEndAt"`
	ActualEndAt        *time.Time `json:"actualEndAt,omitempty"`
	PausedAt           *time.Time `json:"pausedAt,omitempty"`
	TotalPausedMinutes int        `json:"totalPausedMinutes"`
	ExtensionGranted   bool       `json:"extensionGranted"`
}

func viewSession(s *model.Session) sessionView {
	return sessionView{
		ID:                 s.ID,
		BookingID:          s.BookingID,
		UserID:             s.UserID,
		MachineID:          s.MachineID,
		Status:             string(s.Status),
		StartedAt:          s.StartedAt,
		EffectiveEndAt:     s.EffectiveEnd(),
		ActualEndAt:        s.ActualEndAt,
		PausedAt:           s.PausedAt,
		TotalPausedMinutes: s.TotalPausedMinutes,
		ExtensionGranted:   s.ExtensionGranted,
	}
}

type issueView struct {
	ID             string     `json:"id"`
	MachineID      string     `json:"machineId"`
	ReporterID     string     `json:"reporterId"`
	BookingID      *string    `json:"bookingId,omitempty"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Description    string     `json:"description"`
	SessionPaused  bool       `json:"sessionPaused"`
	RebookOffered  bool       `json:"rebookOffered"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func viewIssue(i *model.Issue) issueView {
	return issueView{
		ID:             i.ID,
		MachineID:      i.MachineID,
		ReporterID:     i.ReportedByID,
		BookingID:      i.BookingID,
		Type:           string(i.Type),
		Status:         string(i.Status),
		Description:    i.Description,
		SessionPaused:  i.SessionPaused,
		RebookOffered:  i.RebookOffered,
		ResolutionNote: i.ResolutionNote,
		ResolvedAt:     i.ResolvedAt,
		CreatedAt:      i.CreatedAt,
	}
}

type offerView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	MachineID    string    `json:"machineId"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
	NewBookingID *string   `json:"newBookingId,omitempty"`
}

func viewOffer(o *model.PriorityRebook) offerView {
	return offerView{
		ID:           o.ID,
		UserID:       o.UserID,
		MachineID:    o.OfferedMachineID,
		StartTime:    o.OfferedStart,
		EndTime:      o.OfferedEnd,
		Status:       string(o.Status),
		ExpiresAt:    o.ExpiresAt,
		NewBookingID: o.NewBookingID,
	}
}

type notificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewNotification(n *model.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
