package model

// MachineStatus is the operational state of a washing machine.
type MachineStatus string

const (
	MachineAvailable   MachineStatus = "available"
	MachineInUse       MachineStatus = "in-use"
	MachineMaintenance MachineStatus = "maintenance"
	MachineRepair      MachineStatus = "repair"
	MachineDisabled    MachineStatus = "disabled"
)

// Bookable reports whether new bookings may target a machine in this state.
func (s MachineStatus) Bookable() bool {
	return s == MachineAvailable || s == MachineInUse
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingConfirmed   BookingStatus = "confirmed"
	BookingActive      BookingStatus = "active"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingNoShow      BookingStatus = "no-show"
	BookingInterrupted BookingStatus = "interrupted"
)

// Blocking reports whether a booking in this state still occupies its slot.
func (s BookingStatus) Blocking() bool {
	return s == BookingConfirmed || s == BookingActive
}

// Terminal reports whether the booking can no longer change state.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingNoShow, BookingInterrupted:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a usage session.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionPaused      SessionStatus = "paused"
	SessionCompleted   SessionStatus = "completed"
	SessionTerminated  SessionStatus = "terminated"
	SessionInterrupted SessionStatus = "interrupted"
)

// sessionTransitions is the allowed state machine for sessions. Completed,
// Terminated and Interrupted are absorbing.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionRunning: {SessionPaused, SessionCompleted, SessionTerminated, SessionInterrupted},
	SessionPaused:  {SessionRunning, SessionCompleted, SessionTerminated, SessionInterrupted},
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the session is closed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionTerminated, SessionInterrupted:
		return true
	}
	return false
}

// IssueStatus is the lifecycle state of a reported issue.
type IssueStatus string

const (
	IssueReported  IssueStatus = "reported"
	IssueVerified  IssueStatus = "verified"
	IssueResolved  IssueStatus = "resolved"
	IssueDismissed IssueStatus = "dismissed"
)

// OfferStatus is the lifecycle state of a priority rebook offer.
type OfferStatus string

const (
	OfferOffered   OfferStatus = "offered"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferExpired   OfferStatus = "expired"
	OfferCompleted OfferStatus = "completed"
)

// AccountStatus is the state of a user account, supplied by the identity
// system and only read here.
type AccountStatus string

const (
	AccountPending AccountStatus = "pending"
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// Actor identifies who drove a session termination.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorStaff Actor = "staff"
	ActorAuto  Actor = "auto"
)
