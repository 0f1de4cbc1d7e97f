// Package gate handles badge scans from the hardware bridge. The bridge is
// on a short wire timeout and treats anything but an explicit grant as deny,
// so every path here resolves to a definite response quickly and internal
// errors fail closed.
package gate

import (
	"context"
	"log"
	"math"
	"time"

	"lunex-backend/config"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
)

// Actions returned to the hardware bridge.
const (
	ActionPowerOn      = "POWER_ON"
	ActionPowerOff     = "POWER_OFF"
	ActionMasterAccess = "MASTER_ACCESS"
	ActionDeny         = "DENY"
)

// Deny reason codes.
const (
	ReasonUnknownCredential  = "UNKNOWN_CREDENTIAL"
	ReasonInactiveAccount    = "INACTIVE_ACCOUNT"
	ReasonUnknownMachine     = "UNKNOWN_MACHINE"
	ReasonMachineUnavailable = "MACHINE_UNAVAILABLE"
	ReasonMachineInUse       = "MACHINE_IN_USE"
	ReasonNoBooking          = "NO_BOOKING"
	ReasonInternalError      = "INTERNAL_ERROR"
)

// scanTimeout bounds the whole scan decision; the bridge gives up well
// before most HTTP defaults.
const scanTimeout = 3 * time.Second

// Response is the gate's answer to one scan.
type Response struct {
	Action          string `json:"action"`
	ReasonCode      string `json:"reasonCode,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	BookingID       string `json:"bookingId,omitempty"`
}

// Gate decides badge scans.
type Gate struct {
	store    *store.Store
	cfg      *config.EngineConfig
	sessions *session.Manager
	now      func() time.Time
}

// New wires the gate.
func New(s *store.Store, cfg *config.EngineConfig, sessions *session.Manager) *Gate {
	return &Gate{store: s, cfg: cfg, sessions: sessions, now: time.Now}
}

// SetClock overrides the gate's clock, for tests.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// Scan runs the decision table for one badge scan. It never returns an
// error: anything unexpected becomes a deny.
func (g *Gate) Scan(ctx context.Context, credentialID, machineCode string) Response {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	// Master credential bypasses all booking logic (staff/emergency).
	if g.cfg.MasterCredential != "" && credentialID == g.cfg.MasterCredential {
		return Response{Action: ActionMasterAccess, DurationMinutes: 60}
	}

	user, err := g.store.UserByCredential(ctx, credentialID)
	if err != nil {
		if store.NotFound(err) {
			return Response{Action: ActionDeny, ReasonCode: ReasonUnknownCredential}
		}
		return g.failClosed("looking up credential", err)
	}
	if user.AccountStatus != model.AccountActive {
		return Response{Action: ActionDeny, ReasonCode: ReasonInactiveAccount}
	}

	machine, err := g.store.MachineByCode(ctx, machineCode)
	if err != nil {
		if store.NotFound(err) {
			return Response{Action: ActionDeny, ReasonCode: ReasonUnknownMachine}
		}
		return g.failClosed("looking up machine", err)
	}
	if !machine.Status.Bookable() {
		return Response{Action: ActionDeny, ReasonCode: ReasonMachineUnavailable}
	}

	// Machine busy: the session owner's second scan completes the session,
	// anyone else is turned away.
	if machine.Status == model.MachineInUse && machine.CurrentSessionID != nil {
		active, err := g.store.SessionByID(ctx, *machine.CurrentSessionID)
		if err != nil && !store.NotFound(err) {
			return g.failClosed("loading active session", err)
		}
		if active != nil && active.UserID == user.ID {
			done, err := g.sessions.End(ctx, active.ID, model.ActorUser)
			if err != nil {
				// A concurrent end beat us; the scan still resolves to deny
				// rather than hanging the bridge.
				return g.failClosed("ending session via scan", err)
			}
			return Response{
				Action:          ActionPowerOff,
				DurationMinutes: done.DurationMinutes,
				SessionID:       done.ID,
				BookingID:       done.BookingID,
			}
		}
		return Response{Action: ActionDeny, ReasonCode: ReasonMachineInUse}
	}

	// Machine free: the earliest confirmed booking inside the grace window
	// starts a session.
	now := g.now()
	booking, err := g.store.GraceBooking(ctx, user.ID, machine.ID, now, g.cfg.Grace())
	if err != nil {
		return g.failClosed("finding booking", err)
	}
	if booking == nil {
		return Response{Action: ActionDeny, ReasonCode: ReasonNoBooking}
	}

	sess, err := g.sessions.Start(ctx, booking.ID, true)
	if err != nil {
		// Lost the race to a concurrent scan, or the booking moved on.
		return g.failClosed("starting session via scan", err)
	}

	remaining := int(math.Ceil(booking.EndTime.Sub(now).Minutes()))
	return Response{
		Action:          ActionPowerOn,
		DurationMinutes: remaining,
		SessionID:       sess.ID,
		BookingID:       booking.ID,
	}
}

func (g *Gate) failClosed(stage string, err error) Response {
	if domain.IsConflict(err) {
		log.Printf("gate: %s: lost race: %v", stage, err)
	} else {
		log.Printf("gate: %s: %v", stage, err)
	}
	return Response{Action: ActionDeny, ReasonCode: ReasonInternalError}
}
