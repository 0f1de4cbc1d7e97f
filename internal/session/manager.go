// Package session owns the session state machine: start, pause, resume,
// extend, end and force-stop, together with the booking and machine updates
// each transition implies. Every transition is serialized on the session's
// machine and re-checks the current status before mutating, so concurrent
// calls resolve to exactly one winner.
package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"lunex-backend/config"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/slot"
	"lunex-backend/internal/store"
)

// Manager drives session lifecycle transitions.
type Manager struct {
	store    *store.Store
	cfg      *config.EngineConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewManager wires the session manager.
func NewManager(s *store.Store, cfg *config.EngineConfig, n notify.Notifier) *Manager {
	return &Manager{store: s, cfg: cfg, notifier: n, now: time.Now}
}

// SetClock overrides the manager's clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start creates a Running session for a Confirmed booking, flips the booking
// Active and the machine InUse. viaScan stamps the badge-scan audit time.
func (m *Manager) Start(ctx context.Context, bookingID string, viaScan bool) (*model.Session, error) {
	b, err := m.store.BookingByID(ctx, bookingID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("booking not found")
		}
		return nil, fmt.Errorf("loading booking: %w", err)
	}

	unlock := m.store.LockMachine(b.MachineID)
	defer unlock()

	// Re-read under the lock; a concurrent scan may have activated it.
	b, err = m.store.BookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("reloading booking: %w", err)
	}
	if b.Status != model.BookingConfirmed {
		return nil, domain.Conflictf("cannot start session for booking with status %s", b.Status)
	}

	machine, err := m.store.MachineByID(ctx, b.MachineID)
	if err != nil {
		return nil, fmt.Errorf("loading machine: %w", err)
	}
	// Two grace-eligible bookings can both pass the gate's availability read;
	// the booking re-check alone does not catch the second one.
	if machine.Status == model.MachineInUse || machine.CurrentSessionID != nil {
		return nil, domain.Conflictf("machine %s already has an active session", machine.Code)
	}

	now := m.now()
	sess := &model.Session{
		BookingID:      b.ID,
		UserID:         b.UserID,
		MachineID:      b.MachineID,
		Status:         model.SessionRunning,
		StartedAt:      now,
		ScheduledEndAt: b.EndTime,
	}

	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := m.store.WithTx(tx)
		if err := txs.CreateSession(ctx, sess); err != nil {
			return err
		}

		b.Status = model.BookingActive
		b.ArrivedAt = &now
		if viaScan {
			b.RFIDScannedAt = &now
		}
		b.SessionID = &sess.ID
		if err := txs.SaveBooking(ctx, b); err != nil {
			return err
		}

		machine.Status = model.MachineInUse
		machine.CurrentBookingID = &b.ID
		machine.CurrentSessionID = &sess.ID
		if err := txs.SaveMachine(ctx, machine); err != nil {
			return err
		}

		return txs.IncrementUserCounter(ctx, b.UserID, "total_sessions", 1)
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	remaining := int(math.Ceil(b.EndTime.Sub(now).Minutes()))
	m.notifier.Notify(ctx, b.UserID, model.NotifySessionStarted, "Session Started",
		fmt.Sprintf("Machine %s is now on. Your session will run for %d minutes.", machine.Name, remaining),
		map[string]any{"sessionId": sess.ID, "bookingId": b.ID})

	return sess, nil
}

// Extend grants the session's single extension, provided the next booking's
// buffered window is not violated.
func (m *Manager) Extend(ctx context.Context, sessionID, callerID string, staff bool) (*model.Session, error) {
	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !staff && sess.UserID != callerID {
		return nil, domain.Forbiddenf("not authorized to extend this session")
	}

	unlock := m.store.LockMachine(sess.MachineID)
	defer unlock()

	sess, err = m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionRunning {
		return nil, domain.Conflictf("can only extend a running session, current status is %s", sess.Status)
	}
	if sess.ExtensionGranted {
		return nil, domain.Conflictf("extension already used for this session")
	}

	extension := time.Duration(m.cfg.ExtensionMinutes) * time.Minute
	currentEnd := sess.EffectiveEnd()
	newEnd := currentEnd.Add(extension)

	existing, err := m.store.BlockingBookings(ctx, sess.MachineID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading machine bookings: %w", err)
	}
	if !slot.Available(existing, currentEnd, newEnd, m.cfg.Buffer(), sess.BookingID) {
		return nil, domain.Conflictf("cannot extend, the next slot is already booked")
	}

	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := m.store.WithTx(tx)
		sess.ExtensionGranted = true
		sess.ExtensionMinutes = m.cfg.ExtensionMinutes
		sess.ExtendedEndAt = &newEnd
		if err := txs.SaveSession(ctx, sess); err != nil {
			return err
		}
		ok, err := txs.UpdateBookingIfStatus(ctx, sess.BookingID, model.BookingActive,
			map[string]any{"end_time": newEnd})
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflictf("booking for session %s is no longer active", sess.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extending session: %w", err)
	}

	m.notifier.Notify(ctx, sess.UserID, model.NotifyExtensionGranted, "Extension Granted",
		fmt.Sprintf("Your session has been extended by %d minutes.", m.cfg.ExtensionMinutes),
		map[string]any{"sessionId": sess.ID})

	return sess, nil
}

// Pause suspends a Running session. Paused time does not count toward the
// session's elapsed window. issueID, when non-nil, records the issue that
// interrupted the session.
func (m *Manager) Pause(ctx context.Context, sessionID string, issueID *string) (*model.Session, error) {
	unlockAndSess, err := m.lockedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, unlock := unlockAndSess.sess, unlockAndSess.unlock
	defer unlock()

	if !sess.Status.CanTransitionTo(model.SessionPaused) {
		return nil, domain.Conflictf("can only pause a running session, current status is %s", sess.Status)
	}

	now := m.now()
	sess.Status = model.SessionPaused
	sess.PausedAt = &now
	if issueID != nil {
		sess.InterruptedByID = issueID
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("pausing session: %w", err)
	}
	return sess, nil
}

// Resume restarts a Paused session, shifting the effective end forward by
// the time spent paused and propagating the new end to the booking.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*model.Session, error) {
	unlockAndSess, err := m.lockedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, unlock := unlockAndSess.sess, unlockAndSess.unlock
	defer unlock()

	if sess.Status != model.SessionPaused {
		return nil, domain.Conflictf("can only resume a paused session, current status is %s", sess.Status)
	}

	now := m.now()
	paused := now.Sub(*sess.PausedAt)
	newEnd := sess.EffectiveEnd().Add(paused)

	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := m.store.WithTx(tx)
		sess.Status = model.SessionRunning
		sess.ResumedAt = &now
		sess.TotalPausedMinutes += int(math.Round(paused.Minutes()))
		sess.ExtendedEndAt = &newEnd
		if err := txs.SaveSession(ctx, sess); err != nil {
			return err
		}
		ok, err := txs.UpdateBookingIfStatus(ctx, sess.BookingID, model.BookingActive,
			map[string]any{"end_time": newEnd})
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflictf("booking for session %s is no longer active", sess.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	return sess, nil
}

// End completes a Running or Paused session: the booking completes, the
// machine frees up and its usage counters grow by the final duration.
func (m *Manager) End(ctx context.Context, sessionID string, actor model.Actor) (*model.Session, error) {
	return m.close(ctx, sessionID, actor, model.SessionCompleted)
}

// ForceStop terminates a session early (staff action). The booking is marked
// Interrupted rather than Completed.
func (m *Manager) ForceStop(ctx context.Context, sessionID string, actor model.Actor) (*model.Session, error) {
	return m.close(ctx, sessionID, actor, model.SessionTerminated)
}

func (m *Manager) close(ctx context.Context, sessionID string, actor model.Actor, final model.SessionStatus) (*model.Session, error) {
	unlockAndSess, err := m.lockedSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, unlock := unlockAndSess.sess, unlockAndSess.unlock
	defer unlock()

	if !sess.Status.CanTransitionTo(final) {
		return nil, domain.Conflictf("cannot end session with status %s", sess.Status)
	}

	now := m.now()
	duration := int(math.Round(now.Sub(sess.StartedAt).Minutes()))

	bookingStatus := model.BookingCompleted
	if final == model.SessionTerminated {
		bookingStatus = model.BookingInterrupted
	}

	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := m.store.WithTx(tx)

		sess.Status = final
		sess.ActualEndAt = &now
		sess.TerminatedBy = &actor
		sess.DurationMinutes = duration
		if err := txs.SaveSession(ctx, sess); err != nil {
			return err
		}

		if _, err := txs.UpdateBookingIfStatus(ctx, sess.BookingID, model.BookingActive,
			map[string]any{"status": bookingStatus}); err != nil {
			return err
		}

		machine, err := txs.MachineByID(ctx, sess.MachineID)
		if err != nil {
			return err
		}
		machine.Status = model.MachineAvailable
		machine.CurrentBookingID = nil
		machine.CurrentSessionID = nil
		machine.TotalUsageCount++
		machine.TotalUsageMinutes += duration
		return txs.SaveMachine(ctx, machine)
	})
	if err != nil {
		return nil, fmt.Errorf("closing session: %w", err)
	}

	if final == model.SessionCompleted {
		m.notifier.Notify(ctx, sess.UserID, model.NotifySessionCompleted, "Session Completed",
			fmt.Sprintf("Your washing session is complete. Duration: %d minutes.", duration),
			map[string]any{"sessionId": sess.ID})
	} else {
		m.notifier.Notify(ctx, sess.UserID, model.NotifySessionStopped, "Session Force Stopped",
			"Your session was stopped by staff. Please contact the warden for assistance.",
			map[string]any{"sessionId": sess.ID})
	}

	return sess, nil
}

// Active returns the user's Running or Paused session plus remaining
// minutes, or nil if there is none.
func (m *Manager) Active(ctx context.Context, userID string) (*model.Session, int, error) {
	sess, err := m.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("loading active session: %w", err)
	}
	if sess == nil {
		return nil, 0, nil
	}
	remaining := int(math.Ceil(sess.EffectiveEnd().Sub(m.now()).Minutes()))
	if remaining < 0 {
		remaining = 0
	}
	return sess, remaining, nil
}

type lockedSession struct {
	sess   *model.Session
	unlock func()
}

// lockedSession loads a session, takes its machine's lock, and reloads it so
// the caller decides on current state.
func (m *Manager) lockedSession(ctx context.Context, sessionID string) (*lockedSession, error) {
	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := m.store.LockMachine(sess.MachineID)
	sess, err = m.loadSession(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	return &lockedSession{sess: sess, unlock: unlock}, nil
}

func (m *Manager) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("session not found")
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}
