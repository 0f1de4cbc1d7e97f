// Package sweep reconciles time-driven state changes on a timer: no-shows,
// session auto-end, ending-soon reminders, offer expiry and machine
// heartbeats. Every sweep is a pure function of the current clock, safe to
// re-run, and re-validates each entity's status right before mutating it so
// it never clobbers a live user or gate action.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"lunex-backend/config"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
)

// endingSoonHorizon is how far ahead the ending-soon reminder looks.
const endingSoonHorizon = 5 * time.Minute

// Sweeper runs the reconciliation passes.
type Sweeper struct {
	store    *store.Store
	cfg      *config.EngineConfig
	sessions *session.Manager
	notifier notify.Notifier
	now      func() time.Time
}

// New wires the sweeper.
func New(s *store.Store, cfg *config.EngineConfig, sessions *session.Manager, n notify.Notifier) *Sweeper {
	return &Sweeper{store: s, cfg: cfg, sessions: sessions, notifier: n, now: time.Now}
}

// SetClock overrides the sweeper's clock, for tests.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run drives the sweeps until ctx is cancelled: time-critical ones on the
// fast interval, the rest on the slow interval.
func (s *Sweeper) Run(ctx context.Context) {
	log.Println("reconciliation sweeper starting")

	fast := time.NewTicker(s.cfg.FastSweepInterval)
	slow := time.NewTicker(s.cfg.SlowSweepInterval)
	defer fast.Stop()
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciliation sweeper shutting down")
			return
		case <-fast.C:
			s.FastPass(ctx)
		case <-slow.C:
			s.SlowPass(ctx)
		}
	}
}

// FastPass runs the time-critical sweeps.
func (s *Sweeper) FastPass(ctx context.Context) {
	s.NoShowSweep(ctx)
	s.AutoEndSweep(ctx)
	s.EndingSoonSweep(ctx)
}

// SlowPass runs the less urgent sweeps.
func (s *Sweeper) SlowPass(ctx context.Context) {
	s.OfferExpirySweep(ctx)
	s.HeartbeatSweep(ctx)
}

// NoShowSweep reminds and then cancels Confirmed bookings whose owner never
// badged in. One entity failing never aborts the rest of the pass.
func (s *Sweeper) NoShowSweep(ctx context.Context) {
	now := s.now()
	due, err := s.store.DueConfirmedBookings(ctx, now)
	if err != nil {
		log.Printf("sweep: no-show: snapshot failed: %v", err)
		return
	}

	for i := range due {
		if err := s.reconcileOverdueBooking(ctx, &due[i], now); err != nil {
			log.Printf("sweep: no-show: booking %s: %v", due[i].ID, err)
		}
	}
}

func (s *Sweeper) reconcileOverdueBooking(ctx context.Context, b *model.Booking, now time.Time) error {
	past := now.Sub(b.StartTime)

	reminderDue := past >= time.Duration(s.cfg.ReminderMinutes)*time.Minute
	if reminderDue && b.ReminderSentAt == nil {
		ok, err := s.store.UpdateBookingIfStatus(ctx, b.ID, model.BookingConfirmed,
			map[string]any{"reminder_sent_at": now})
		if err != nil {
			return fmt.Errorf("stamping reminder: %w", err)
		}
		if ok {
			left := s.cfg.GraceMinutes - s.cfg.ReminderMinutes
			s.notifier.Notify(ctx, b.UserID, model.NotifyNoShowWarning, "Arrive Now!",
				fmt.Sprintf("You have %d minutes to badge in or your booking will be cancelled.", left),
				map[string]any{"bookingId": b.ID})
		}
	}

	if past < s.cfg.Grace() {
		return nil
	}

	// Grace exhausted: the booking becomes a no-show unless a scan
	// activated it since the snapshot.
	ok, err := s.store.UpdateBookingIfStatus(ctx, b.ID, model.BookingConfirmed, map[string]any{
		"status":     model.BookingNoShow,
		"no_show_at": now,
	})
	if err != nil {
		return fmt.Errorf("marking no-show: %w", err)
	}
	if !ok {
		return nil
	}

	if err := s.store.IncrementUserCounter(ctx, b.UserID, "no_show_count", 1); err != nil {
		log.Printf("sweep: no-show: counter for user %s: %v", b.UserID, err)
	}

	unlock := s.store.LockMachine(b.MachineID)
	machine, err := s.store.MachineByID(ctx, b.MachineID)
	if err == nil && machine.CurrentBookingID != nil && *machine.CurrentBookingID == b.ID {
		machine.Status = model.MachineAvailable
		machine.CurrentBookingID = nil
		if err := s.store.SaveMachine(ctx, machine); err != nil {
			log.Printf("sweep: no-show: freeing machine %s: %v", machine.Code, err)
		}
	}
	unlock()

	s.notifier.Notify(ctx, b.UserID, model.NotifySlotReleased, "Booking Cancelled",
		"Your booking was cancelled due to no-show.",
		map[string]any{"bookingId": b.ID})

	log.Printf("sweep: no-show: booking %s cancelled", b.ID)
	return nil
}

// AutoEndSweep completes Running sessions whose effective end has passed.
func (s *Sweeper) AutoEndSweep(ctx context.Context) {
	now := s.now()
	expired, err := s.store.ExpiredRunningSessions(ctx, now)
	if err != nil {
		log.Printf("sweep: auto-end: snapshot failed: %v", err)
		return
	}

	for i := range expired {
		// End re-checks status under the machine lock; a session the user
		// closed since the snapshot yields a conflict, which is a no-op here.
		if _, err := s.sessions.End(ctx, expired[i].ID, model.ActorAuto); err != nil {
			if domain.IsConflict(err) || domain.IsNotFound(err) {
				continue
			}
			log.Printf("sweep: auto-end: session %s: %v", expired[i].ID, err)
		} else {
			log.Printf("sweep: auto-end: session %s completed", expired[i].ID)
		}
	}
}

// EndingSoonSweep sends one reminder per effective end time to sessions
// closing within the horizon; granting an extension re-arms the reminder.
func (s *Sweeper) EndingSoonSweep(ctx context.Context) {
	now := s.now()
	ending, err := s.store.EndingSoonSessions(ctx, now, endingSoonHorizon)
	if err != nil {
		log.Printf("sweep: ending-soon: snapshot failed: %v", err)
		return
	}

	for i := range ending {
		sess := &ending[i]
		end := sess.EffectiveEnd()
		if sess.EndingReminderFor != nil && sess.EndingReminderFor.Equal(end) {
			continue
		}

		ok, err := s.store.UpdateSessionIfStatus(ctx, sess.ID, model.SessionRunning,
			map[string]any{"ending_reminder_for": end})
		if err != nil {
			log.Printf("sweep: ending-soon: session %s: %v", sess.ID, err)
			continue
		}
		if !ok {
			continue
		}

		remaining := int(end.Sub(now).Minutes())
		msg := fmt.Sprintf("Your session will end in about %d minutes.", remaining)
		if !sess.ExtensionGranted {
			msg += fmt.Sprintf(" You can extend by %d minutes.", s.cfg.ExtensionMinutes)
		}
		s.notifier.Notify(ctx, sess.UserID, model.NotifySessionEnding, "Session Ending Soon", msg,
			map[string]any{"sessionId": sess.ID, "canExtend": !sess.ExtensionGranted})
	}
}

// OfferExpirySweep expires overdue priority rebook offers.
func (s *Sweeper) OfferExpirySweep(ctx context.Context) {
	count, err := s.store.ExpireOffers(ctx, s.now())
	if err != nil {
		log.Printf("sweep: offer-expiry: %v", err)
		return
	}
	if count > 0 {
		log.Printf("sweep: offer-expiry: expired %d priority rebook offers", count)
	}
}

// HeartbeatSweep marks machines offline after the heartbeat timeout.
// Booking and session state are untouched.
func (s *Sweeper) HeartbeatSweep(ctx context.Context) {
	cutoff := s.now().Add(-time.Duration(s.cfg.HeartbeatTimeoutMinutes) * time.Minute)
	count, err := s.store.MarkStaleMachinesOffline(ctx, cutoff)
	if err != nil {
		log.Printf("sweep: heartbeat: %v", err)
		return
	}
	if count > 0 {
		log.Printf("sweep: heartbeat: %d machines marked offline", count)
	}
}
