// Package rebook negotiates priority replacement slots for users whose
// session was interrupted by a verified issue. Offers are time-boxed and at
// most one active offer exists per issue.
package rebook

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"lunex-backend/config"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/slot"
	"lunex-backend/internal/store"
)

// Negotiator creates and settles priority rebook offers.
type Negotiator struct {
	store    *store.Store
	cfg      *config.EngineConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewNegotiator wires the negotiator.
func NewNegotiator(s *store.Store, cfg *config.EngineConfig, n notify.Notifier) *Negotiator {
	return &Negotiator{store: s, cfg: cfg, notifier: n, now: time.Now}
}

// SetClock overrides the negotiator's clock, for tests.
func (n *Negotiator) SetClock(now func() time.Time) { n.now = now }

// Offer searches every available machine for the earliest free slot and
// offers it to the issue's reporter. Machines are scanned in ascending code
// order, so ties go to the lowest machine code.
func (n *Negotiator) Offer(ctx context.Context, issueID string) (*model.PriorityRebook, error) {
	issue, err := n.store.IssueByID(ctx, issueID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("issue not found")
		}
		return nil, fmt.Errorf("loading issue: %w", err)
	}
	if issue.RebookOffered {
		return nil, domain.Conflictf("priority rebook already offered for this issue")
	}

	machines, err := n.store.AvailableMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading machines: %w", err)
	}
	if len(machines) == 0 {
		return nil, domain.Conflictf("no machines available for rebooking")
	}

	now := n.now()
	duration := time.Duration(n.cfg.RebookDurationMinutes) * time.Minute

	var best *slot.Window
	var bestMachine *model.Machine
	for i := range machines {
		m := &machines[i]
		bookings, err := n.store.BlockingBookings(ctx, m.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("loading bookings for machine %s: %w", m.Code, err)
		}
		w := slot.NextFree(bookings, duration, now, n.cfg.Buffer())
		if best == nil || w.Start.Before(best.Start) {
			best = &w
			bestMachine = m
		}
	}

	originalID, err := n.resolveOriginalBooking(ctx, issue)
	if err != nil {
		return nil, err
	}

	offer := &model.PriorityRebook{
		UserID:            issue.ReportedByID,
		OriginalBookingID: originalID,
		IssueID:           issue.ID,
		Status:            model.OfferOffered,
		OfferedMachineID:  bestMachine.ID,
		OfferedStart:      best.Start,
		OfferedEnd:        best.End,
		ExpiresAt:         now.Add(time.Duration(n.cfg.PriorityOfferTTLMinutes) * time.Minute),
	}

	err = n.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := n.store.WithTx(tx)
		if err := txs.CreateOffer(ctx, offer); err != nil {
			return err
		}
		issue.RebookOffered = true
		if err := txs.SaveIssue(ctx, issue); err != nil {
			return err
		}
		return txs.SetUserPendingRebook(ctx, issue.ReportedByID, true)
	})
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}

	n.notifier.Notify(ctx, issue.ReportedByID, model.NotifyPriorityRebook, "Priority Rebooking Available",
		fmt.Sprintf("A free slot is available on %s at %s. Would you like to rebook?",
			bestMachine.Name, best.Start.Format("15:04")),
		map[string]any{
			"rebookId":    offer.ID,
			"machineCode": bestMachine.Code,
			"startTime":   best.Start,
			"endTime":     best.End,
		})

	return offer, nil
}

// resolveOriginalBooking walks the issue's links to find the booking the
// offer replaces: direct booking link, then the issue's session, then the
// user's most recent relevant booking on the machine.
func (n *Negotiator) resolveOriginalBooking(ctx context.Context, issue *model.Issue) (string, error) {
	if issue.BookingID != nil {
		return *issue.BookingID, nil
	}
	if issue.SessionID != nil {
		sess, err := n.store.SessionByID(ctx, *issue.SessionID)
		if err == nil {
			return sess.BookingID, nil
		}
		if !store.NotFound(err) {
			return "", fmt.Errorf("loading issue session: %w", err)
		}
	}
	fallback, err := n.store.LatestUserBookingOnMachine(ctx, issue.ReportedByID, issue.MachineID,
		[]model.BookingStatus{model.BookingActive, model.BookingConfirmed, model.BookingCompleted, model.BookingInterrupted})
	if err != nil {
		return "", fmt.Errorf("finding fallback booking: %w", err)
	}
	if fallback == nil {
		return "", domain.Conflictf("cannot offer priority rebook, no related booking found")
	}
	return fallback.ID, nil
}

// Respond settles an offer. Accepting creates a Confirmed priority booking
// on the offered slot; declining just releases the user's pending flag. A
// response after the TTL expires the offer instead.
func (n *Negotiator) Respond(ctx context.Context, offerID, userID string, accept bool) (*model.PriorityRebook, *model.Booking, error) {
	offer, err := n.store.OfferByID(ctx, offerID)
	if err != nil {
		if store.NotFound(err) {
			return nil, nil, domain.NotFoundf("priority rebook offer not found")
		}
		return nil, nil, fmt.Errorf("loading offer: %w", err)
	}

	if offer.UserID != userID {
		return nil, nil, domain.Forbiddenf("not your offer")
	}
	if offer.Status != model.OfferOffered {
		return nil, nil, domain.Conflictf("this offer is no longer available")
	}

	now := n.now()
	if now.After(offer.ExpiresAt) {
		offer.Status = model.OfferExpired
		if err := n.store.SaveOffer(ctx, offer); err != nil {
			return nil, nil, fmt.Errorf("expiring offer: %w", err)
		}
		return nil, nil, domain.Conflictf("this offer has expired")
	}

	if !accept {
		err = n.store.Transaction(ctx, func(tx *gorm.DB) error {
			txs := n.store.WithTx(tx)
			offer.Status = model.OfferDeclined
			offer.RespondedAt = &now
			if err := txs.SaveOffer(ctx, offer); err != nil {
				return err
			}
			return txs.SetUserPendingRebook(ctx, userID, false)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("declining offer: %w", err)
		}
		return offer, nil, nil
	}

	// The slot was computed when the offer was created; re-check it under
	// the machine lock so accepting cannot break the no-overlap invariant.
	unlock := n.store.LockMachine(offer.OfferedMachineID)
	defer unlock()

	existing, err := n.store.BlockingBookings(ctx, offer.OfferedMachineID, time.Time{})
	if err != nil {
		return nil, nil, fmt.Errorf("loading machine bookings: %w", err)
	}
	if !slot.Available(existing, offer.OfferedStart, offer.OfferedEnd, n.cfg.Buffer(), "") {
		return nil, nil, domain.Conflictf("the offered slot is no longer available")
	}

	booking := &model.Booking{
		UserID:          userID,
		MachineID:       offer.OfferedMachineID,
		SlotDate:        time.Date(offer.OfferedStart.Year(), offer.OfferedStart.Month(), offer.OfferedStart.Day(), 0, 0, 0, 0, offer.OfferedStart.Location()),
		StartTime:       offer.OfferedStart,
		EndTime:         offer.OfferedEnd,
		DurationMinutes: int(offer.OfferedEnd.Sub(offer.OfferedStart).Minutes()),
		Status:          model.BookingConfirmed,
		IsPriority:      true,
	}

	err = n.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := n.store.WithTx(tx)
		if err := txs.CreateBooking(ctx, booking); err != nil {
			return err
		}
		offer.Status = model.OfferAccepted
		offer.RespondedAt = &now
		offer.NewBookingID = &booking.ID
		if err := txs.SaveOffer(ctx, offer); err != nil {
			return err
		}
		return txs.SetUserPendingRebook(ctx, userID, false)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("accepting offer: %w", err)
	}

	return offer, booking, nil
}
