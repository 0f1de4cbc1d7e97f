// Package booking implements the reservation allocator: it validates and
// creates bookings against a machine's existing slots and enforces per-user
// limits. Availability check and insert run under the machine's lock so two
// concurrent requests for the same window cannot both succeed.
package booking

import (
	"context"
	"fmt"
	"time"

	"lunex-backend/config"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/slot"
	"lunex-backend/internal/store"

	"gorm.io/gorm"
)

// Allocator creates and cancels bookings.
type Allocator struct {
	store    *store.Store
	cfg      *config.EngineConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewAllocator wires the allocator.
func NewAllocator(s *store.Store, cfg *config.EngineConfig, n notify.Notifier) *Allocator {
	return &Allocator{store: s, cfg: cfg, notifier: n, now: time.Now}
}

// SetClock overrides the allocator's clock, for tests.
func (a *Allocator) SetClock(now func() time.Time) { a.now = now }

// Create validates and persists a new Confirmed booking. Preconditions are
// checked in order and the first failure wins.
func (a *Allocator) Create(ctx context.Context, userID, machineCode string, start time.Time, durationMinutes int) (*model.Booking, error) {
	if durationMinutes < model.MinBookingMinutes || durationMinutes > model.MaxBookingMinutes {
		return nil, domain.Validationf("duration must be between %d and %d minutes",
			model.MinBookingMinutes, model.MaxBookingMinutes)
	}

	user, err := a.store.UserByID(ctx, userID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("user not found")
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.CredentialID == "" {
		return nil, domain.Validationf("no badge credential assigned; contact staff to get one")
	}

	machine, err := a.store.MachineByCode(ctx, machineCode)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("machine %s not found", machineCode)
		}
		return nil, fmt.Errorf("loading machine: %w", err)
	}
	if !machine.Status.Bookable() {
		return nil, domain.Validationf("machine %s is %s", machine.Code, machine.Status)
	}

	now := a.now()
	if start.Before(now) {
		return nil, domain.Validationf("cannot book a slot in the past")
	}
	horizon := now.Add(time.Duration(a.cfg.MaxAdvanceBookingDays) * 24 * time.Hour)
	if start.After(horizon) {
		return nil, domain.Validationf("cannot book more than %d days in advance", a.cfg.MaxAdvanceBookingDays)
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	count, err := a.store.CountUserBookingsOnDate(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("counting daily bookings: %w", err)
	}
	if count >= int64(a.cfg.MaxBookingsPerDay) {
		return nil, domain.Conflictf("maximum %d bookings per day reached", a.cfg.MaxBookingsPerDay)
	}

	// Serialize the availability check and insert per machine.
	unlock := a.store.LockMachine(machine.ID)
	defer unlock()

	existing, err := a.store.BlockingBookings(ctx, machine.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("loading machine bookings: %w", err)
	}
	if !slot.Available(existing, start, end, a.cfg.Buffer(), "") {
		return nil, domain.Conflictf("selected time slot is not available")
	}

	overlap, err := a.store.UserOverlappingBooking(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("checking user overlap: %w", err)
	}
	if overlap != nil {
		return nil, domain.Conflictf("you already have a booking during this time")
	}

	b := &model.Booking{
		UserID:          userID,
		MachineID:       machine.ID,
		SlotDate:        startOfDay(start),
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: durationMinutes,
		Status:          model.BookingConfirmed,
	}

	err = a.store.Transaction(ctx, func(tx *gorm.DB) error {
		txs := a.store.WithTx(tx)
		if err := txs.CreateBooking(ctx, b); err != nil {
			return err
		}
		return txs.IncrementUserCounter(ctx, userID, "total_bookings", 1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating booking: %w", err)
	}

	a.notifier.Notify(ctx, userID, model.NotifyBookingConfirmed, "Booking Confirmed",
		fmt.Sprintf("Your slot on %s is booked from %s to %s.",
			machine.Name, start.Format("15:04"), end.Format("15:04")),
		map[string]any{"bookingId": b.ID, "machineCode": machine.Code})

	return b, nil
}

// Cancel moves a Confirmed booking to Cancelled. Only the owner (or staff)
// may cancel, and only before the booking went active; the machine was never
// occupied, so it is untouched.
func (a *Allocator) Cancel(ctx context.Context, bookingID, callerID string, staff bool, reason string) (*model.Booking, error) {
	b, err := a.store.BookingByID(ctx, bookingID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("booking not found")
		}
		return nil, fmt.Errorf("loading booking: %w", err)
	}

	if !staff && b.UserID != callerID {
		return nil, domain.Forbiddenf("not authorized to cancel this booking")
	}
	if b.Status != model.BookingConfirmed {
		return nil, domain.Conflictf("cannot cancel a booking with status %s", b.Status)
	}

	if reason == "" {
		reason = "cancelled by user"
	}
	now := a.now()
	ok, err := a.store.UpdateBookingIfStatus(ctx, b.ID, model.BookingConfirmed, map[string]any{
		"status":        model.BookingCancelled,
		"cancelled_at":  now,
		"cancel_reason": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("cancelling booking: %w", err)
	}
	if !ok {
		return nil, domain.Conflictf("booking changed state while cancelling")
	}

	b.Status = model.BookingCancelled
	b.CancelledAt = &now
	b.CancelReason = reason
	return b, nil
}

// OccupiedBlock is a booked window plus its trailing buffer, as shown to
// clients picking a slot.
type OccupiedBlock struct {
	BookingID string              `json:"bookingId"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"` // includes the buffer
	Status    model.BookingStatus `json:"status"`
}

// Slots lists a machine's occupied blocks for one day.
func (a *Allocator) Slots(ctx context.Context, machineCode string, date time.Time) (*model.Machine, []OccupiedBlock, error) {
	machine, err := a.store.MachineByCode(ctx, machineCode)
	if err != nil {
		if store.NotFound(err) {
			return nil, nil, domain.NotFoundf("machine %s not found", machineCode)
		}
		return nil, nil, fmt.Errorf("loading machine: %w", err)
	}

	dayStart := startOfDay(date)
	dayEnd := dayStart.Add(24 * time.Hour)
	bookings, err := a.store.BlockingBookings(ctx, machine.ID, dayStart)
	if err != nil {
		return nil, nil, fmt.Errorf("loading bookings: %w", err)
	}

	blocks := make([]OccupiedBlock, 0, len(bookings))
	for _, b := range bookings {
		if !b.StartTime.Before(dayEnd) {
			continue
		}
		blocks = append(blocks, OccupiedBlock{
			BookingID: b.ID,
			Start:     b.StartTime,
			End:       b.EndTime.Add(a.cfg.Buffer()),
			Status:    b.Status,
		})
	}
	return machine, blocks, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
