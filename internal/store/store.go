// Package store wraps all database access for the reservation engine. Every
// component reads and writes the machine/booking/session triad through here,
// and per-machine serialization (see locks.go) lives alongside the queries it
// protects.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lunex-backend/internal/model"
)

// Store is the GORM-backed data access layer.
type Store struct {
	db    *gorm.DB
	locks *MachineLocks
}

// New creates a store around an initialized gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, locks: NewMachineLocks()}
}

// DB exposes the underlying gorm handle for read-only API queries.
func (s *Store) DB() *gorm.DB { return s.db }

// LockMachine serializes writers on one machine and returns the unlock func.
func (s *Store) LockMachine(machineID string) func() {
	return s.locks.Lock(machineID)
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Users ---

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByCredential looks up the owner of a badge credential. Returns
// gorm.ErrRecordNotFound if no user owns it.
func (s *Store) UserByCredential(ctx context.Context, credentialID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "credential_id = ?", credentialID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// IncrementUserCounter bumps a user counter column by delta.
func (s *Store) IncrementUserCounter(ctx context.Context, userID, column string, delta int) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

// SetUserPendingRebook flips the user's pending-priority-offer flag.
func (s *Store) SetUserPendingRebook(ctx context.Context, userID string, pending bool) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		UpdateColumn("has_pending_rebook", pending).Error
}

// --- Machines ---

func (s *Store) MachineByID(ctx context.Context, id string) (*model.Machine, error) {
	var m model.Machine
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MachineByCode resolves a machine by its human-facing code ("W1").
func (s *Store) MachineByCode(ctx context.Context, code string) (*model.Machine, error) {
	var m model.Machine
	if err := s.db.WithContext(ctx).First(&m, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Machines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

// AvailableMachines returns machines open for rebooking, in ascending code
// order so slot-search tie-breaks are stable.
func (s *Store) AvailableMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.MachineAvailable).
		Order("code ASC").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *Store) SaveMachine(ctx context.Context, m *model.Machine) error {
	return s.db.WithContext(ctx).Save(m).Error
}

// TouchHeartbeat stamps a machine online with the given heartbeat time.
func (s *Store) TouchHeartbeat(ctx context.Context, machineID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Machine{}).Where("id = ?", machineID).
		Updates(map[string]any{"is_online": true, "last_heartbeat": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkStaleMachinesOffline flips machines offline whose last heartbeat is at
// or before cutoff. Returns the number of machines affected.
func (s *Store) MarkStaleMachinesOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("is_online = ? AND last_heartbeat <= ?", true, cutoff).
		UpdateColumn("is_online", false)
	return res.RowsAffected, res.Error
}

// --- Bookings ---

func (s *Store) BookingByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// BlockingBookings returns a machine's Confirmed/Active bookings whose
// window has not fully passed relevance, i.e. endTime >= endAfter. Pass the
// zero time for all of them.
func (s *Store) BlockingBookings(ctx context.Context, machineID string, endAfter time.Time) ([]model.Booking, error) {
	q := s.db.WithContext(ctx).
		Where("machine_id = ? AND status IN ?", machineID,
			[]model.BookingStatus{model.BookingConfirmed, model.BookingActive})
	if !endAfter.IsZero() {
		q = q.Where("end_time >= ?", endAfter)
	}
	var bookings []model.Booking
	if err := q.Order("start_time ASC").Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

// UserOverlappingBooking finds a Confirmed/Active booking of the user whose
// raw window overlaps [start, end). Self-overlap is a hard conflict, so no
// buffer applies here.
func (s *Store) UserOverlappingBooking(ctx context.Context, userID string, start, end time.Time) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ? AND start_time < ? AND end_time > ?",
			userID, []model.BookingStatus{model.BookingConfirmed, model.BookingActive}, end, start).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountUserBookingsOnDate counts the user's non-cancelled bookings whose slot
// falls on the same day as date.
func (s *Store) CountUserBookingsOnDate(ctx context.Context, userID string, date time.Time) (int64, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int64
	err := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("user_id = ? AND slot_date >= ? AND slot_date < ? AND status <> ?",
			userID, dayStart, dayEnd, model.BookingCancelled).
		Count(&count).Error
	return count, err
}

func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *Store) SaveBooking(ctx context.Context, b *model.Booking) error {
	return s.db.WithContext(ctx).Save(b).Error
}

// UserBookings lists a user's bookings, newest slot first, optionally
// filtered by status.
func (s *Store) UserBookings(ctx context.Context, userID string, status model.BookingStatus) ([]model.Booking, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var bookings []model.Booking
	if err := q.Order("start_time DESC").Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

// GraceBooking finds the earliest Confirmed booking for user+machine that a
// badge scan at `now` may activate: started no later than now+grace and not
// yet ended.
func (s *Store) GraceBooking(ctx context.Context, userID, machineID string, now time.Time, grace time.Duration) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND machine_id = ? AND status = ? AND start_time <= ? AND end_time >= ?",
			userID, machineID, model.BookingConfirmed, now.Add(grace), now).
		Order("start_time ASC").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// LatestUserBookingOnMachine returns the user's most recent booking on a
// machine in any of the given states, used to resolve a rebook's original
// booking when the issue carries no direct link.
func (s *Store) LatestUserBookingOnMachine(ctx context.Context, userID, machineID string, statuses []model.BookingStatus) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND machine_id = ? AND status IN ?", userID, machineID, statuses).
		Order("start_time DESC, created_at DESC").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DueConfirmedBookings snapshots Confirmed bookings whose start time has
// passed, for the no-show sweep.
func (s *Store) DueConfirmedBookings(ctx context.Context, now time.Time) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND start_time <= ?", model.BookingConfirmed, now).
		Find(&bookings).Error
	return bookings, err
}

// UpdateBookingIfStatus applies updates only while the booking still has the
// expected status. Returns false when the status moved underneath us.
func (s *Store) UpdateBookingIfStatus(ctx context.Context, id string, expect model.BookingStatus, updates map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// --- Sessions ---

func (s *Store) SessionByID(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	return s.db.WithContext(ctx).Save(sess).Error
}

// ActiveSessionForUser returns the user's Running or Paused session, if any.
func (s *Store) ActiveSessionForUser(ctx context.Context, userID string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]model.SessionStatus{model.SessionRunning, model.SessionPaused}).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ExpiredRunningSessions snapshots Running sessions whose effective end has
// passed, for the auto-end sweep.
func (s *Store) ExpiredRunningSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("status = ?", model.SessionRunning).
		Where(s.db.Where("extended_end_at IS NOT NULL AND extended_end_at <= ?", now).
			Or("extended_end_at IS NULL AND scheduled_end_at <= ?", now)).
		Find(&sessions).Error
	return sessions, err
}

// EndingSoonSessions snapshots Running sessions whose effective end falls in
// (now, now+horizon], for the ending-soon reminder sweep.
func (s *Store) EndingSoonSessions(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Session, error) {
	until := now.Add(horizon)
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Where("status = ?", model.SessionRunning).
		Where(s.db.Where("extended_end_at IS NOT NULL AND extended_end_at > ? AND extended_end_at <= ?", now, until).
			Or("extended_end_at IS NULL AND scheduled_end_at > ? AND scheduled_end_at <= ?", now, until)).
		Find(&sessions).Error
	return sessions, err
}

// UpdateSessionIfStatus applies updates only while the session still has the
// expected status. Returns false when the status moved underneath us.
func (s *Store) UpdateSessionIfStatus(ctx context.Context, id string, expect model.SessionStatus, updates map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// --- Issues ---

func (s *Store) IssueByID(ctx context.Context, id string) (*model.Issue, error) {
	var issue model.Issue
	if err := s.db.WithContext(ctx).First(&issue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *Store) CreateIssue(ctx context.Context, issue *model.Issue) error {
	return s.db.WithContext(ctx).Create(issue).Error
}

func (s *Store) SaveIssue(ctx context.Context, issue *model.Issue) error {
	return s.db.WithContext(ctx).Save(issue).Error
}

// --- Priority rebook offers ---

func (s *Store) OfferByID(ctx context.Context, id string) (*model.PriorityRebook, error) {
	var offer model.PriorityRebook
	if err := s.db.WithContext(ctx).First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer *model.PriorityRebook) error {
	return s.db.WithContext(ctx).Create(offer).Error
}

func (s *Store) SaveOffer(ctx context.Context, offer *model.PriorityRebook) error {
	return s.db.WithContext(ctx).Save(offer).Error
}

// ExpireOffers transitions every overdue Offered offer to Expired in one
// conditional update. Returns the number expired.
func (s *Store) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.PriorityRebook{}).
		Where("status = ? AND expires_at <= ?", model.OfferOffered, now).
		UpdateColumn("status", model.OfferExpired)
	return res.RowsAffected, res.Error
}

// --- Notifications ---

// NotificationsForUser returns the user's most recent notifications.
func (s *Store) NotificationsForUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

// MarkNotificationRead flags one of the user's notifications as read.
// Returns false if the notification does not exist or belongs to someone else.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumn("read", true)
	return res.RowsAffected > 0, res.Error
}

// MarkAllNotificationsRead flags every unread notification of the user.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		UpdateColumn("read", true)
	return res.RowsAffected, res.Error
}

// SaveSubscription creates or refreshes a push subscription, keyed by
// endpoint.
func (s *Store) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

// DeleteSubscription removes the user's subscription for an endpoint.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint, userID string) error {
	return s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		Delete(&model.PushSubscription{}).Error
}

// WithTx returns a store view bound to the given transaction, sharing the
// same lock registry.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, locks: s.locks}
}

// NotFound reports whether err is the backend's missing-record error.
func NotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
