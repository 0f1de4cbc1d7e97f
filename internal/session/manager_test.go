package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lunex-backend/config"
	"lunex-backend/internal/db"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/store"
)

var testTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(gdb))
	return store.New(gdb)
}

type fixture struct {
	store   *store.Store
	manager *Manager
	user    *model.User
	machine *model.Machine
	booking *model.Booking
	clock   time.Time
}

// newFixture seeds one user, one machine and one Confirmed booking running
// [10:00, 10:30) on the test clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newTestStore(t)

	u := &model.User{Name: "Priya", Email: "priya@hostel.test", CredentialID: "badge-1", AccountStatus: model.AccountActive}
	require.NoError(t, s.DB().Create(u).Error)
	m := &model.Machine{Code: "W1", Name: "Washer W1", Status: model.MachineAvailable}
	require.NoError(t, s.DB().Create(m).Error)
	b := &model.Booking{
		UserID:          u.ID,
		MachineID:       m.ID,
		SlotDate:        testTime.Truncate(24 * time.Hour),
		StartTime:       testTime,
		EndTime:         testTime.Add(30 * time.Minute),
		DurationMinutes: 30,
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, s.DB().Create(b).Error)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	f := &fixture{store: s, user: u, machine: m, booking: b, clock: testTime}
	f.manager = NewManager(s, &cfg.Engine, notify.Discard{})
	f.manager.SetClock(func() time.Time { return f.clock })
	return f
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, sess.Status)
	assert.WithinDuration(t, f.booking.EndTime, sess.ScheduledEndAt, 0)

	b, err := f.store.BookingByID(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingActive, b.Status)
	assert.NotNil(t, b.ArrivedAt)
	assert.NotNil(t, b.RFIDScannedAt)
	require.NotNil(t, b.SessionID)
	assert.Equal(t, sess.ID, *b.SessionID)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineInUse, m.Status)
	require.NotNil(t, m.CurrentSessionID)
	assert.Equal(t, sess.ID, *m.CurrentSessionID)

	u, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.TotalSessions)
}

func TestStartSessionMachineAlreadyInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second resident holds the adjacent slot on the same machine; at the
	// boundary instant both bookings can clear the gate's availability read.
	other := &model.User{Name: "Rahul", Email: "rahul@hostel.test", CredentialID: "badge-2", AccountStatus: model.AccountActive}
	require.NoError(t, f.store.DB().Create(other).Error)
	next := &model.Booking{
		UserID:          other.ID,
		MachineID:       f.machine.ID,
		SlotDate:        testTime.Truncate(24 * time.Hour),
		StartTime:       testTime.Add(30 * time.Minute),
		EndTime:         testTime.Add(60 * time.Minute),
		DurationMinutes: 30,
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, f.store.DB().Create(next).Error)

	_, err := f.manager.Start(ctx, f.booking.ID, true)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, next.ID, true)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// The loser's booking stays Confirmed, ready for a later scan.
	b, err := f.store.BookingByID(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)

	var running int64
	require.NoError(t, f.store.DB().Model(&model.Session{}).
		Where("machine_id = ? AND status = ?", f.machine.ID, model.SessionRunning).
		Count(&running).Error)
	assert.EqualValues(t, 1, running)
}

func TestStartSessionConcurrentBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &model.User{Name: "Meera", Email: "meera@hostel.test", CredentialID: "badge-3", AccountStatus: model.AccountActive}
	require.NoError(t, f.store.DB().Create(other).Error)
	next := &model.Booking{
		UserID:          other.ID,
		MachineID:       f.machine.ID,
		SlotDate:        testTime.Truncate(24 * time.Hour),
		StartTime:       testTime.Add(30 * time.Minute),
		EndTime:         testTime.Add(60 * time.Minute),
		DurationMinutes: 30,
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, f.store.DB().Create(next).Error)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{f.booking.ID, next.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.manager.Start(ctx, id, true)
		}(i, id)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
		} else {
			assert.True(t, domain.IsConflict(err))
		}
	}
	assert.Equal(t, 1, started)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineInUse, m.Status)
	require.NotNil(t, m.CurrentSessionID)

	var running int64
	require.NoError(t, f.store.DB().Model(&model.Session{}).
		Where("machine_id = ? AND status = ?", f.machine.ID, model.SessionRunning).
		Count(&running).Error)
	assert.EqualValues(t, 1, running)
}

func TestStartSessionOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, f.booking.ID, true)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, f.booking.ID, true)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestExtendSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	f.clock = testTime.Add(20 * time.Minute)
	extended, err := f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	require.NoError(t, err)
	assert.True(t, extended.ExtensionGranted)
	assert.Equal(t, 5, extended.ExtensionMinutes)
	assert.WithinDuration(t, testTime.Add(35*time.Minute), extended.EffectiveEnd(), 0)

	b, err := f.store.BookingByID(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, testTime.Add(35*time.Minute), b.EndTime, 0)

	// Single use.
	_, err = f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestExtendSessionNotOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	_, err = f.manager.Extend(ctx, sess.ID, "someone-else", false)
	require.Error(t, err)
	assert.Equal(t, 403, domain.HTTPStatus(err))

	// Staff may extend on the user's behalf.
	_, err = f.manager.Extend(ctx, sess.ID, "warden-1", true)
	require.NoError(t, err)
}

func TestExtendSessionBlockedByNextBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next := &model.Booking{
		UserID:          f.user.ID,
		MachineID:       f.machine.ID,
		SlotDate:        testTime.Truncate(24 * time.Hour),
		StartTime:       testTime.Add(40 * time.Minute),
		EndTime:         testTime.Add(70 * time.Minute),
		DurationMinutes: 30,
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, f.store.DB().Create(next).Error)

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	_, err = f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestExtendSessionBookingNoLongerActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	// A stale booking row must not swallow the new end time silently.
	require.NoError(t, f.store.DB().Model(&model.Booking{}).
		Where("id = ?", f.booking.ID).
		Update("status", model.BookingInterrupted).Error)

	_, err = f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestResumeSessionBookingNoLongerActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)
	_, err = f.manager.Pause(ctx, sess.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.store.DB().Model(&model.Booking{}).
		Where("id = ?", f.booking.ID).
		Update("status", model.BookingInterrupted).Error)

	_, err = f.manager.Resume(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestPauseResumeShiftsEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)
	scheduledEnd := sess.EffectiveEnd()

	f.clock = testTime.Add(10 * time.Minute)
	paused, err := f.manager.Pause(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	f.clock = testTime.Add(16 * time.Minute)
	resumed, err := f.manager.Resume(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, resumed.Status)
	assert.Equal(t, 6, resumed.TotalPausedMinutes)
	// The end shifts by exactly the paused duration and never moves back.
	assert.WithinDuration(t, scheduledEnd.Add(6*time.Minute), resumed.EffectiveEnd(), 0)
	assert.True(t, resumed.EffectiveEnd().After(scheduledEnd))

	b, err := f.store.BookingByID(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, scheduledEnd.Add(6*time.Minute), b.EndTime, 0)
}

func TestPauseRequiresRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	_, err = f.manager.Pause(ctx, sess.ID, nil)
	require.NoError(t, err)

	_, err = f.manager.Pause(ctx, sess.ID, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	_, err = f.manager.Resume(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.manager.Resume(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	f.clock = testTime.Add(25 * time.Minute)
	ended, err := f.manager.End(ctx, sess.ID, model.ActorUser)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, ended.Status)
	assert.Equal(t, 25, ended.DurationMinutes)
	require.NotNil(t, ended.TerminatedBy)
	assert.Equal(t, model.ActorUser, *ended.TerminatedBy)

	b, err := f.store.BookingByID(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, b.Status)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineAvailable, m.Status)
	assert.Nil(t, m.CurrentBookingID)
	assert.Nil(t, m.CurrentSessionID)
	assert.Equal(t, 1, m.TotalUsageCount)
	assert.Equal(t, 25, m.TotalUsageMinutes)
}

func TestForceStopSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	f.clock = testTime.Add(5 * time.Minute)
	stopped, err := f.manager.ForceStop(ctx, sess.ID, model.ActorStaff)
	require.NoError(t, err)
	assert.Equal(t, model.SessionTerminated, stopped.Status)
	require.NotNil(t, stopped.TerminatedBy)
	assert.Equal(t, model.ActorStaff, *stopped.TerminatedBy)

	b, err := f.store.BookingByID(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingInterrupted, b.Status)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineAvailable, m.Status)
}

func TestClosedSessionIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)
	_, err = f.manager.End(ctx, sess.ID, model.ActorUser)
	require.NoError(t, err)

	_, err = f.manager.End(ctx, sess.ID, model.ActorUser)
	assert.True(t, domain.IsConflict(err))
	_, err = f.manager.Pause(ctx, sess.ID, nil)
	assert.True(t, domain.IsConflict(err))
	_, err = f.manager.Resume(ctx, sess.ID)
	assert.True(t, domain.IsConflict(err))
	_, err = f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	assert.True(t, domain.IsConflict(err))
}

func TestActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, none, err := f.manager.Active(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Zero(t, none)

	started, err := f.manager.Start(ctx, f.booking.ID, false)
	require.NoError(t, err)

	f.clock = testTime.Add(12 * time.Minute)
	sess, remaining, err := f.manager.Active(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, started.ID, sess.ID)
	assert.Equal(t, 18, remaining)
}
