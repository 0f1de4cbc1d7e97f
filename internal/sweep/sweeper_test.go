package sweep

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
	"lunex-backend/internal/model"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
)

var testTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// recorder counts notifications by type so tests can assert that reminders
// fire exactly once.
type recorder struct {
	mu     sync.Mutex
	counts map[model.NotificationType]int
}

func newRecorder() *recorder {
	return &recorder{counts: make(map[model.NotificationType]int)}
}

func (r *recorder) Notify(_ context.Context, _ string, typ model.NotificationType, _, _ string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[typ]++
}

func (r *recorder) count(typ model.NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[typ]
}

type fixture struct {
	store   *store.Store
	manager *session.Manager
	sweeper *Sweeper
	notes   *recorder
	user    *model.User
	machine *model.Machine
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
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
	s := store.New(gdb)

	u := &model.User{Name: "Priya", Email: "priya@hostel.test", CredentialID: "badge-1", AccountStatus: model.AccountActive}
	require.NoError(t, s.DB().Create(u).Error)
	m := &model.Machine{Code: "W1", Name: "Washer W1", Status: model.MachineAvailable}
	require.NoError(t, s.DB().Create(m).Error)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	f := &fixture{store: s, notes: newRecorder(), user: u, machine: m, clock: testTime}
	clock := func() time.Time { return f.clock }

	f.manager = session.NewManager(s, &cfg.Engine, f.notes)
	f.manager.SetClock(clock)
	f.sweeper = New(s, &cfg.Engine, f.manager, f.notes)
	f.sweeper.SetClock(clock)
	return f
}

func (f *fixture) confirmedBooking(t *testing.T, start, end time.Time) *model.Booking {
	t.Helper()
	b := &model.Booking{
		UserID:          f.user.ID,
		MachineID:       f.machine.ID,
		SlotDate:        start.Truncate(24 * time.Hour),
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start).Minutes()),
		Status:          model.BookingConfirmed,
	}
	require.NoError(t, f.store.DB().Create(b).Error)
	return b
}

func TestNoShowSweep(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedBooking(t, testTime, testTime.Add(30*time.Minute))
	ctx := context.Background()

	// Before the reminder threshold nothing happens.
	f.clock = testTime.Add(3 * time.Minute)
	f.sweeper.NoShowSweep(ctx)
	assert.Zero(t, f.notes.count(model.NotifyNoShowWarning))

	// Past the reminder threshold: warn exactly once.
	f.clock = testTime.Add(6 * time.Minute)
	f.sweeper.NoShowSweep(ctx)
	f.clock = testTime.Add(8 * time.Minute)
	f.sweeper.NoShowSweep(ctx)
	assert.Equal(t, 1, f.notes.count(model.NotifyNoShowWarning))

	stored, err := f.store.BookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, stored.Status)
	assert.NotNil(t, stored.ReminderSentAt)

	// Grace exhausted: the booking becomes a no-show, once.
	f.clock = testTime.Add(11 * time.Minute)
	f.sweeper.NoShowSweep(ctx)
	f.sweeper.NoShowSweep(ctx)

	stored, err = f.store.BookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingNoShow, stored.Status)
	assert.NotNil(t, stored.NoShowAt)

	user, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.NoShowCount)
	assert.Equal(t, 1, f.notes.count(model.NotifySlotReleased))
}

func TestNoShowSweepSparesActivatedBooking(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedBooking(t, testTime, testTime.Add(30*time.Minute))
	ctx := context.Background()

	_, err := f.manager.Start(ctx, b.ID, true)
	require.NoError(t, err)

	f.clock = testTime.Add(11 * time.Minute)
	f.sweeper.NoShowSweep(ctx)

	stored, err := f.store.BookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingActive, stored.Status)

	user, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, user.NoShowCount)
}

func TestAutoEndSweep(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedBooking(t, testTime, testTime.Add(30*time.Minute))
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, b.ID, true)
	require.NoError(t, err)

	// Still running at the effective end minus a minute.
	f.clock = testTime.Add(29 * time.Minute)
	f.sweeper.AutoEndSweep(ctx)
	stored, err := f.store.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, stored.Status)

	f.clock = testTime.Add(31 * time.Minute)
	f.sweeper.AutoEndSweep(ctx)

	stored, err = f.store.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, stored.Status)
	require.NotNil(t, stored.TerminatedBy)
	assert.Equal(t, model.ActorAuto, *stored.TerminatedBy)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineAvailable, m.Status)
}

func TestEndingSoonSweepRearmsAfterExtension(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedBooking(t, testTime, testTime.Add(30*time.Minute))
	ctx := context.Background()

	sess, err := f.manager.Start(ctx, b.ID, true)
	require.NoError(t, err)

	// Outside the horizon: quiet.
	f.clock = testTime.Add(20 * time.Minute)
	f.sweeper.EndingSoonSweep(ctx)
	assert.Zero(t, f.notes.count(model.NotifySessionEnding))

	// Inside the horizon: one reminder, idempotent across reruns.
	f.clock = testTime.Add(26 * time.Minute)
	f.sweeper.EndingSoonSweep(ctx)
	f.sweeper.EndingSoonSweep(ctx)
	assert.Equal(t, 1, f.notes.count(model.NotifySessionEnding))

	// An extension moves the effective end and re-arms the reminder.
	_, err = f.manager.Extend(ctx, sess.ID, f.user.ID, false)
	require.NoError(t, err)

	f.clock = testTime.Add(31 * time.Minute)
	f.sweeper.EndingSoonSweep(ctx)
	assert.Equal(t, 2, f.notes.count(model.NotifySessionEnding))
}

func TestOfferExpirySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offer := &model.PriorityRebook{
		UserID:            f.user.ID,
		OriginalBookingID: "orig-1",
		IssueID:           "issue-1",
		Status:            model.OfferOffered,
		OfferedMachineID:  f.machine.ID,
		OfferedStart:      testTime.Add(time.Hour),
		OfferedEnd:        testTime.Add(90 * time.Minute),
		ExpiresAt:         testTime.Add(30 * time.Minute),
	}
	require.NoError(t, f.store.DB().Create(offer).Error)

	f.clock = testTime.Add(29 * time.Minute)
	f.sweeper.OfferExpirySweep(ctx)
	stored, err := f.store.OfferByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferOffered, stored.Status)

	f.clock = testTime.Add(31 * time.Minute)
	f.sweeper.OfferExpirySweep(ctx)
	stored, err = f.store.OfferByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferExpired, stored.Status)
}

func TestHeartbeatSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := testTime.Add(-15 * time.Minute)
	fresh := testTime.Add(-5 * time.Minute)
	require.NoError(t, f.store.TouchHeartbeat(ctx, f.machine.ID, stale))

	m2 := &model.Machine{Code: "W2", Name: "Washer W2", Status: model.MachineAvailable}
	require.NoError(t, f.store.DB().Create(m2).Error)
	require.NoError(t, f.store.TouchHeartbeat(ctx, m2.ID, fresh))

	f.sweeper.HeartbeatSweep(ctx)

	m, err := f.store.MachineByID(ctx, f.machine.ID)
	require.NoError(t, err)
	assert.False(t, m.IsOnline)

	m, err = f.store.MachineByID(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, m.IsOnline)
}
