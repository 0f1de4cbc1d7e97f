package booking

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

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

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

func newTestAllocator(t *testing.T) (*Allocator, *store.Store) {
	s := newTestStore(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	a := NewAllocator(s, &cfg.Engine, notify.Discard{})
	a.SetClock(func() time.Time { return testTime })
	return a, s
}

func seedUser(t *testing.T, s *store.Store) *model.User {
	t.Helper()
	u := &model.User{
		Name:          "Priya",
		Email:         fmt.Sprintf("%s@hostel.test", strings.ReplaceAll(t.Name(), "/", "_")),
		CredentialID:  "badge-" + strings.ReplaceAll(t.Name(), "/", "_"),
		AccountStatus: model.AccountActive,
	}
	require.NoError(t, s.DB().Create(u).Error)
	return u
}

func seedMachine(t *testing.T, s *store.Store, code string) *model.Machine {
	t.Helper()
	m := &model.Machine{Code: code, Name: "Washer " + code, Status: model.MachineAvailable}
	require.NoError(t, s.DB().Create(m).Error)
	return m
}

func TestCreateBooking(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")

	start := testTime.Add(time.Hour)
	b, err := a.Create(context.Background(), user.ID, "W1", start, 30)
	require.NoError(t, err)

	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.WithinDuration(t, start, b.StartTime, 0)
	assert.WithinDuration(t, start.Add(30*time.Minute), b.EndTime, 0)
	assert.Equal(t, 30, b.DurationMinutes)

	stored, err := s.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalBookings)
}

func TestCreateBookingValidation(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")
	ctx := context.Background()
	start := testTime.Add(time.Hour)

	t.Run("duration too short", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W1", start, 5)
		require.Error(t, err)
		assert.Equal(t, 400, domain.HTTPStatus(err))
	})

	t.Run("duration too long", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W1", start, 90)
		require.Error(t, err)
		assert.Equal(t, 400, domain.HTTPStatus(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := a.Create(ctx, "nope", "W1", start, 30)
		require.Error(t, err)
		assert.Equal(t, 404, domain.HTTPStatus(err))
	})

	t.Run("unknown machine", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W9", start, 30)
		require.Error(t, err)
		assert.Equal(t, 404, domain.HTTPStatus(err))
	})

	t.Run("start in the past", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W1", testTime.Add(-time.Minute), 30)
		require.Error(t, err)
		assert.Equal(t, 400, domain.HTTPStatus(err))
	})

	t.Run("beyond advance horizon", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W1", testTime.Add(8*24*time.Hour), 30)
		require.Error(t, err)
		assert.Equal(t, 400, domain.HTTPStatus(err))
	})
}

func TestCreateBookingNoCredential(t *testing.T) {
	a, s := newTestAllocator(t)
	u := &model.User{Name: "New Resident", Email: "new@hostel.test", AccountStatus: model.AccountActive}
	require.NoError(t, s.DB().Create(u).Error)
	seedMachine(t, s, "W1")

	_, err := a.Create(context.Background(), u.ID, "W1", testTime.Add(time.Hour), 30)
	require.Error(t, err)
	assert.Equal(t, 400, domain.HTTPStatus(err))
}

func TestCreateBookingUnbookableMachine(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	m := seedMachine(t, s, "W1")
	m.Status = model.MachineMaintenance
	require.NoError(t, s.SaveMachine(context.Background(), m))

	_, err := a.Create(context.Background(), user.ID, "W1", testTime.Add(time.Hour), 30)
	require.Error(t, err)
	assert.Equal(t, 400, domain.HTTPStatus(err))
}

func TestCreateBookingSlotConflict(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	other := &model.User{Name: "Dev", Email: "dev@hostel.test", CredentialID: "badge-dev", AccountStatus: model.AccountActive}
	require.NoError(t, s.DB().Create(other).Error)
	seedMachine(t, s, "W1")
	ctx := context.Background()

	start := testTime.Add(time.Hour)
	_, err := a.Create(ctx, other.ID, "W1", start, 30)
	require.NoError(t, err)

	// Within the trailing buffer of the existing booking.
	_, err = a.Create(ctx, user.ID, "W1", start.Add(35*time.Minute), 30)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Past the buffer it goes through.
	_, err = a.Create(ctx, user.ID, "W1", start.Add(40*time.Minute), 30)
	require.NoError(t, err)
}

func TestCreateBookingUserOverlapAcrossMachines(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")
	seedMachine(t, s, "W2")
	ctx := context.Background()

	start := testTime.Add(time.Hour)
	_, err := a.Create(ctx, user.ID, "W1", start, 30)
	require.NoError(t, err)

	// Same person cannot occupy two machines at once.
	_, err = a.Create(ctx, user.ID, "W2", start.Add(10*time.Minute), 30)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestCreateBookingDailyCap(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := testTime.Add(time.Duration(i+1) * 2 * time.Hour)
		_, err := a.Create(ctx, user.ID, "W1", start, 30)
		require.NoError(t, err)
	}

	_, err := a.Create(ctx, user.ID, "W1", testTime.Add(10*time.Hour), 30)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// The cap is per calendar day.
	_, err = a.Create(ctx, user.ID, "W1", testTime.Add(25*time.Hour), 30)
	require.NoError(t, err)
}

func TestCreateBookingConcurrentSameSlot(t *testing.T) {
	a, s := newTestAllocator(t)
	seedMachine(t, s, "W1")
	ctx := context.Background()

	const racers = 4
	users := make([]*model.User, racers)
	for i := range users {
		u := &model.User{
			Name:          fmt.Sprintf("racer-%d", i),
			Email:         fmt.Sprintf("racer-%d@hostel.test", i),
			CredentialID:  fmt.Sprintf("badge-racer-%d", i),
			AccountStatus: model.AccountActive,
		}
		require.NoError(t, s.DB().Create(u).Error)
		users[i] = u
	}

	start := testTime.Add(time.Hour)
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.Create(ctx, users[i].ID, "W1", start, 30)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, domain.IsConflict(err))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestCancelBooking(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")
	ctx := context.Background()

	b, err := a.Create(ctx, user.ID, "W1", testTime.Add(time.Hour), 30)
	require.NoError(t, err)

	t.Run("stranger cannot cancel", func(t *testing.T) {
		_, err := a.Cancel(ctx, b.ID, "someone-else", false, "")
		require.Error(t, err)
		assert.Equal(t, 403, domain.HTTPStatus(err))
	})

	t.Run("owner cancels", func(t *testing.T) {
		cancelled, err := a.Cancel(ctx, b.ID, user.ID, false, "plans changed")
		require.NoError(t, err)
		assert.Equal(t, model.BookingCancelled, cancelled.Status)
		assert.Equal(t, "plans changed", cancelled.CancelReason)
		assert.NotNil(t, cancelled.CancelledAt)
	})

	t.Run("cannot cancel twice", func(t *testing.T) {
		_, err := a.Cancel(ctx, b.ID, user.ID, false, "")
		require.Error(t, err)
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("cancelled slot is free again", func(t *testing.T) {
		_, err := a.Create(ctx, user.ID, "W1", testTime.Add(time.Hour), 30)
		require.NoError(t, err)
	})
}

func TestSlots(t *testing.T) {
	a, s := newTestAllocator(t)
	user := seedUser(t, s)
	seedMachine(t, s, "W1")
	ctx := context.Background()

	start := testTime.Add(time.Hour)
	b, err := a.Create(ctx, user.ID, "W1", start, 30)
	require.NoError(t, err)

	machine, blocks, err := a.Slots(ctx, "W1", testTime)
	require.NoError(t, err)
	assert.Equal(t, "W1", machine.Code)
	require.Len(t, blocks, 1)
	assert.Equal(t, b.ID, blocks[0].BookingID)
	assert.WithinDuration(t, start, blocks[0].Start, 0)
	// Shown occupancy includes the trailing buffer.
	assert.WithinDuration(t, start.Add(40*time.Minute), blocks[0].End, 0)

	_, blocks, err = a.Slots(ctx, "W1", testTime.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, blocks)
}
