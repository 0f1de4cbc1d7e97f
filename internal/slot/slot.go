// Package slot implements the buffered interval math behind slot allocation:
// availability checks against existing bookings and next-free-slot search.
// All functions are pure over the booking slice they are given.
package slot

import (
	"sort"
	"time"

	"lunex-backend/internal/model"
)

// Window is a concrete [Start, End) slot on one machine.
type Window struct {
	Start time.Time
	End   time.Time
}

// Available reports whether [start, end) can be booked given the existing
// bookings. An existing Confirmed/Active booking blocks the range
// [startTime-buffer, endTime+buffer) against the raw candidate window; the
// buffer reserves room for a possible extension and physical turnaround.
// Bookings whose ID equals excludeID are ignored.
func Available(bookings []model.Booking, start, end time.Time, buffer time.Duration, excludeID string) bool {
	for _, b := range bookings {
		if b.ID == excludeID || !b.Status.Blocking() {
			continue
		}
		if b.StartTime.Before(end.Add(buffer)) && b.EndTime.After(start.Add(-buffer)) {
			return false
		}
	}
	return true
}

// NextFree finds the earliest window of the given duration at or after
// `after`, walking the machine's future Confirmed/Active bookings in
// start-time order and skipping past each buffered conflict. The candidate
// start sits on the 5-minute grid; earliest start wins.
func NextFree(bookings []model.Booking, duration time.Duration, after time.Time, buffer time.Duration) Window {
	relevant := make([]model.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Status.Blocking() && !b.EndTime.Before(after) {
			relevant = append(relevant, b)
		}
	}
	sort.Slice(relevant, func(i, j int) bool {
		return relevant[i].StartTime.Before(relevant[j].StartTime)
	})

	cand := ceilTo5Minutes(after)
	for _, b := range relevant {
		candEnd := cand.Add(duration)
		if cand.Before(b.EndTime.Add(buffer)) && candEnd.After(b.StartTime.Add(-buffer)) {
			cand = ceilTo5Minutes(b.EndTime.Add(buffer))
		}
	}
	return Window{Start: cand, End: cand.Add(duration)}
}

// ceilTo5Minutes drops seconds and rounds the minute up to the next multiple
// of five; times already on the grid stay put, which keeps NextFree
// idempotent on its own output.
func ceilTo5Minutes(t time.Time) time.Time {
	t = t.Truncate(time.Minute)
	if m := t.Minute() % 5; m != 0 {
		t = t.Add(time.Duration(5-m) * time.Minute)
	}
	return t
}
