package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ggoodman/salon-mcp/booking"
)

func TestFirstFreeSlot(t *testing.T) {
	open, closing := at(11, 9, 0), at(11, 18, 0)
	hold := func(sh, sm, eh, em int, st booking.Status) booking.Booking {
		return booking.Booking{StartTime: at(11, sh, sm), EndTime: at(11, eh, em), Status: st}
	}

	cases := []struct {
		name   string
		d      time.Duration
		busy   []booking.Booking
		want   time.Time
		wantOK bool
	}{
		{"empty day", time.Hour, nil, at(11, 9, 0), true},
		{"after first booking", time.Hour, []booking.Booking{hold(9, 0, 10, 0, booking.StatusConfirmed)}, at(11, 10, 0), true},
		{"gap too small", time.Hour, []booking.Booking{
			hold(9, 0, 10, 0, booking.StatusScheduled),
			hold(10, 30, 12, 0, booking.StatusScheduled),
		}, at(11, 12, 0), true},
		{"gap just fits", 30 * time.Minute, []booking.Booking{
			hold(9, 0, 10, 0, booking.StatusScheduled),
			hold(10, 30, 12, 0, booking.StatusScheduled),
		}, at(11, 10, 0), true},
		{"off grid end rounds up", time.Hour, []booking.Booking{hold(9, 0, 9, 45, booking.StatusCompleted)}, at(11, 10, 0), true},
		{"cancelled ignored", time.Hour, []booking.Booking{hold(9, 0, 18, 0, booking.StatusCancelled)}, at(11, 9, 0), true},
		{"no show still holds", time.Hour, []booking.Booking{hold(9, 0, 10, 0, booking.StatusNoShow)}, at(11, 10, 0), true},
		{"must end by close", time.Hour, []booking.Booking{hold(9, 0, 17, 30, booking.StatusConfirmed)}, time.Time{}, false},
		{"ends exactly at close", 30 * time.Minute, []booking.Booking{hold(9, 0, 17, 30, booking.StatusConfirmed)}, at(11, 17, 30), true},
		{"longer than day", 10 * time.Hour, nil, time.Time{}, false},
		{"zero duration", 0, nil, time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := booking.FirstFreeSlot(open, closing, 30*time.Minute, tc.d, tc.busy)
			assert.Equal(t, tc.wantOK, ok)
			assert.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestBookingOverlaps(t *testing.T) {
	b := booking.Booking{StartTime: at(11, 10, 0), EndTime: at(11, 11, 0)}

	assert.True(t, b.Overlaps(at(11, 10, 30), at(11, 11, 30)))
	assert.True(t, b.Overlaps(at(11, 9, 0), at(11, 12, 0)))
	assert.True(t, b.Overlaps(at(11, 10, 15), at(11, 10, 45)))
	assert.False(t, b.Overlaps(at(11, 11, 0), at(11, 12, 0)), "touching at end")
	assert.False(t, b.Overlaps(at(11, 9, 0), at(11, 10, 0)), "touching at start")
}

func TestStatusHoldsSlot(t *testing.T) {
	for _, s := range []booking.Status{booking.StatusScheduled, booking.StatusConfirmed, booking.StatusCompleted, booking.StatusNoShow} {
		assert.True(t, s.HoldsSlot(), s)
	}
	assert.False(t, booking.StatusCancelled.HoldsSlot())
}
