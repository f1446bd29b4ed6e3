package booking

import (
	"fmt"
	"time"
)

// Hours describes when the salon takes appointments.
type Hours struct {
	// Open and Close are hours of the day in Location. An appointment must
	// end no later than Close.
	Open  int
	Close int
	// Step is the spacing between candidate start times.
	Step time.Duration
	// SearchDays bounds slot search to days at most this far after today.
	SearchDays int
	Location   *time.Location
}

// DefaultHours is 09:00-18:00 UTC in 30 minute steps, searching a week ahead.
func DefaultHours() Hours {
	return Hours{Open: 9, Close: 18, Step: 30 * time.Minute, SearchDays: 7, Location: time.UTC}
}

// Validate reports configuration that would make slot search meaningless.
func (h Hours) Validate() error {
	switch {
	case h.Open < 0 || h.Close > 24 || h.Open >= h.Close:
		return fmt.Errorf("booking: invalid opening hours %d-%d", h.Open, h.Close)
	case h.Step <= 0:
		return fmt.Errorf("booking: slot step must be positive, got %s", h.Step)
	case h.SearchDays < 1:
		return fmt.Errorf("booking: search days must be at least 1, got %d", h.SearchDays)
	case h.Location == nil:
		return fmt.Errorf("booking: nil location")
	}
	return nil
}

// day truncates t to midnight in the salon's location.
func (h Hours) day(t time.Time) time.Time {
	t = t.In(h.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, h.Location)
}

// window returns the opening and closing instants of day.
func (h Hours) window(day time.Time) (time.Time, time.Time) {
	open := time.Date(day.Year(), day.Month(), day.Day(), h.Open, 0, 0, 0, h.Location)
	closing := time.Date(day.Year(), day.Month(), day.Day(), h.Close, 0, 0, 0, h.Location)
	return open, closing
}

// FirstFreeSlot returns the earliest start in [open, close) on a step grid
// from open such that [start, start+d) ends by close and overlaps none of the
// slot-holding bookings in busy.
func FirstFreeSlot(open, closing time.Time, step, d time.Duration, busy []Booking) (time.Time, bool) {
	if step <= 0 || d <= 0 {
		return time.Time{}, false
	}
	for start := open; !start.Add(d).After(closing); start = start.Add(step) {
		end := start.Add(d)
		free := true
		for _, b := range busy {
			if b.Status.HoldsSlot() && b.Overlaps(start, end) {
				free = false
				break
			}
		}
		if free {
			return start, true
		}
	}
	return time.Time{}, false
}
