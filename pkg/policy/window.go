package policy

import (
	"fmt"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
)

// Validate checks hour bounds, weekdays and the timezone name
func (w *AccessWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return apperrors.Invalid(fmt.Sprintf("access window hours must be 0-23, got %d-%d", w.StartHour, w.EndHour))
	}
	for _, d := range w.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return apperrors.Invalid(fmt.Sprintf("invalid weekday %d in access window", d))
		}
	}
	if _, err := w.location(); err != nil {
		return err
	}
	return nil
}

func (w *AccessWindow) location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, apperrors.Invalid(fmt.Sprintf("unknown access window timezone %q", w.Timezone))
	}
	return loc, nil
}

// WithinAccessWindow reports whether now, converted into the window's
// timezone, falls inside it. A nil window always admits.
func WithinAccessWindow(window *AccessWindow, now time.Time) (bool, error) {
	if window == nil {
		return true, nil
	}
	if err := window.Validate(); err != nil {
		return false, err
	}

	loc, _ := window.location()
	local := now.In(loc)

	if len(window.DaysOfWeek) > 0 {
		allowed := false
		for _, d := range window.DaysOfWeek {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
	}

	hour := local.Hour()
	start, end := window.StartHour, window.EndHour
	switch {
	case start == end:
		return true, nil
	case start < end:
		return hour >= start && hour < end, nil
	default:
		// Overnight: 22 -> 2 admits 22:00-23:59 and 00:00-01:59.
		return hour >= start || hour < end, nil
	}
}
