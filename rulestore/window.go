package rulestore

import (
	"fmt"
	"time"
)

// IST is the wall-clock zone active windows are expressed in.
var IST = time.FixedZone("IST", 5*3600+30*60)

// ActiveWindow bounds a rule to a time-of-day range in IST. Zero values mean
// the rule is always in-window. StartAt after EndAt describes an overnight
// window (e.g. 22:00-06:00).
type ActiveWindow struct {
	StartAt string `json:"start_at,omitempty"` // "HH:MM"
	EndAt   string `json:"end_at,omitempty"`   // "HH:MM"
}

// IsZero reports whether no window is configured.
func (w ActiveWindow) IsZero() bool {
	return w.StartAt == "" && w.EndAt == ""
}

// validate checks the HH:MM shape of both bounds.
func (w ActiveWindow) validate() error {
	if w.IsZero() {
		return nil
	}
	if w.StartAt == "" || w.EndAt == "" {
		return fmt.Errorf("active window needs both bounds, got start=%q end=%q", w.StartAt, w.EndAt)
	}
	if _, err := minuteOfDay(w.StartAt); err != nil {
		return err
	}
	if _, err := minuteOfDay(w.EndAt); err != nil {
		return err
	}
	return nil
}

// Contains reports whether t falls inside the window, evaluated in IST.
// Gating applies only at evaluation instants: callers check at match time and
// at each nurturing fire time, never retroactively.
func (w ActiveWindow) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}

	start, err := minuteOfDay(w.StartAt)
	if err != nil {
		return true
	}
	end, err := minuteOfDay(w.EndAt)
	if err != nil {
		return true
	}

	local := t.In(IST)
	now := local.Hour()*60 + local.Minute()

	if start <= end {
		return now >= start && now <= end
	}
	// Overnight window wraps past midnight.
	return now >= start || now <= end
}

// NextOpen returns the earliest instant at or after t that falls inside the
// window. If t is already inside, t is returned unchanged.
func (w ActiveWindow) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}

	start, err := minuteOfDay(w.StartAt)
	if err != nil {
		return t
	}

	local := t.In(IST)
	opening := time.Date(local.Year(), local.Month(), local.Day(),
		start/60, start%60, 0, 0, IST)
	if !opening.After(local) {
		opening = opening.AddDate(0, 0, 1)
	}
	return opening
}

// minuteOfDay parses "HH:MM" into minutes since midnight.
func minuteOfDay(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("time-of-day %q is not HH:MM: %w", s, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
