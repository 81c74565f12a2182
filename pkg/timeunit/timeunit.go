// Package timeunit converts user-entered (value, unit) delay pairs to
// canonical seconds and back. Rules store every delay as seconds; the
// console edits them as the (value, unit) pair this package reproduces.
package timeunit

import (
	"fmt"
	"time"
)

// Unit is a closed set of delay units a rule form can carry.
type Unit string

const (
	// Second is the base unit delays are stored in.
	Second Unit = "SEC"
	// Minute converts at 60 seconds.
	Minute Unit = "MINUTE"
	// Hour converts at 3600 seconds.
	Hour Unit = "HOUR"
)

// seconds-per-unit conversion table
const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
)

// Valid reports whether u is a recognized unit.
func (u Unit) Valid() bool {
	switch u {
	case Second, Minute, Hour:
		return true
	}
	return false
}

// Seconds returns the number of seconds in one of u. Unrecognized units
// convert as seconds so a malformed stored value never multiplies a delay.
func (u Unit) Seconds() int64 {
	switch u {
	case Hour:
		return secondsPerHour
	case Minute:
		return secondsPerMinute
	default:
		return 1
	}
}

// Canonical converts a (value, unit) pair to canonical seconds.
func Canonical(value int64, unit Unit) int64 {
	return value * unit.Seconds()
}

// CanonicalDuration converts a (value, unit) pair straight to a time.Duration.
func CanonicalDuration(value int64, unit Unit) time.Duration {
	return time.Duration(Canonical(value, unit)) * time.Second
}

// Display returns the preferred editable representation of a canonical
// seconds value: the largest unit that divides it evenly. 7200 displays as
// (2, Hour); 5400 is not evenly divisible by 3600 and displays as
// (90, Minute), never as a fractional hour.
func Display(seconds int64) (int64, Unit) {
	if seconds == 0 {
		return 0, Second
	}
	if seconds%secondsPerHour == 0 {
		return seconds / secondsPerHour, Hour
	}
	if seconds%secondsPerMinute == 0 {
		return seconds / secondsPerMinute, Minute
	}
	return seconds, Second
}

// Parse converts a stored unit string to a Unit, rejecting unknown values.
func Parse(s string) (Unit, error) {
	u := Unit(s)
	if !u.Valid() {
		return "", fmt.Errorf("unrecognized time unit %q", s)
	}
	return u, nil
}
