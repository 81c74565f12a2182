package timeunit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		unit  Unit
		want  int64
	}{
		{"seconds pass through", 45, Second, 45},
		{"minutes multiply by 60", 5, Minute, 300},
		{"hours multiply by 3600", 2, Hour, 7200},
		{"ninety minutes", 90, Minute, 5400},
		{"zero", 0, Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.value, tt.unit))
		})
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name      string
		seconds   int64
		wantValue int64
		wantUnit  Unit
	}{
		{"even hours", 7200, 2, Hour},
		{"even minutes", 300, 5, Minute},
		{"raw seconds", 45, 45, Second},
		{"zero", 0, 0, Second},
		// 5400 is 1.5 hours; fractional display is disallowed, so the
		// largest evenly-dividing unit wins.
		{"ninety minutes stays minutes", 5400, 90, Minute},
		{"sixty-one seconds stays seconds", 61, 61, Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, unit := Display(tt.seconds)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantUnit, unit)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// Canonical then Display must land on an equivalent pair.
	for _, seconds := range []int64{1, 59, 60, 61, 300, 3599, 3600, 5400, 7200, 86400} {
		value, unit := Display(seconds)
		assert.Equal(t, seconds, Canonical(value, unit), "seconds=%d", seconds)
	}
}

func TestCanonicalDuration(t *testing.T) {
	assert.Equal(t, 2*time.Hour, CanonicalDuration(2, Hour))
	assert.Equal(t, 90*time.Second, CanonicalDuration(90, Second))
}

func TestParse(t *testing.T) {
	u, err := Parse("MINUTE")
	assert.NoError(t, err)
	assert.Equal(t, Minute, u)

	_, err = Parse("FORTNIGHT")
	assert.Error(t, err)
}

func TestUnitSeconds_UnknownUnitIsSeconds(t *testing.T) {
	assert.Equal(t, int64(1), Unit("BOGUS").Seconds())
	assert.False(t, Unit("BOGUS").Valid())
}
