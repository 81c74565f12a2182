package rulestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// istTime builds a UTC instant whose IST wall clock reads h:m.
func istTime(h, m int) time.Time {
	return time.Date(2025, 6, 10, h, m, 0, 0, IST).UTC()
}

func TestActiveWindow_ZeroAlwaysContains(t *testing.T) {
	w := ActiveWindow{}
	assert.True(t, w.Contains(istTime(0, 0)))
	assert.True(t, w.Contains(istTime(23, 59)))
}

func TestActiveWindow_DaytimeWindow(t *testing.T) {
	w := ActiveWindow{StartAt: "09:00", EndAt: "18:00"}

	assert.True(t, w.Contains(istTime(9, 0)))
	assert.True(t, w.Contains(istTime(12, 30)))
	assert.True(t, w.Contains(istTime(18, 0)))
	assert.False(t, w.Contains(istTime(8, 59)))
	assert.False(t, w.Contains(istTime(18, 1)))
	assert.False(t, w.Contains(istTime(2, 0)))
}

func TestActiveWindow_OvernightWindow(t *testing.T) {
	w := ActiveWindow{StartAt: "22:00", EndAt: "06:00"}

	assert.True(t, w.Contains(istTime(23, 0)))
	assert.True(t, w.Contains(istTime(2, 0)))
	assert.True(t, w.Contains(istTime(6, 0)))
	assert.False(t, w.Contains(istTime(12, 0)))
	assert.False(t, w.Contains(istTime(21, 59)))
}

func TestActiveWindow_EvaluatesInIST(t *testing.T) {
	w := ActiveWindow{StartAt: "09:00", EndAt: "18:00"}

	// 04:00 UTC is 09:30 IST - inside the window.
	utc := time.Date(2025, 6, 10, 4, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(utc))

	// 14:00 UTC is 19:30 IST - outside.
	utc = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	assert.False(t, w.Contains(utc))
}

func TestActiveWindow_NextOpen(t *testing.T) {
	w := ActiveWindow{StartAt: "09:00", EndAt: "18:00"}

	// Inside the window: unchanged.
	inside := istTime(12, 0)
	assert.True(t, w.NextOpen(inside).Equal(inside))

	// Before opening: today's start.
	early := istTime(7, 30)
	assert.True(t, w.NextOpen(early).Equal(istTime(9, 0)))

	// After closing: tomorrow's start.
	late := istTime(20, 0)
	got := w.NextOpen(late)
	want := istTime(9, 0).AddDate(0, 0, 1)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}
