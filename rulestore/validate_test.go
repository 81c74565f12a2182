package rulestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
)

func validRule(id string) Rule {
	return Rule{
		ID:               id,
		Triggers:         []string{"hello"},
		MatchMode:        MatchIncludesIgnoreCase,
		Scope:            RecipientScope{IncludeSaved: true, IncludeUnsaved: true},
		ResponseDelaySec: 5,
		TriggerGapSec:    60,
		IsActive:         true,
		Payload:          event.Payload{Text: "hi there"},
	}
}

func TestRule_Validate_OK(t *testing.T) {
	assert.NoError(t, validRule("r1").Validate())
}

func TestRule_Validate_WildcardAnyMode(t *testing.T) {
	r := validRule("r1")
	r.Triggers = nil
	for _, mode := range []MatchMode{
		MatchIncludesIgnoreCase, MatchIncludesMatchCase,
		MatchExactIgnoreCase, MatchExactMatchCase,
		MatchAnywhereIgnoreCase, MatchAnywhereMatchCase,
	} {
		r.MatchMode = mode
		assert.NoError(t, r.Validate(), "mode %s", mode)
	}
}

func TestRule_Validate_UnknownMatchMode(t *testing.T) {
	r := validRule("r1")
	r.MatchMode = "fuzzy-vibes"

	err := r.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownMatchMode)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRule_Validate_EmptyTriggerPhrase(t *testing.T) {
	// A blank phrase in an includes mode would match every message; wildcard
	// is an empty Triggers slice, never a blank entry.
	for _, triggers := range [][]string{{""}, {"hello", ""}, {"  "}} {
		r := validRule("r1")
		r.Triggers = triggers

		err := r.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrEmptyTrigger)
		assert.True(t, errors.IsConfiguration(err))
	}
}

func TestRule_Validate_Unschedulable(t *testing.T) {
	tests := []struct {
		name  string
		delay int64
		gap   int64
	}{
		{"zero delay", 0, 60},
		{"negative delay", -1, 60},
		{"zero gap", 5, 0},
		{"negative gap", 5, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule("r1")
			r.ResponseDelaySec = tt.delay
			r.TriggerGapSec = tt.gap
			assert.ErrorIs(t, r.Validate(), errors.ErrUnschedulableRule)
		})
	}
}

func TestRule_Validate_NurturingOffsets(t *testing.T) {
	r := validRule("r1")
	r.Nurturing = []NurturingStep{
		{OffsetSeconds: 60}, {OffsetSeconds: 300}, {OffsetSeconds: 3600},
	}
	assert.NoError(t, r.Validate())

	// Equal offsets are allowed (non-decreasing).
	r.Nurturing = []NurturingStep{{OffsetSeconds: 60}, {OffsetSeconds: 60}}
	assert.NoError(t, r.Validate())

	// The engine does not sort out-of-order input.
	r.Nurturing = []NurturingStep{{OffsetSeconds: 300}, {OffsetSeconds: 60}}
	assert.ErrorIs(t, r.Validate(), errors.ErrNonMonotonicOffsets)

	r.Nurturing = []NurturingStep{{OffsetSeconds: -5}}
	assert.ErrorIs(t, r.Validate(), errors.ErrNegativeOffset)
}

func TestRule_Validate_Window(t *testing.T) {
	r := validRule("r1")
	r.Window = ActiveWindow{StartAt: "09:00", EndAt: "18:00"}
	assert.NoError(t, r.Validate())

	r.Window = ActiveWindow{StartAt: "09:00"}
	assert.ErrorIs(t, r.Validate(), errors.ErrInvalidActiveWindow)

	r.Window = ActiveWindow{StartAt: "25:00", EndAt: "18:00"}
	assert.ErrorIs(t, r.Validate(), errors.ErrInvalidActiveWindow)
}

func TestValidateSet_SkipsInvalid(t *testing.T) {
	bad := validRule("bad")
	bad.TriggerGapSec = 0

	valid, invalid := ValidateSet([]Rule{validRule("good"), bad})

	require.Len(t, valid, 1)
	assert.Equal(t, "good", valid[0].ID)
	require.Len(t, invalid, 1)
	assert.ErrorIs(t, invalid["bad"], errors.ErrUnschedulableRule)
}

func TestRule_DelayDisplay(t *testing.T) {
	r := validRule("r1")
	r.ResponseDelaySec = 7200
	v, u := r.DelayDisplay()
	assert.Equal(t, int64(2), v)
	assert.Equal(t, "HOUR", string(u))

	r.ResponseDelaySec = 5400
	v, u = r.DelayDisplay()
	assert.Equal(t, int64(90), v)
	assert.Equal(t, "MINUTE", string(u))
}
