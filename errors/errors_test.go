package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Debouncer", "Accept", "load last fired")
	assert.EqualError(t, err, "Debouncer.Accept: load last fired failed: boom")
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "x", "y", "z"))
}

func TestWrapClassified(t *testing.T) {
	base := stderrors.New("boom")

	err := WrapTransient(base, "Dispatcher", "Enqueue", "publish job")
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))

	err = WrapInvalid(base, "RuleStore", "Load", "validate rule")
	assert.True(t, IsInvalid(err))
	assert.True(t, IsConfiguration(err))

	err = WrapFatal(base, "Engine", "Start", "connect")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"unknown match mode", ErrUnknownMatchMode, ErrorInvalid},
		{"unschedulable rule", ErrUnschedulableRule, ErrorInvalid},
		{"non-monotonic offsets", ErrNonMonotonicOffsets, ErrorInvalid},
		{"dispatch unavailable", ErrDispatchUnavailable, ErrorTransient},
		{"revision conflict", ErrRevisionConflict, ErrorTransient},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"unknown error defaults transient", stderrors.New("???"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestConfigurationErrors_AreNotRetried(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.False(t, rc.ShouldRetry(ErrUnknownMatchMode, 0))
	assert.False(t, rc.ShouldRetry(ErrNonMonotonicOffsets, 0))
	assert.True(t, rc.ShouldRetry(ErrDispatchUnavailable, 0))
	assert.False(t, rc.ShouldRetry(ErrDispatchUnavailable, 3)) // budget exhausted
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}

	cfg := rc.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, time.Second, cfg.MaxDelay)
	assert.InDelta(t, 1.5, cfg.Multiplier, 0.0001)
	assert.True(t, cfg.AddJitter)
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapTransient(ErrKeyNotFound, "KVStore", "Get", "read key")
	assert.True(t, stderrors.Is(err, ErrKeyNotFound))
}
