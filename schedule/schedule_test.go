package schedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

type recordingStarter struct {
	rule        rulestore.Rule
	recipientID string
	triggerAt   time.Time
	calls       int
	err         error
}

func (r *recordingStarter) Begin(_ context.Context, rule rulestore.Rule, recipientID string, triggerAt time.Time) error {
	r.calls++
	r.rule = rule
	r.recipientID = recipientID
	r.triggerAt = triggerAt
	return r.err
}

func TestScheduleComputesFireAt(t *testing.T) {
	sink := dispatch.NewMemorySink()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(sink)

	rule := rulestore.Rule{
		ID:               "rule-1",
		ResponseDelaySec: 90,
		TriggerGapSec:    300,
		Payload:          event.Payload{Text: "hi {{name}}"},
	}
	msg := event.InboundMessage{SenderID: "+15550001", Text: "hello"}

	job, err := s.Schedule(context.Background(), rule, msg, now, map[string]string{"name": "Asha"})
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, now.Add(90*time.Second), job.FireAt)
	assert.Equal(t, "rule-1", job.RuleID)
	assert.Equal(t, "+15550001", job.RecipientID)
	assert.Equal(t, "hi Asha", job.Payload.Text)
	assert.NotEmpty(t, job.JobID)

	require.Equal(t, 1, sink.Len())
	assert.Equal(t, job.JobID, sink.Jobs()[0].JobID)
}

func TestScheduleAnchorsSequenceAtTriggerTime(t *testing.T) {
	sink := dispatch.NewMemorySink()
	starter := &recordingStarter{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(sink, WithSequencer(starter))

	rule := rulestore.Rule{
		ID:               "rule-1",
		ResponseDelaySec: 3600, // one-hour primary delay must not shift the sequence
		TriggerGapSec:    60,
		Nurturing: []rulestore.NurturingStep{
			{OffsetSeconds: 60, Payload: event.Payload{Text: "step 1"}},
		},
	}

	_, err := s.Schedule(context.Background(), rule, event.InboundMessage{SenderID: "s"}, now, nil)
	require.NoError(t, err)

	require.Equal(t, 1, starter.calls)
	assert.Equal(t, now, starter.triggerAt, "sequence anchor is the trigger instant, not fireAt")
	assert.Equal(t, "s", starter.recipientID)
}

func TestScheduleUsesCallerTriggerInstant(t *testing.T) {
	// Fire times come off the instant the caller matched the message, not
	// off a clock read at scheduling time.
	sink := dispatch.NewMemorySink()
	s := New(sink)

	matchedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := rulestore.Rule{ID: "r", ResponseDelaySec: 30, TriggerGapSec: 1}

	job, err := s.Schedule(context.Background(), rule, event.InboundMessage{SenderID: "s"}, matchedAt, nil)
	require.NoError(t, err)
	assert.Equal(t, matchedAt.Add(30*time.Second), job.FireAt)
}

func TestScheduleSkipsSequencerWithoutSteps(t *testing.T) {
	starter := &recordingStarter{}
	s := New(dispatch.NewMemorySink(), WithSequencer(starter))

	rule := rulestore.Rule{ID: "r", ResponseDelaySec: 1, TriggerGapSec: 1}
	_, err := s.Schedule(context.Background(), rule, event.InboundMessage{SenderID: "s"}, time.Now(), nil)
	require.NoError(t, err)
	assert.Zero(t, starter.calls)
}

func TestScheduleSinkFailure(t *testing.T) {
	sink := dispatch.NewMemorySink()
	sink.FailWith = stderrors.New("stream down")
	starter := &recordingStarter{}
	s := New(sink, WithSequencer(starter))

	rule := rulestore.Rule{
		ID: "r", ResponseDelaySec: 1, TriggerGapSec: 1,
		Nurturing: []rulestore.NurturingStep{{OffsetSeconds: 60}},
	}
	job, err := s.Schedule(context.Background(), rule, event.InboundMessage{SenderID: "s"}, time.Now(), nil)
	require.Error(t, err)
	assert.Nil(t, job)
	assert.Zero(t, starter.calls, "sequence must not start when the primary fails")
}

func TestScheduleSequenceFailureKeepsPrimary(t *testing.T) {
	sink := dispatch.NewMemorySink()
	starter := &recordingStarter{err: stderrors.New("kv down")}
	s := New(sink, WithSequencer(starter))

	rule := rulestore.Rule{
		ID: "r", ResponseDelaySec: 1, TriggerGapSec: 1,
		Nurturing: []rulestore.NurturingStep{{OffsetSeconds: 60}},
	}
	job, err := s.Schedule(context.Background(), rule, event.InboundMessage{SenderID: "s"}, time.Now(), nil)
	require.Error(t, err)
	require.NotNil(t, job, "primary job survives a sequence registration failure")
	assert.Equal(t, 1, sink.Len())
}
