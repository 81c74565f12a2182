package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/replyflow/component"
	"github.com/c360/replyflow/debounce"
	"github.com/c360/replyflow/directory"
	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/nurture"
	"github.com/c360/replyflow/rulestore"
	"github.com/c360/replyflow/schedule"
)

// testPipeline assembles a full engine over in-memory stores with a manual
// clock, so tests drive time explicitly.
type testPipeline struct {
	engine *Engine
	rules  *rulestore.FileStore
	dir    *directory.StaticDirectory
	sink   *dispatch.MemorySink
	queue  *nurture.ProcessTimerQueue
	cancel *dispatch.MemoryCancelRegistry
	start  time.Time
}

func newTestPipeline(t *testing.T, rules ...rulestore.Rule) *testPipeline {
	t.Helper()

	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	store := rulestore.NewFileStore()
	if invalid := store.SetRules(rules); len(invalid) > 0 {
		t.Fatalf("invalid test rules: %v", invalid)
	}

	dir := directory.NewStatic()
	sink := dispatch.NewMemorySink()
	queue := nurture.NewManualTimerQueue(start)
	clock := queue.Now

	seq := nurture.NewSequencer(nurture.NewMemorySessionStore(), queue, sink, store,
		nurture.WithSequencerClock(clock))
	sched := schedule.New(sink, schedule.WithSequencer(seq))
	cancels := dispatch.NewMemoryCancelRegistry()

	eng, err := New(Options{
		Rules:     store,
		Directory: dir,
		Debouncer: debounce.New(debounce.NewMemoryStore()),
		Scheduler: sched,
		Sink:      sink,
		Sequencer: seq,
		Cancels:   cancels,
		Clock:     clock,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(time.Second) })

	return &testPipeline{
		engine: eng,
		rules:  store,
		dir:    dir,
		sink:   sink,
		queue:  queue,
		cancel: cancels,
		start:  start,
	}
}

func replyRule(id string) rulestore.Rule {
	return rulestore.Rule{
		ID:               id,
		Triggers:         []string{"hello"},
		MatchMode:        rulestore.MatchIncludesIgnoreCase,
		Scope:            rulestore.RecipientScope{IncludeSaved: true, IncludeUnsaved: true},
		ResponseDelaySec: 5,
		TriggerGapSec:    60,
		IsActive:         true,
		Payload:          event.Payload{Text: "hi there"},
	}
}

func direct(sender, text string) event.InboundMessage {
	return event.InboundMessage{
		MessageID: event.NewJobID(),
		Text:      text,
		SenderID:  sender,
	}
}

func TestDirectMessageSchedulesReply(t *testing.T) {
	p := newTestPipeline(t, replyRule("r1"))

	require.NoError(t, p.engine.HandleInbound(context.Background(), direct("+15550001", "well hello!")))

	jobs := p.sink.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "r1", jobs[0].RuleID)
	assert.Equal(t, "+15550001", jobs[0].RecipientID)
	assert.Equal(t, p.start.Add(5*time.Second), jobs[0].FireAt)
	assert.Nil(t, jobs[0].StepIndex)
}

func TestNonMatchingMessageIsIgnored(t *testing.T) {
	p := newTestPipeline(t, replyRule("r1"))

	require.NoError(t, p.engine.HandleInbound(context.Background(), direct("+15550001", "goodbye")))
	assert.Zero(t, p.sink.Len())
}

func TestTriggerGapSuppressesRepeat(t *testing.T) {
	p := newTestPipeline(t, replyRule("r1"))
	ctx := context.Background()

	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello")))
	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello again")))
	assert.Equal(t, 1, p.sink.Len(), "second match within the gap must be suppressed")

	// A different sender has an independent window.
	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550002", "hello")))
	assert.Equal(t, 2, p.sink.Len())

	// Past the gap the original sender fires again.
	p.queue.Advance(p.start.Add(61 * time.Second))
	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello once more")))
	assert.Equal(t, 3, p.sink.Len())
}

func TestExcludedSenderIsDenied(t *testing.T) {
	rule := replyRule("r1")
	rule.Scope.ExcludeNumbers = []string{"+15550001"}
	p := newTestPipeline(t, rule)

	p.dir.AddSender("+15550001", event.Sender{PhoneNumber: "+15550001", IsSaved: true})

	require.NoError(t, p.engine.HandleInbound(context.Background(), direct("+15550001", "hello")))
	assert.Zero(t, p.sink.Len())
}

func TestWindowGatesAtMatchTime(t *testing.T) {
	rule := replyRule("r1")
	rule.Window = rulestore.ActiveWindow{StartAt: "09:00", EndAt: "18:00"}
	p := newTestPipeline(t, rule)

	// Move the clock to 20:00 IST, outside the window.
	evening := time.Date(2025, 3, 10, 20, 0, 0, 0, rulestore.IST)
	p.queue.Advance(evening)

	require.NoError(t, p.engine.HandleInbound(context.Background(), direct("+15550001", "hello")))
	assert.Zero(t, p.sink.Len())

	// Back inside the window the rule fires.
	morning := time.Date(2025, 3, 11, 10, 0, 0, 0, rulestore.IST)
	p.queue.Advance(morning)
	require.NoError(t, p.engine.HandleInbound(context.Background(), direct("+15550001", "hello")))
	assert.Equal(t, 1, p.sink.Len())
}

func TestGroupModerationByRole(t *testing.T) {
	p := newTestPipeline(t)
	p.rules.SetModerationRules(rulestore.ModerationRuleSet{
		GroupID:             "g1",
		RestrictedFileTypes: []string{"application/pdf"},
		GroupRule:           rulestore.ReplyRule{Payload: event.Payload{Text: "members cannot share files"}},
		AdminRule:           rulestore.ReplyRule{Payload: event.Payload{Text: "admin notice"}},
	})
	p.dir.SetRole("g1", "admin-user", event.RoleAdmin)

	msg := event.InboundMessage{
		MessageID:  event.NewJobID(),
		SenderID:   "admin-user",
		GroupID:    "g1",
		Attachment: &event.Attachment{MIMEType: "application/pdf"},
	}
	require.NoError(t, p.engine.HandleInbound(context.Background(), msg))

	jobs := p.sink.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "admin notice", jobs[0].Payload.Text)
	assert.Equal(t, "g1", jobs[0].GroupID)
	assert.Equal(t, p.start, jobs[0].FireAt, "moderation replies are immediate")
}

func TestGroupWithoutModerationRulesIsIgnored(t *testing.T) {
	p := newTestPipeline(t)

	msg := event.InboundMessage{
		SenderID:   "user",
		GroupID:    "unknown-group",
		Attachment: &event.Attachment{MIMEType: "application/pdf"},
	}
	require.NoError(t, p.engine.HandleInbound(context.Background(), msg))
	assert.Zero(t, p.sink.Len())
}

func TestNurturingSequenceEndToEnd(t *testing.T) {
	rule := replyRule("drip")
	rule.Nurturing = []rulestore.NurturingStep{
		{OffsetSeconds: 60, Payload: event.Payload{Text: "checking in"}},
		{OffsetSeconds: 300, Payload: event.Payload{Text: "last call"}},
	}
	p := newTestPipeline(t, rule)
	ctx := context.Background()

	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello")))
	require.Equal(t, 1, p.sink.Len(), "primary only at trigger time")

	p.queue.Advance(p.start.Add(60 * time.Second))
	require.Equal(t, 2, p.sink.Len())

	p.queue.Advance(p.start.Add(300 * time.Second))
	jobs := p.sink.Jobs()
	require.Len(t, jobs, 3)

	require.NotNil(t, jobs[2].StepIndex)
	assert.Equal(t, 1, *jobs[2].StepIndex)
	assert.Equal(t, "last call", jobs[2].Payload.Text)
}

func TestCancelRuleRevokesEverything(t *testing.T) {
	rule := replyRule("drip")
	rule.Nurturing = []rulestore.NurturingStep{
		{OffsetSeconds: 60, Payload: event.Payload{Text: "checking in"}},
	}
	p := newTestPipeline(t, rule)
	ctx := context.Background()

	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello")))
	require.Equal(t, 1, p.sink.Len())

	require.NoError(t, p.engine.CancelRule(ctx, "drip"))

	// Pending step never fires.
	p.queue.Advance(p.start.Add(time.Hour))
	assert.Equal(t, 1, p.sink.Len())

	// Pending dispatch jobs are tombstoned for consumers.
	cancelled, err := p.cancel.IsCancelled(ctx, "drip")
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Debounce state is gone: the next match fires immediately.
	require.NoError(t, p.engine.HandleInbound(ctx, direct("+15550001", "hello")))
	assert.Equal(t, 2, p.sink.Len())
}

func TestEngineLifecycle(t *testing.T) {
	store := rulestore.NewFileStore()
	eng, err := New(Options{
		Rules:     store,
		Directory: directory.NewStatic(),
		Debouncer: debounce.New(debounce.NewMemoryStore()),
		Scheduler: schedule.New(dispatch.NewMemorySink()),
		Sink:      dispatch.NewMemorySink(),
	})
	require.NoError(t, err)

	assert.Equal(t, component.StateCreated, eng.State())
	assert.False(t, eng.Health().Healthy)

	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, component.StateStarted, eng.State())
	assert.True(t, eng.Health().Healthy)

	// Double start is rejected.
	require.Error(t, eng.Start(context.Background()))

	require.NoError(t, eng.Stop(time.Second))
	assert.Equal(t, component.StateStopped, eng.State())

	meta := eng.Metadata()
	assert.Equal(t, "engine", meta.Name)
	assert.Equal(t, "processor", meta.Type)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
