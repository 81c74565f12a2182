package nurture

import (
	"context"
	stderrors "errors"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

// lockStripes bounds lock granularity for per-session serialization.
const lockStripes = 64

// jitterFraction is the spread applied to randomized steps: the fire time
// moves within ±10% of the step's own offset.
const jitterFraction = 0.10

// RuleSource resolves a rule by id at fire time, so sequences always send
// the current step definition. A deleted rule fails with
// errors.ErrRuleNotFound, which cancels the session.
type RuleSource interface {
	RuleByID(ctx context.Context, id string) (*rulestore.Rule, error)
}

// Sequencer owns recipient sessions and advances them step by step.
// Each firing is serialized per session key; step N+1's timer is scheduled
// only after step N's advancement is committed to the store.
type Sequencer struct {
	sessions SessionStore
	timers   TimerQueue
	sink     dispatch.Sink
	rules    RuleSource

	locks     [lockStripes]sync.Mutex
	now       func() time.Time
	randFloat func() float64
	logger    *slog.Logger

	// OnStepDispatched fires after a step is handed to dispatch.
	// OnSessionDone fires when a session reaches a terminal status.
	OnStepDispatched func(ruleID string, step int)
	OnSessionDone    func(ruleID string, status Status)
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithSequencerClock overrides the time source. Tests use this.
func WithSequencerClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) { s.now = now }
}

// WithJitterSource overrides the randomness used for randomized steps.
func WithJitterSource(fn func() float64) SequencerOption {
	return func(s *Sequencer) { s.randFloat = fn }
}

// NewSequencer creates a Sequencer.
func NewSequencer(sessions SessionStore, timers TimerQueue, sink dispatch.Sink, rules RuleSource, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		sessions:  sessions,
		timers:    timers,
		sink:      sink,
		rules:     rules,
		now:       time.Now,
		randFloat: rand.Float64,
		logger:    slog.Default().With("component", "nurturing-sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start attaches the sequencer to its timer queue.
func (s *Sequencer) Start(ctx context.Context) error {
	return s.timers.Start(ctx, s.HandleTimer)
}

// Stop halts timer delivery.
func (s *Sequencer) Stop() {
	s.timers.Stop()
}

// Begin opens a session for (rule, recipient) anchored at triggerAt and
// schedules the first step. A still-active session for the pair wins: no
// second session is created, and no timers are duplicated. A finished
// session is replaced, restarting the sequence.
func (s *Sequencer) Begin(ctx context.Context, rule rulestore.Rule, recipientID string, triggerAt time.Time) error {
	if len(rule.Nurturing) == 0 {
		return nil
	}

	key := SessionKey(rule.ID, recipientID)
	lock := &s.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()

	// Sessions open pending and turn active when the first step is
	// handed to dispatch.
	session := RecipientSession{
		RuleID:      rule.ID,
		RecipientID: recipientID,
		TriggerAt:   triggerAt,
		NextStep:    0,
		Status:      StatusPending,
	}

	existing, revision, err := s.sessions.Get(ctx, rule.ID, recipientID)
	switch {
	case err == nil:
		if !existing.Status.Terminal() {
			s.logger.Debug("Sequence already running, not restarting",
				"rule_id", rule.ID, "recipient_id", recipientID,
				"next_step", existing.NextStep)
			return nil
		}
		if _, err := s.sessions.Update(ctx, session, revision); err != nil {
			return errors.Wrap(err, "Sequencer", "Begin", "replace finished session")
		}
	case stderrors.Is(err, errors.ErrSessionNotFound):
		if _, err := s.sessions.Create(ctx, session); err != nil {
			if stderrors.Is(err, errors.ErrRevisionConflict) {
				// Concurrent Begin won the create; their session stands.
				return nil
			}
			return errors.Wrap(err, "Sequencer", "Begin", "create session")
		}
	default:
		return errors.Wrap(err, "Sequencer", "Begin", "load session")
	}

	return s.scheduleStep(ctx, rule, session)
}

// HandleTimer fires one step. Safe under redelivery: a stale or duplicate
// timer finds the session already advanced and drops out.
func (s *Sequencer) HandleTimer(ctx context.Context, t Timer) error {
	key := SessionKey(t.RuleID, t.RecipientID)
	lock := &s.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()

	session, revision, err := s.sessions.Get(ctx, t.RuleID, t.RecipientID)
	if err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			// Cancelled between scheduling and firing.
			s.logger.Debug("Timer for missing session dropped",
				"rule_id", t.RuleID, "recipient_id", t.RecipientID, "step", t.Step)
			return nil
		}
		return errors.Wrap(err, "Sequencer", "HandleTimer", "load session")
	}

	if session.Status.Terminal() {
		s.logger.Debug("Timer for finished session dropped",
			"rule_id", t.RuleID, "recipient_id", t.RecipientID, "step", t.Step,
			"error", errors.ErrSessionFinished)
		return nil
	}
	if t.Step != session.NextStep {
		// Redelivered or superseded timer.
		return nil
	}

	rule, err := s.rules.RuleByID(ctx, t.RuleID)
	if err != nil {
		if stderrors.Is(err, errors.ErrRuleNotFound) {
			return s.finish(ctx, session, revision, StatusCancelled)
		}
		return errors.Wrap(err, "Sequencer", "HandleTimer", "resolve rule")
	}
	if !rule.IsActive {
		return s.finish(ctx, session, revision, StatusCancelled)
	}
	if t.Step >= len(rule.Nurturing) {
		// Rule was edited shorter mid-sequence.
		s.logger.Warn("Step beyond current rule definition, completing sequence",
			"rule_id", t.RuleID, "step", t.Step, "steps", len(rule.Nurturing),
			"error", errors.ErrStepOutOfRange)
		return s.finish(ctx, session, revision, StatusCompleted)
	}

	now := s.now()
	if !rule.Window.Contains(now) {
		// Outside the send window: push this step to the next opening.
		// The session stays put, so the deferred timer is still current.
		deferred := t
		deferred.FireAt = rule.Window.NextOpen(now)
		s.logger.Debug("Step deferred to window opening",
			"rule_id", t.RuleID, "step", t.Step, "fire_at", deferred.FireAt)
		return s.timers.Schedule(ctx, deferred)
	}

	stepIndex := t.Step
	job := event.DispatchJob{
		JobID:       event.NewJobID(),
		RuleID:      t.RuleID,
		RecipientID: t.RecipientID,
		FireAt:      t.FireAt,
		Payload:     rule.Nurturing[stepIndex].Payload,
		StepIndex:   &stepIndex,
	}
	if err := s.sink.Enqueue(ctx, job); err != nil {
		// Not advanced; the queue's redelivery retries the same step.
		return errors.Wrap(err, "Sequencer", "HandleTimer", "hand off step")
	}
	if s.OnStepDispatched != nil {
		s.OnStepDispatched(t.RuleID, stepIndex)
	}

	session.Status = StatusActive
	session.NextStep++
	if session.NextStep >= len(rule.Nurturing) {
		session.Status = StatusCompleted
	}
	revision, err = s.sessions.Update(ctx, session, revision)
	if err != nil {
		// The step went out but the advance did not stick. Redelivery
		// re-runs the step; at-least-once is the contract here.
		return errors.Wrap(err, "Sequencer", "HandleTimer", "commit step advance")
	}

	if session.Status.Terminal() {
		if s.OnSessionDone != nil {
			s.OnSessionDone(session.RuleID, session.Status)
		}
		return nil
	}

	// Advance committed; only now does the next step's timer exist.
	return s.scheduleStep(ctx, *rule, session)
}

// CancelSession cancels one recipient's sequence. Unknown sessions are a
// no-op: cancellation must be idempotent under races.
func (s *Sequencer) CancelSession(ctx context.Context, ruleID, recipientID string) error {
	key := SessionKey(ruleID, recipientID)
	lock := &s.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()

	session, revision, err := s.sessions.Get(ctx, ruleID, recipientID)
	if err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			return nil
		}
		return errors.Wrap(err, "Sequencer", "CancelSession", "load session")
	}
	if session.Status.Terminal() {
		return nil
	}
	return s.finish(ctx, session, revision, StatusCancelled)
}

// CancelRule cancels every session of a rule and drops its pending timers
// where the queue supports recall. Timers already in flight fall out on
// their session check.
func (s *Sequencer) CancelRule(ctx context.Context, ruleID string) error {
	sessions, err := s.sessions.ByRule(ctx, ruleID)
	if err != nil {
		return errors.Wrap(err, "Sequencer", "CancelRule", "list sessions")
	}

	for _, session := range sessions {
		if session.Status.Terminal() {
			continue
		}
		if err := s.CancelSession(ctx, ruleID, session.RecipientID); err != nil {
			return err
		}
	}

	if err := s.timers.CancelRule(ctx, ruleID); err != nil {
		return errors.Wrap(err, "Sequencer", "CancelRule", "drop pending timers")
	}
	return nil
}

// scheduleStep registers the timer for session.NextStep. Offsets are always
// relative to TriggerAt: late firings never push later steps back.
func (s *Sequencer) scheduleStep(ctx context.Context, rule rulestore.Rule, session RecipientSession) error {
	step := rule.Nurturing[session.NextStep]
	fireAt := session.TriggerAt.Add(step.Offset())

	if step.Randomized {
		spread := jitterFraction * float64(step.Offset())
		shift := time.Duration((s.randFloat()*2 - 1) * spread)
		fireAt = fireAt.Add(shift)
	}
	if now := s.now(); fireAt.Before(now) {
		fireAt = now
	}

	timer := Timer{
		RuleID:      session.RuleID,
		RecipientID: session.RecipientID,
		Step:        session.NextStep,
		FireAt:      fireAt,
	}
	if err := s.timers.Schedule(ctx, timer); err != nil {
		return errors.Wrap(err, "Sequencer", "scheduleStep", "schedule step timer")
	}
	return nil
}

func (s *Sequencer) finish(ctx context.Context, session RecipientSession, revision uint64, status Status) error {
	session.Status = status
	if _, err := s.sessions.Update(ctx, session, revision); err != nil {
		return errors.Wrap(err, "Sequencer", "finish", "commit terminal status")
	}
	if s.OnSessionDone != nil {
		s.OnSessionDone(session.RuleID, status)
	}
	s.logger.Debug("Sequence finished",
		"rule_id", session.RuleID, "recipient_id", session.RecipientID,
		"status", status)
	return nil
}

func stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}
