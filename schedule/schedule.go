// Package schedule turns an accepted match into a delayed dispatch job and
// kicks off the rule's nurturing sequence.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

// SequenceStarter begins a nurturing sequence for a recipient. The sequence
// is anchored at the trigger instant, not at the primary reply's fire time.
type SequenceStarter interface {
	Begin(ctx context.Context, rule rulestore.Rule, recipientID string, triggerAt time.Time) error
}

// Scheduler computes fire times and hands primary jobs to the dispatch sink.
type Scheduler struct {
	sink   dispatch.Sink
	seq    SequenceStarter
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSequencer attaches a nurturing sequencer. Without one, rules with
// nurturing steps only get their primary reply.
func WithSequencer(seq SequenceStarter) Option {
	return func(s *Scheduler) { s.seq = seq }
}

// New creates a Scheduler over the given sink.
func New(sink dispatch.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		logger: slog.Default().With("component", "delay-scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule emits the primary reply job for a matched rule and registers its
// nurturing sequence. triggerAt is the instant the match was accepted; the
// primary fires at triggerAt+ResponseDelay, and nurturing offsets are all
// relative to triggerAt, so a slow primary never pushes the sequence back.
// vars are substituted into the reply template.
func (s *Scheduler) Schedule(
	ctx context.Context,
	rule rulestore.Rule,
	msg event.InboundMessage,
	triggerAt time.Time,
	vars map[string]string,
) (*event.DispatchJob, error) {
	job := event.DispatchJob{
		JobID:       event.NewJobID(),
		RuleID:      rule.ID,
		RecipientID: msg.SenderID,
		GroupID:     msg.GroupID,
		FireAt:      triggerAt.Add(rule.ResponseDelay()),
		Payload:     rule.Payload.Render(vars),
	}

	if err := s.sink.Enqueue(ctx, job); err != nil {
		return nil, errors.Wrap(err, "Scheduler", "Schedule", "enqueue primary reply")
	}

	s.logger.Debug("Primary reply scheduled",
		"rule_id", rule.ID, "recipient_id", msg.SenderID,
		"fire_at", job.FireAt, "delay", rule.ResponseDelay())

	if s.seq != nil && len(rule.Nurturing) > 0 {
		if err := s.seq.Begin(ctx, rule, msg.SenderID, triggerAt); err != nil {
			// The primary is already handed off; surface the sequence
			// failure without unwinding it.
			return &job, errors.Wrap(err, "Scheduler", "Schedule", "begin nurturing sequence")
		}
	}

	return &job, nil
}
