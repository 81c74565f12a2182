package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/pkg/retry"
)

// Default subjects for the dispatch stream and its failure channel.
const (
	DefaultSubjectPrefix  = "dispatch.jobs"
	FailedSubject         = "events.dispatch.failed"
	defaultPublishTimeout = 10 * time.Second
)

// StreamPublisher publishes to a JetStream stream. *natsclient.Client
// satisfies this.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// DeliveryFailed is emitted when a job exhausts its publish retry budget.
// Session state is left untouched so the step can be retried by redelivery.
type DeliveryFailed struct {
	JobID       string    `json:"jobId"`
	RuleID      string    `json:"ruleId"`
	RecipientID string    `json:"recipientId"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failedAt"`
}

// JetStreamSink publishes jobs to the dispatch stream with bounded
// exponential backoff.
type JetStreamSink struct {
	publisher     StreamPublisher
	subjectPrefix string
	retryCfg      retry.Config
	cancels       CancelRegistry
	logger        *slog.Logger
}

// JetStreamSinkOption configures a JetStreamSink.
type JetStreamSinkOption func(*JetStreamSink)

// WithSubjectPrefix overrides the dispatch subject prefix.
func WithSubjectPrefix(prefix string) JetStreamSinkOption {
	return func(s *JetStreamSink) { s.subjectPrefix = prefix }
}

// WithRetryConfig overrides the publish retry budget.
func WithRetryConfig(cfg retry.Config) JetStreamSinkOption {
	return func(s *JetStreamSink) { s.retryCfg = cfg }
}

// WithCancelRegistry makes the sink refuse jobs for cancelled rules, closing
// the race between a rule cancellation and a step already past its session
// check.
func WithCancelRegistry(cancels CancelRegistry) JetStreamSinkOption {
	return func(s *JetStreamSink) { s.cancels = cancels }
}

// NewJetStreamSink creates a sink over the given publisher.
func NewJetStreamSink(publisher StreamPublisher, opts ...JetStreamSinkOption) *JetStreamSink {
	s := &JetStreamSink{
		publisher:     publisher,
		subjectPrefix: DefaultSubjectPrefix,
		retryCfg:      retry.Quick(),
		logger:        slog.Default().With("component", "dispatch-sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue implements Sink. On retry exhaustion it emits a DeliveryFailed
// event on FailedSubject and returns the transient error; callers must not
// advance session state on failure.
func (s *JetStreamSink) Enqueue(ctx context.Context, job event.DispatchJob) error {
	if s.cancels != nil {
		cancelled, err := s.cancels.IsCancelled(ctx, job.RuleID)
		if err != nil {
			s.logger.Warn("Cancellation check failed, enqueuing anyway",
				"job_id", job.JobID, "rule_id", job.RuleID, "error", err)
		} else if cancelled {
			return errors.WrapInvalid(
				fmt.Errorf("%w: rule %s", errors.ErrJobCancelled, job.RuleID),
				"JetStreamSink", "Enqueue", "check cancellation")
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return errors.WrapInvalid(err, "JetStreamSink", "Enqueue", "encode job")
	}

	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, job.RuleID)

	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	err = retry.Do(pubCtx, s.retryCfg, func() error {
		return s.publisher.PublishToStream(pubCtx, subject, data)
	})
	if err == nil {
		s.logger.Debug("Job enqueued",
			"job_id", job.JobID, "rule_id", job.RuleID, "subject", subject)
		return nil
	}

	s.logger.Error("Job publish exhausted retries",
		"job_id", job.JobID, "rule_id", job.RuleID, "error", err)
	s.emitFailure(ctx, job, err)

	return errors.WrapTransient(err, "JetStreamSink", "Enqueue", "publish job")
}

func (s *JetStreamSink) emitFailure(ctx context.Context, job event.DispatchJob, cause error) {
	failed := DeliveryFailed{
		JobID:       job.JobID,
		RuleID:      job.RuleID,
		RecipientID: job.RecipientID,
		Reason:      cause.Error(),
		FailedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(failed)
	if err != nil {
		s.logger.Error("Failed to encode delivery failure", "job_id", job.JobID, "error", err)
		return
	}

	// Best effort; the returned error already carries the primary failure.
	if err := s.publisher.PublishToStream(ctx, FailedSubject, data); err != nil {
		s.logger.Error("Failed to emit delivery failure event",
			"job_id", job.JobID, "error", err)
	}
}
