package nurture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/replyflow/errors"
)

// Defaults for the durable timer stream.
const (
	DefaultTimerStream  = "NURTURE_TIMERS"
	DefaultTimerSubject = "nurture.timers"
	defaultTimerDurable = "nurture-timer-worker"

	// maxNakDelay caps a single redelivery hop; long waits are served
	// as a chain of hops so server-side limits never bite.
	maxNakDelay = 10 * time.Minute
)

// TimerClient is the slice of the NATS client the durable queue needs.
// *natsclient.Client satisfies this.
type TimerClient interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
	ConsumeStreamMsgs(ctx context.Context, streamName, durable, subject string, handler func(jetstream.Msg)) error
}

// JetStreamTimerQueue implements TimerQueue on a JetStream work stream.
// A timer is a message; waiting is implemented by NakWithDelay until the
// fire instant arrives, so pending timers survive process restarts.
// CancelRule is a no-op here: the firing handler drops timers whose session
// is gone or cancelled, which is the compensating contract.
type JetStreamTimerQueue struct {
	client  TimerClient
	stream  string
	subject string
	durable string
	logger  *slog.Logger

	mu      sync.Mutex
	handler TimerFunc
	started bool
}

// JetStreamTimerOption configures a JetStreamTimerQueue.
type JetStreamTimerOption func(*JetStreamTimerQueue)

// WithTimerStream overrides the stream and subject prefix.
func WithTimerStream(stream, subject string) JetStreamTimerOption {
	return func(q *JetStreamTimerQueue) {
		q.stream = stream
		q.subject = subject
	}
}

// WithTimerDurable overrides the durable consumer name.
func WithTimerDurable(name string) JetStreamTimerOption {
	return func(q *JetStreamTimerQueue) { q.durable = name }
}

// NewJetStreamTimerQueue creates a durable timer queue.
func NewJetStreamTimerQueue(client TimerClient, opts ...JetStreamTimerOption) *JetStreamTimerQueue {
	q := &JetStreamTimerQueue{
		client:  client,
		stream:  DefaultTimerStream,
		subject: DefaultTimerSubject,
		durable: defaultTimerDurable,
		logger:  slog.Default().With("component", "timer-queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start implements TimerQueue: ensures the stream exists and attaches the
// durable consumer.
func (q *JetStreamTimerQueue) Start(ctx context.Context, fn TimerFunc) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.handler = fn
	q.started = true
	q.mu.Unlock()

	_, err := q.client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subject + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "JetStreamTimerQueue", "Start", "ensure timer stream")
	}

	err = q.client.ConsumeStreamMsgs(ctx, q.stream, q.durable, q.subject+".>", q.handleMsg)
	if err != nil {
		return errors.Wrap(err, "JetStreamTimerQueue", "Start", "attach timer consumer")
	}
	return nil
}

// Schedule implements TimerQueue.
func (q *JetStreamTimerQueue) Schedule(ctx context.Context, t Timer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.WrapInvalid(err, "JetStreamTimerQueue", "Schedule", "encode timer")
	}

	subject := fmt.Sprintf("%s.%s", q.subject, sanitize(t.RuleID))
	if err := q.client.PublishToStream(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "JetStreamTimerQueue", "Schedule", "publish timer")
	}

	q.logger.Debug("Timer scheduled",
		"rule_id", t.RuleID, "recipient_id", t.RecipientID,
		"step", t.Step, "fire_at", t.FireAt)
	return nil
}

// CancelRule implements TimerQueue. Published timers cannot be recalled;
// the handler's session check drops them on arrival.
func (q *JetStreamTimerQueue) CancelRule(context.Context, string) error {
	return nil
}

// Stop implements TimerQueue. Consumer shutdown rides on the NATS client's
// Close; nothing to tear down locally.
func (q *JetStreamTimerQueue) Stop() {}

func (q *JetStreamTimerQueue) handleMsg(msg jetstream.Msg) {
	var t Timer
	if err := json.Unmarshal(msg.Data(), &t); err != nil {
		q.logger.Error("Dropping undecodable timer", "error", err)
		_ = msg.Term()
		return
	}

	if wait := time.Until(t.FireAt); wait > 0 {
		if wait > maxNakDelay {
			wait = maxNakDelay
		}
		_ = msg.NakWithDelay(wait)
		return
	}

	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler == nil {
		_ = msg.NakWithDelay(time.Second)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := handler(ctx, t); err != nil {
		// Firing failed downstream; redeliver shortly. Session state
		// only advances on success, so the retry is safe.
		q.logger.Error("Timer firing failed, will redeliver",
			"rule_id", t.RuleID, "step", t.Step, "error", err)
		_ = msg.NakWithDelay(5 * time.Second)
		return
	}

	_ = msg.Ack()
}
