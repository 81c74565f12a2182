// Package engine wires the evaluation pipeline: inbound messages flow
// through moderation or trigger matching, recipient resolution, gap
// debouncing, and on into scheduling and nurturing.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/replyflow/component"
	"github.com/c360/replyflow/debounce"
	"github.com/c360/replyflow/directory"
	"github.com/c360/replyflow/dispatch"
	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/matcher"
	"github.com/c360/replyflow/metric"
	"github.com/c360/replyflow/moderation"
	"github.com/c360/replyflow/nurture"
	"github.com/c360/replyflow/resolver"
	"github.com/c360/replyflow/rulestore"
	"github.com/c360/replyflow/schedule"
)

// Subscriber delivers raw inbound payloads. *natsclient.Client satisfies
// this; embedded deployments can skip it and call HandleInbound directly.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Options configures an Engine. Rules, Directory, Debouncer, Scheduler, and
// Sink are required; the rest are optional.
type Options struct {
	Rules     rulestore.Store
	Directory directory.Directory
	Debouncer *debounce.Debouncer
	Scheduler *schedule.Scheduler
	Sink      dispatch.Sink

	// Sequencer enables nurturing cancellation fan-out and metrics.
	Sequencer *nurture.Sequencer

	// Cancels marks pending dispatch jobs when a rule is cancelled.
	Cancels dispatch.CancelRegistry

	// Subscriber and InboundSubject attach the engine to a message feed.
	Subscriber     Subscriber
	InboundSubject string

	// Metrics enables Prometheus counters when set.
	Metrics metric.MetricsRegistrar

	// Clock overrides the time source. Tests use this.
	Clock func() time.Time
}

// Engine is the rule-evaluation pipeline. It implements
// component.Component.
type Engine struct {
	rules   rulestore.Store
	match   *matcher.Matcher
	dir     directory.Directory
	deb     *debounce.Debouncer
	sched   *schedule.Scheduler
	seq     *nurture.Sequencer
	sink    dispatch.Sink
	cancels dispatch.CancelRegistry

	sub            Subscriber
	inboundSubject string

	now     func() time.Time
	logger  *slog.Logger
	metrics *engineMetrics

	mu         sync.RWMutex
	state      component.State
	startedAt  time.Time
	lastErr    error
	cancelRun  context.CancelFunc
	errorCount atomic.Int64
	processed  atomic.Int64
	lastActive atomic.Value // time.Time
}

// New creates an Engine from options.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Rules == nil:
		return nil, fmt.Errorf("%w: rule store", errors.ErrMissingConfig)
	case opts.Directory == nil:
		return nil, fmt.Errorf("%w: directory", errors.ErrMissingConfig)
	case opts.Debouncer == nil:
		return nil, fmt.Errorf("%w: debouncer", errors.ErrMissingConfig)
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", errors.ErrMissingConfig)
	case opts.Sink == nil:
		return nil, fmt.Errorf("%w: dispatch sink", errors.ErrMissingConfig)
	}
	if opts.Subscriber != nil && opts.InboundSubject == "" {
		return nil, fmt.Errorf("%w: inbound subject", errors.ErrMissingConfig)
	}

	metrics, err := newEngineMetrics(opts.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "register metrics")
	}

	e := &Engine{
		rules:          opts.Rules,
		match:          matcher.New(),
		dir:            opts.Directory,
		deb:            opts.Debouncer,
		sched:          opts.Scheduler,
		seq:            opts.Sequencer,
		sink:           opts.Sink,
		cancels:        opts.Cancels,
		sub:            opts.Subscriber,
		inboundSubject: opts.InboundSubject,
		now:            opts.Clock,
		logger:         slog.Default().With("component", "engine"),
		metrics:        metrics,
		state:          component.StateCreated,
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.lastActive.Store(time.Time{})

	e.deb.OnSuppressed = func(string, string) { e.metrics.incSuppressed() }
	if e.seq != nil {
		e.seq.OnStepDispatched = func(string, int) { e.metrics.incStepDispatched() }
		e.seq.OnSessionDone = func(_ string, status nurture.Status) {
			e.metrics.incSessionFinished(string(status))
		}
	}

	return e, nil
}

// Start attaches the engine to its inbound feed and starts the sequencer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == component.StateStarted {
		e.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("engine already started"), "Engine", "Start", "duplicate start")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	e.startedAt = e.now()
	e.mu.Unlock()

	if e.seq != nil {
		if err := e.seq.Start(runCtx); err != nil {
			cancel()
			e.setFailed(err)
			return errors.Wrap(err, "Engine", "Start", "start sequencer")
		}
	}

	if e.sub != nil {
		err := e.sub.Subscribe(runCtx, e.inboundSubject, func(msgCtx context.Context, data []byte) {
			var msg event.InboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				e.logger.Warn("Dropping undecodable inbound message", "error", err)
				return
			}
			if err := e.HandleInbound(msgCtx, msg); err != nil {
				e.logger.Error("Inbound processing failed",
					"message_id", msg.MessageID, "error", err)
			}
		})
		if err != nil {
			cancel()
			e.setFailed(err)
			return errors.Wrap(err, "Engine", "Start", "subscribe inbound")
		}
	}

	e.mu.Lock()
	e.state = component.StateStarted
	e.mu.Unlock()

	e.logger.Info("Engine started", "inbound_subject", e.inboundSubject)
	return nil
}

// Stop shuts the engine down within the timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if e.state != component.StateStarted {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancelRun
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if cancel != nil {
			cancel()
		}
		if e.seq != nil {
			e.seq.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.setFailed(fmt.Errorf("shutdown timed out after %v", timeout))
		return errors.WrapTransient(
			fmt.Errorf("shutdown timed out after %v", timeout),
			"Engine", "Stop", "graceful shutdown")
	}

	e.mu.Lock()
	e.state = component.StateStopped
	e.mu.Unlock()

	e.logger.Info("Engine stopped")
	return nil
}

// HandleInbound runs one message through the pipeline. Group messages take
// the moderation path; direct messages take the rule path.
func (e *Engine) HandleInbound(ctx context.Context, msg event.InboundMessage) error {
	e.metrics.incReceived()
	e.processed.Add(1)
	e.lastActive.Store(e.now())

	var err error
	if msg.IsGroup() {
		err = e.handleGroup(ctx, msg)
	} else {
		err = e.handleDirect(ctx, msg)
	}
	if err != nil {
		e.metrics.incFailure()
		e.errorCount.Add(1)
		e.recordError(err)
	}
	return err
}

// CancelRule revokes a rule everywhere: running sequences, pending dispatch
// jobs, and debounce state. Already-delivered messages are not recalled.
func (e *Engine) CancelRule(ctx context.Context, ruleID string) error {
	if e.seq != nil {
		if err := e.seq.CancelRule(ctx, ruleID); err != nil {
			return errors.Wrap(err, "Engine", "CancelRule", "cancel sequences")
		}
	}
	if e.cancels != nil {
		if err := e.cancels.CancelRule(ctx, ruleID); err != nil {
			return errors.Wrap(err, "Engine", "CancelRule", "tombstone pending jobs")
		}
	}
	if err := e.deb.Forget(ctx, ruleID); err != nil {
		return errors.Wrap(err, "Engine", "CancelRule", "drop debounce state")
	}

	e.logger.Info("Rule cancelled", "rule_id", ruleID)
	return nil
}

// RevokeRecipient cancels one recipient's running sequence for a rule, used
// when eligibility is revoked mid-sequence.
func (e *Engine) RevokeRecipient(ctx context.Context, ruleID, recipientID string) error {
	if e.seq == nil {
		return nil
	}
	return e.seq.CancelSession(ctx, ruleID, recipientID)
}

func (e *Engine) handleDirect(ctx context.Context, msg event.InboundMessage) error {
	snapshot, err := e.rules.ActiveRules(ctx)
	if err != nil {
		return errors.Wrap(err, "Engine", "handleDirect", "load rule snapshot")
	}

	now := e.now()
	inWindow := snapshot[:0:0]
	for _, rule := range snapshot {
		if rule.Window.Contains(now) {
			inWindow = append(inWindow, rule)
		}
	}

	results := e.match.Match(msg, inWindow)
	if len(results) == 0 {
		return nil
	}

	sender, err := e.dir.Sender(ctx, msg.SenderID)
	if err != nil {
		return errors.Wrap(err, "Engine", "handleDirect", "resolve sender")
	}

	var firstErr error
	for _, result := range results {
		rule := result.Rule
		e.metrics.incMatched(rule.ID)

		decision := resolver.Resolve(rule.Scope, sender)
		if !decision.Allowed() {
			e.metrics.incDenied(decision.String())
			e.logger.Debug("Sender not eligible",
				"rule_id", rule.ID, "sender_id", msg.SenderID,
				"decision", decision.String())
			continue
		}

		accepted, err := e.deb.Accept(ctx, rule.ID, msg.SenderID, rule.TriggerGap(), now)
		if err != nil {
			firstErr = coalesce(firstErr, errors.Wrap(err, "Engine", "handleDirect", "gap check"))
			continue
		}
		if !accepted {
			continue
		}

		vars := map[string]string{
			"name":   sender.TemplateName(),
			"number": sender.PhoneNumber,
		}
		if _, err := e.sched.Schedule(ctx, rule, msg, now, vars); err != nil {
			firstErr = coalesce(firstErr, err)
			continue
		}
		e.metrics.incScheduled()
	}

	return firstErr
}

func (e *Engine) handleGroup(ctx context.Context, msg event.InboundMessage) error {
	set, err := e.rules.ModerationRules(ctx, msg.GroupID)
	if err != nil {
		return errors.Wrap(err, "Engine", "handleGroup", "load moderation rules")
	}
	if set == nil {
		return nil
	}

	role, err := e.dir.RoleInGroup(ctx, msg.SenderID, msg.GroupID)
	if err != nil {
		return errors.Wrap(err, "Engine", "handleGroup", "resolve group role")
	}

	reply := moderation.Evaluate(*set, msg, role)
	if reply == nil {
		return nil
	}

	job := event.DispatchJob{
		JobID:       event.NewJobID(),
		RuleID:      fmt.Sprintf("moderation.%s", msg.GroupID),
		RecipientID: msg.SenderID,
		GroupID:     msg.GroupID,
		FireAt:      e.now(),
		Payload:     reply.Payload,
	}
	if err := e.sink.Enqueue(ctx, job); err != nil {
		return errors.Wrap(err, "Engine", "handleGroup", "enqueue moderation reply")
	}

	e.metrics.incModeration(string(role))
	e.logger.Debug("Moderation reply sent",
		"group_id", msg.GroupID, "sender_id", msg.SenderID, "role", role)
	return nil
}

func (e *Engine) setFailed(err error) {
	e.mu.Lock()
	e.state = component.StateFailed
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func coalesce(current, next error) error {
	if current != nil {
		return current
	}
	return next
}
