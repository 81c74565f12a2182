package nurture

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Timer is one pending step firing. It carries only coordinates; payloads
// are resolved against the current rule definition at fire time.
type Timer struct {
	RuleID      string    `json:"ruleId"`
	RecipientID string    `json:"recipientId"`
	Step        int       `json:"step"`
	FireAt      time.Time `json:"fireAt"`
}

// TimerFunc handles a due timer. Errors mean the firing should be retried
// by the queue's redelivery mechanism where it has one.
type TimerFunc func(ctx context.Context, t Timer) error

// TimerQueue delivers timers at their fire instants. Implementations differ
// in durability: the in-process queue dies with the process, the JetStream
// queue survives restarts.
type TimerQueue interface {
	// Schedule registers a timer. FireAt in the past fires immediately.
	Schedule(ctx context.Context, t Timer) error

	// Start begins delivering timers to fn. Must be called before
	// Schedule for queues that deliver asynchronously.
	Start(ctx context.Context, fn TimerFunc) error

	// CancelRule drops pending timers for a rule where the backend can;
	// otherwise cancellation is enforced by the handler's session check.
	CancelRule(ctx context.Context, ruleID string) error

	// Stop halts delivery.
	Stop()
}

// ProcessTimerQueue is an in-process TimerQueue. In wall-clock mode it fires
// via the runtime timer; in manual mode (tests, deterministic replays) time
// only moves when Advance is called.
type ProcessTimerQueue struct {
	mu      sync.Mutex
	handler TimerFunc
	ctx     context.Context
	cancel  context.CancelFunc
	pending []Timer
	active  map[string][]*time.Timer // ruleID -> runtime timers
	manual  bool
	now     time.Time
	logger  *slog.Logger
}

// NewProcessTimerQueue creates a wall-clock in-process queue.
func NewProcessTimerQueue() *ProcessTimerQueue {
	return &ProcessTimerQueue{
		active: make(map[string][]*time.Timer),
		logger: slog.Default().With("component", "timer-queue"),
	}
}

// NewManualTimerQueue creates a queue whose clock starts at start and only
// moves via Advance.
func NewManualTimerQueue(start time.Time) *ProcessTimerQueue {
	q := NewProcessTimerQueue()
	q.manual = true
	q.now = start
	return q
}

// Start implements TimerQueue.
func (q *ProcessTimerQueue) Start(ctx context.Context, fn TimerFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handler = fn
	q.ctx, q.cancel = context.WithCancel(ctx)
	return nil
}

// Stop implements TimerQueue.
func (q *ProcessTimerQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	for _, timers := range q.active {
		for _, t := range timers {
			t.Stop()
		}
	}
	q.active = make(map[string][]*time.Timer)
	q.pending = nil
}

// Schedule implements TimerQueue.
func (q *ProcessTimerQueue) Schedule(_ context.Context, t Timer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.manual {
		q.pending = append(q.pending, t)
		return nil
	}

	delay := time.Until(t.FireAt)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() { q.fire(t) })
	q.active[t.RuleID] = append(q.active[t.RuleID], timer)
	return nil
}

// CancelRule implements TimerQueue.
func (q *ProcessTimerQueue) CancelRule(_ context.Context, ruleID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.active[ruleID] {
		t.Stop()
	}
	delete(q.active, ruleID)

	kept := q.pending[:0]
	for _, t := range q.pending {
		if t.RuleID != ruleID {
			kept = append(kept, t)
		}
	}
	q.pending = kept
	return nil
}

// Advance moves the manual clock to instant and fires every due timer in
// FireAt order, synchronously. Timers scheduled by handlers during the
// advance fire too if they fall due.
func (q *ProcessTimerQueue) Advance(instant time.Time) {
	for {
		q.mu.Lock()
		q.now = instant

		due := -1
		for i, t := range q.pending {
			if t.FireAt.After(instant) {
				continue
			}
			if due == -1 || t.FireAt.Before(q.pending[due].FireAt) {
				due = i
			}
		}
		if due == -1 {
			q.mu.Unlock()
			return
		}

		t := q.pending[due]
		q.pending = append(q.pending[:due], q.pending[due+1:]...)
		q.mu.Unlock()

		q.fire(t)
	}
}

// Now returns the manual clock. Meaningless in wall-clock mode.
func (q *ProcessTimerQueue) Now() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now
}

// Pending returns a copy of undelivered manual timers sorted by FireAt.
// Test helper.
func (q *ProcessTimerQueue) Pending() []Timer {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Timer, len(q.pending))
	copy(out, q.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (q *ProcessTimerQueue) fire(t Timer) {
	q.mu.Lock()
	handler := q.handler
	ctx := q.ctx
	q.mu.Unlock()

	if handler == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := handler(ctx, t); err != nil {
		q.logger.Error("Timer handler failed",
			"rule_id", t.RuleID, "recipient_id", t.RecipientID,
			"step", t.Step, "error", err)
	}
}
