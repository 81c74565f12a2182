// Package debounce enforces the minimum re-fire interval per (rule, sender)
// pair. The last-fired map is owned here and reachable only through Accept
// and Forget; no other component reads or writes it.
package debounce

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// stripeCount bounds lock granularity. Unrelated (rule, sender) pairs land
// on different stripes and proceed in parallel.
const stripeCount = 64

// Store persists last-fired timestamps. Advance must be atomic per key so
// concurrent accepts across processes stay linearizable.
type Store interface {
	// Advance records a fire at now iff no fire within gap is already
	// recorded for the key. It reports whether the fire was recorded.
	Advance(ctx context.Context, key string, gap time.Duration, now time.Time) (bool, error)

	// Forget drops all keys for a rule. Used when a rule is deleted.
	Forget(ctx context.Context, ruleID string) error
}

// Debouncer applies the gap check. Accept decisions for a single key are
// serialized by a striped mutex in-process and by the store's atomic
// advance across processes.
type Debouncer struct {
	store  Store
	locks  [stripeCount]sync.Mutex
	logger *slog.Logger

	// OnSuppressed is called for every suppressed fire. Duplicate
	// suppression is a normal outcome logged at low severity.
	OnSuppressed func(ruleID, senderID string)
}

// New creates a Debouncer over the given store.
func New(store Store) *Debouncer {
	return &Debouncer{
		store:  store,
		logger: slog.Default().With("component", "gap-debouncer"),
	}
}

// Accept reports whether a candidate fire for (ruleID, senderID) passes the
// gap check at instant now. A missing entry counts as infinite elapsed time.
// On acceptance the last-fired timestamp advances atomically; at most one
// concurrent caller passes per gap window.
func (d *Debouncer) Accept(ctx context.Context, ruleID, senderID string, gap time.Duration, now time.Time) (bool, error) {
	key := Key(ruleID, senderID)

	lock := &d.locks[stripeFor(key)]
	lock.Lock()
	defer lock.Unlock()

	accepted, err := d.store.Advance(ctx, key, gap, now)
	if err != nil {
		return false, err
	}
	if !accepted {
		d.logger.Debug("Duplicate fire suppressed",
			"rule_id", ruleID, "sender_id", senderID, "gap", gap)
		if d.OnSuppressed != nil {
			d.OnSuppressed(ruleID, senderID)
		}
	}
	return accepted, nil
}

// Forget drops all gap state for a rule, typically on rule deletion.
func (d *Debouncer) Forget(ctx context.Context, ruleID string) error {
	return d.store.Forget(ctx, ruleID)
}

// Key builds the store key for a (rule, sender) pair. Sender ids are
// sanitized to keep keys subject-safe for KV backends.
func Key(ruleID, senderID string) string {
	return sanitize(ruleID) + "." + sanitize(senderID)
}

// RulePrefix returns the key prefix covering every sender of a rule.
func RulePrefix(ruleID string) string {
	return sanitize(ruleID) + "."
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}
