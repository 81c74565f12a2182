// Package nurture drives drip sequences: per-recipient sessions stepping
// through a rule's nurturing messages at offsets anchored to the trigger
// instant. Session state is owned exclusively by this package.
package nurture

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a recipient's sequence.
type Status string

// Session statuses. A session opens pending and turns active once its first
// step has been handed to dispatch. Completed and cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further steps can fire from this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RecipientSession tracks one recipient's progress through one rule's
// sequence. NextStep is the index of the step that has not yet been handed
// to dispatch; it advances only on successful hand-off.
type RecipientSession struct {
	RuleID      string    `json:"ruleId"`
	RecipientID string    `json:"recipientId"`
	TriggerAt   time.Time `json:"triggerAt"`
	NextStep    int       `json:"nextStep"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key returns the store key for this session.
func (s RecipientSession) Key() string {
	return SessionKey(s.RuleID, s.RecipientID)
}

// SessionKey builds the store key for a (rule, recipient) pair. Ids are
// sanitized to stay subject-safe for KV backends.
func SessionKey(ruleID, recipientID string) string {
	return sanitize(ruleID) + "." + sanitize(recipientID)
}

// RulePrefix returns the key prefix covering every recipient of a rule.
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
