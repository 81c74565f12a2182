// Package rulestore provides the read-only adapter over externally persisted
// rule definitions. The engine holds time-boxed snapshots obtained here and
// never mutates rule data. All validation happens at the load boundary so
// downstream components consume fully-formed rules with required fields.
package rulestore

import (
	"time"

	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/pkg/timeunit"
)

// MatchMode determines how a rule's trigger phrases are compared against
// inbound message text.
type MatchMode string

const (
	// MatchIncludesIgnoreCase matches a trigger phrase as a case-folded substring.
	MatchIncludesIgnoreCase MatchMode = "includes-ignore-case"
	// MatchIncludesMatchCase matches a trigger phrase as an exact-case substring.
	MatchIncludesMatchCase MatchMode = "includes-match-case"
	// MatchExactIgnoreCase requires the trimmed message to equal a trigger, case-folded.
	MatchExactIgnoreCase MatchMode = "exact-ignore-case"
	// MatchExactMatchCase requires the trimmed message to equal a trigger exactly.
	MatchExactMatchCase MatchMode = "exact-match-case"
	// MatchAnywhereIgnoreCase intersects case-folded whitespace tokens of the
	// message with tokens of every trigger phrase. A multi-word phrase acts
	// as independent single-word triggers in this mode.
	MatchAnywhereIgnoreCase MatchMode = "anywhere-ignore-case"
	// MatchAnywhereMatchCase is token intersection with case preserved.
	MatchAnywhereMatchCase MatchMode = "anywhere-match-case"
)

// Valid reports whether the mode is one of the six recognized modes.
func (m MatchMode) Valid() bool {
	switch m {
	case MatchIncludesIgnoreCase, MatchIncludesMatchCase,
		MatchExactIgnoreCase, MatchExactMatchCase,
		MatchAnywhereIgnoreCase, MatchAnywhereMatchCase:
		return true
	}
	return false
}

// IgnoreCase reports whether the mode folds case before comparing.
func (m MatchMode) IgnoreCase() bool {
	switch m {
	case MatchIncludesIgnoreCase, MatchExactIgnoreCase, MatchAnywhereIgnoreCase:
		return true
	}
	return false
}

// RecipientScope bounds which senders a rule responds to. Evaluation order
// is owned by the resolver package and is load-bearing: exclude beats
// include, include beats the country gate.
type RecipientScope struct {
	IncludeSaved        bool     `json:"include_saved"`
	IncludeUnsaved      bool     `json:"include_unsaved"`
	IncludeNumbers      []string `json:"include_numbers,omitempty"`
	ExcludeNumbers      []string `json:"exclude_numbers,omitempty"`
	AllowedCountryCodes []string `json:"allowed_country_codes,omitempty"`
	OnlyBusiness        bool     `json:"only_business,omitempty"`
}

// NurturingStep is a single scheduled follow-up in a rule's drip sequence.
// Offsets are relative to the rule's trigger time, not cumulative.
type NurturingStep struct {
	OffsetSeconds int64         `json:"offset_seconds"`
	Payload       event.Payload `json:"payload"`
	Randomized    bool          `json:"randomized,omitempty"`
}

// Offset returns the step's offset as a duration.
func (s NurturingStep) Offset() time.Duration {
	return time.Duration(s.OffsetSeconds) * time.Second
}

// Rule is a single auto-responder definition, common to bot rules and
// merged-group rules. An empty Triggers slice means every message matches.
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	Triggers         []string        `json:"triggers,omitempty"`
	MatchMode        MatchMode       `json:"match_mode"`
	Scope            RecipientScope  `json:"recipient_scope"`
	ResponseDelaySec int64           `json:"response_delay_seconds"`
	TriggerGapSec    int64           `json:"trigger_gap_seconds"`
	Window           ActiveWindow    `json:"active_window,omitempty"`
	IsActive         bool            `json:"is_active"`
	Nurturing        []NurturingStep `json:"nurturing,omitempty"`
	Payload          event.Payload   `json:"payload"`
}

// ResponseDelay returns the delay before the primary response is sent.
func (r Rule) ResponseDelay() time.Duration {
	return time.Duration(r.ResponseDelaySec) * time.Second
}

// TriggerGap returns the minimum re-fire interval per (rule, sender).
func (r Rule) TriggerGap() time.Duration {
	return time.Duration(r.TriggerGapSec) * time.Second
}

// IsWildcard reports whether the rule matches every message.
func (r Rule) IsWildcard() bool {
	return len(r.Triggers) == 0
}

// DelayDisplay returns the response delay as the console's editable
// (value, unit) pair.
func (r Rule) DelayDisplay() (int64, timeunit.Unit) {
	return timeunit.Display(r.ResponseDelaySec)
}

// GapDisplay returns the trigger gap as the console's editable
// (value, unit) pair.
func (r Rule) GapDisplay() (int64, timeunit.Unit) {
	return timeunit.Display(r.TriggerGapSec)
}

// ReplyRule is one of a moderation rule set's reply templates.
type ReplyRule struct {
	Payload event.Payload `json:"payload"`
}

// IsSet reports whether the template carries content.
func (rr ReplyRule) IsSet() bool {
	return !rr.Payload.IsEmpty()
}

// ModerationRuleSet governs merged-group moderation replies. Exactly one of
// the three templates is selected per inbound message by sender role. Admin
// and creator templates are independently settable even though consoles
// conventionally populate them with the same content.
type ModerationRuleSet struct {
	GroupID             string    `json:"group_id"`
	GroupRule           ReplyRule `json:"group_rule"`
	AdminRule           ReplyRule `json:"admin_rule"`
	CreatorRule         ReplyRule `json:"creator_rule"`
	RestrictedFileTypes []string  `json:"restricted_file_types,omitempty"`
}
