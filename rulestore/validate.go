package rulestore

import (
	"fmt"
	"strings"

	"github.com/c360/replyflow/errors"
)

// Validate checks a rule definition at the load boundary. A rule failing
// validation is excluded from matching until corrected; matching itself never
// re-validates. Wildcard rules (empty Triggers) are valid in any recognized
// match mode since the mode is irrelevant to them.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("rule has no id"),
			"RuleStore", "Validate", "check identity")
	}

	if !r.MatchMode.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("rule %s: %w: %q", r.ID, errors.ErrUnknownMatchMode, r.MatchMode),
			"RuleStore", "Validate", "check match mode")
	}

	// An empty phrase in an includes-style mode matches every message, which
	// is never what the author meant. Wildcard behavior is opted into with an
	// empty Triggers slice, not a blank phrase.
	for i, trigger := range r.Triggers {
		if strings.TrimSpace(trigger) == "" {
			return errors.WrapInvalid(
				fmt.Errorf("rule %s trigger %d: %w", r.ID, i, errors.ErrEmptyTrigger),
				"RuleStore", "Validate", "check trigger phrases")
		}
	}

	if r.ResponseDelaySec <= 0 || r.TriggerGapSec <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("rule %s: %w: delay=%ds gap=%ds",
				r.ID, errors.ErrUnschedulableRule, r.ResponseDelaySec, r.TriggerGapSec),
			"RuleStore", "Validate", "check schedulability")
	}

	if err := r.Window.validate(); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("rule %s: %w: %v", r.ID, errors.ErrInvalidActiveWindow, err),
			"RuleStore", "Validate", "check active window")
	}

	// The engine never sorts nurturing steps; out-of-order input is a
	// definition error, not something to repair silently.
	prev := int64(-1)
	for i, step := range r.Nurturing {
		if step.OffsetSeconds < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("rule %s step %d: %w: %ds",
					r.ID, i, errors.ErrNegativeOffset, step.OffsetSeconds),
				"RuleStore", "Validate", "check nurturing offsets")
		}
		if step.OffsetSeconds < prev {
			return errors.WrapInvalid(
				fmt.Errorf("rule %s step %d: %w: %ds after %ds",
					r.ID, i, errors.ErrNonMonotonicOffsets, step.OffsetSeconds, prev),
				"RuleStore", "Validate", "check nurturing offsets")
		}
		prev = step.OffsetSeconds
	}

	return nil
}

// ValidateSet validates a batch of rules, returning the valid subset and a
// map of rule ID to validation error for the rest. Loaders log and skip
// invalid definitions so one bad rule never blocks the others.
func ValidateSet(rules []Rule) ([]Rule, map[string]error) {
	valid := make([]Rule, 0, len(rules))
	invalid := make(map[string]error)

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			key := r.ID
			if key == "" {
				key = fmt.Sprintf("unnamed-%d", len(invalid))
			}
			invalid[key] = err
			continue
		}
		valid = append(valid, r)
	}

	return valid, invalid
}
