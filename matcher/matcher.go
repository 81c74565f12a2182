// Package matcher decides whether inbound messages satisfy rule trigger
// conditions. Matching is purely textual and stateless; candidates are
// expected to be pre-filtered to active, in-window rules.
package matcher

import (
	"log/slog"
	"strings"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

// Result tags a matched rule with the trigger phrase that satisfied it.
// MatchedTrigger is nil for wildcard rules.
type Result struct {
	Rule           rulestore.Rule
	MatchedTrigger *string
}

// Matcher evaluates trigger conditions. The zero value is usable; its nil
// logger just disables the bad-match-mode log line, matching still works.
// New sets a default logger.
type Matcher struct {
	logger *slog.Logger

	// OnConfigError is invoked when a rule with an unrecognized match mode
	// is encountered at match time. Such rules are skipped, never silently
	// matched. Load-time validation should make this unreachable; the hook
	// exists for stores that bypass validation.
	OnConfigError func(ruleID string, err error)
}

// New creates a Matcher.
func New() *Matcher {
	return &Matcher{
		logger: slog.Default().With("component", "trigger-matcher"),
	}
}

// Match returns the subset of candidate rules whose trigger condition the
// message satisfies. Every matching rule fires independently; there is no
// best-rule selection.
func (m *Matcher) Match(msg event.InboundMessage, candidates []rulestore.Rule) []Result {
	var results []Result

	for _, rule := range candidates {
		matched, trigger, err := m.matchRule(msg.Text, rule)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("Skipping rule with bad match mode",
					"rule_id", rule.ID, "match_mode", string(rule.MatchMode), "error", err)
			}
			if m.OnConfigError != nil {
				m.OnConfigError(rule.ID, err)
			}
			continue
		}
		if matched {
			results = append(results, Result{Rule: rule, MatchedTrigger: trigger})
		}
	}

	return results
}

// matchRule applies a single rule's trigger condition to the message text.
func (m *Matcher) matchRule(text string, rule rulestore.Rule) (bool, *string, error) {
	// Empty trigger set matches every message regardless of mode.
	if rule.IsWildcard() {
		return true, nil, nil
	}

	if !rule.MatchMode.Valid() {
		return false, nil, errors.WrapInvalid(errors.ErrUnknownMatchMode,
			"TriggerMatcher", "matchRule", "resolve match mode")
	}

	fold := rule.MatchMode.IgnoreCase()
	subject := text
	if fold {
		subject = strings.ToLower(subject)
	}

	switch rule.MatchMode {
	case rulestore.MatchExactIgnoreCase, rulestore.MatchExactMatchCase:
		trimmed := strings.TrimSpace(subject)
		for _, trigger := range rule.Triggers {
			candidate := trigger
			if fold {
				candidate = strings.ToLower(candidate)
			}
			if trimmed == strings.TrimSpace(candidate) {
				t := trigger
				return true, &t, nil
			}
		}

	case rulestore.MatchIncludesIgnoreCase, rulestore.MatchIncludesMatchCase:
		for _, trigger := range rule.Triggers {
			candidate := trigger
			if fold {
				candidate = strings.ToLower(candidate)
			}
			if strings.Contains(subject, candidate) {
				t := trigger
				return true, &t, nil
			}
		}

	case rulestore.MatchAnywhereIgnoreCase, rulestore.MatchAnywhereMatchCase:
		// Token-level matching: a multi-word trigger phrase contributes
		// each of its words as an independent trigger. This turns phrase
		// matching into keyword matching and is intended behavior the
		// console warns about rather than prevents.
		msgTokens := tokenSet(subject)
		for _, trigger := range rule.Triggers {
			candidate := trigger
			if fold {
				candidate = strings.ToLower(candidate)
			}
			for _, token := range strings.Fields(candidate) {
				if msgTokens[token] {
					t := trigger
					return true, &t, nil
				}
			}
		}
	}

	return false, nil, nil
}

// tokenSet splits text on whitespace into a membership set.
func tokenSet(text string) map[string]bool {
	fields := strings.Fields(text)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
