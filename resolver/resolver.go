// Package resolver decides whether a sender is in-scope for a matched rule.
// The check order is load-bearing and must not change: explicit exclude
// always overrides explicit include, and explicit include overrides the
// country-code gate.
package resolver

import (
	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

// Decision is the closed outcome set of recipient resolution. A denial is a
// normal negative outcome, not an error.
type Decision int

const (
	// DeniedExcluded - sender appears in the rule's exclude list.
	DeniedExcluded Decision = iota
	// AllowedIncluded - sender appears in the rule's include list.
	AllowedIncluded
	// DeniedCountry - a country allow-list is set and the sender is outside it.
	DeniedCountry
	// AllowedSaved - rule includes saved contacts and the sender is one.
	AllowedSaved
	// AllowedUnsaved - rule includes unsaved contacts and the sender is one.
	AllowedUnsaved
	// DeniedFlagMismatch - saved/unsaved flags are set but neither fits the sender.
	DeniedFlagMismatch
	// DeniedBusinessOnly - rule is business-only and the sender is not a business account.
	DeniedBusinessOnly
	// DeniedNotConfigured - no recipients configured at all.
	DeniedNotConfigured
)

// Allowed reports whether the decision grants eligibility.
func (d Decision) Allowed() bool {
	switch d {
	case AllowedIncluded, AllowedSaved, AllowedUnsaved:
		return true
	}
	return false
}

// String returns a stable label for logs and metrics.
func (d Decision) String() string {
	switch d {
	case DeniedExcluded:
		return "denied_excluded"
	case AllowedIncluded:
		return "allowed_included"
	case DeniedCountry:
		return "denied_country"
	case AllowedSaved:
		return "allowed_saved"
	case AllowedUnsaved:
		return "allowed_unsaved"
	case DeniedFlagMismatch:
		return "denied_flag_mismatch"
	case DeniedBusinessOnly:
		return "denied_business_only"
	case DeniedNotConfigured:
		return "denied_not_configured"
	default:
		return "unknown"
	}
}

// Resolve evaluates a sender against a rule's recipient scope. Checks run in
// fixed precedence order:
//
//  1. exclude list - denies regardless of anything else
//  2. include list - allows regardless of saved/unsaved flags
//  3. country allow-list gate
//  4. nothing configured - deny
//  5. saved/unsaved flags
//  6. business-only gate, applied to senders the flags would admit
func Resolve(scope rulestore.RecipientScope, sender event.Sender) Decision {
	if containsNumber(scope.ExcludeNumbers, sender.PhoneNumber) {
		return DeniedExcluded
	}

	if containsNumber(scope.IncludeNumbers, sender.PhoneNumber) {
		return AllowedIncluded
	}

	if len(scope.AllowedCountryCodes) > 0 && !containsNumber(scope.AllowedCountryCodes, sender.CountryCode) {
		return DeniedCountry
	}

	if !scope.IncludeSaved && !scope.IncludeUnsaved {
		return DeniedNotConfigured
	}

	var allowed Decision
	switch {
	case scope.IncludeSaved && sender.IsSaved:
		allowed = AllowedSaved
	case scope.IncludeUnsaved && !sender.IsSaved:
		allowed = AllowedUnsaved
	default:
		return DeniedFlagMismatch
	}

	if scope.OnlyBusiness && !sender.IsBusiness {
		return DeniedBusinessOnly
	}
	return allowed
}

// Eligible is the boolean form of Resolve.
func Eligible(scope rulestore.RecipientScope, sender event.Sender) bool {
	return Resolve(scope, sender).Allowed()
}

func containsNumber(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
