package rulestore

import "context"

// Store is the read-only rule source the engine consumes. Implementations
// must return only rules that passed load-time validation; the engine treats
// the result as a point-in-time snapshot.
type Store interface {
	// ActiveRules returns the validated rules with IsActive set.
	ActiveRules(ctx context.Context) ([]Rule, error)

	// RuleByID returns a rule regardless of active state. An unknown id
	// fails with errors.ErrRuleNotFound. Sequences resolve step payloads
	// through this.
	RuleByID(ctx context.Context, id string) (*Rule, error)

	// ModerationRules returns the moderation rule set for a group, or nil
	// when the group has none configured.
	ModerationRules(ctx context.Context, groupID string) (*ModerationRuleSet, error)
}
