package rulestore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/event"
)

// newSnapshotStore builds a KVRuleStore without a bucket so apply can be
// driven directly, the same path the watch callback takes.
func newSnapshotStore() *KVRuleStore {
	return &KVRuleStore{
		logger:     slog.Default().With("component", "rule-kvstore"),
		rules:      make(map[string]Rule),
		moderation: make(map[string]ModerationRuleSet),
	}
}

func kvRule(id string, active bool) Rule {
	return Rule{
		ID:               id,
		Triggers:         []string{"hello"},
		MatchMode:        MatchExactIgnoreCase,
		Scope:            RecipientScope{IncludeSaved: true, IncludeUnsaved: true},
		ResponseDelaySec: 5,
		TriggerGapSec:    60,
		IsActive:         active,
		Payload:          event.Payload{Text: "hi"},
	}
}

func encodeRule(t *testing.T, r Rule) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestKVRuleStore_ApplyAddsRule(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	s.apply("rule.r1", encodeRule(t, kvRule("r1", true)), false)

	active, err := s.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r1", active[0].ID)

	got, err := s.RuleByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"hello"}, got.Triggers)
}

func TestKVRuleStore_DeactivationNotifies(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	var removed []string
	s.OnRuleRemoved = func(ruleID string) { removed = append(removed, ruleID) }

	s.apply("rule.r1", encodeRule(t, kvRule("r1", true)), false)
	s.apply("rule.r1", encodeRule(t, kvRule("r1", false)), false)

	assert.Equal(t, []string{"r1"}, removed)

	// Deactivated rules leave the active set but stay resolvable by ID so
	// in-flight sessions can read their remaining definition.
	active, err := s.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := s.RuleByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)
}

func TestKVRuleStore_DeleteNotifies(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	var removed []string
	s.OnRuleRemoved = func(ruleID string) { removed = append(removed, ruleID) }

	s.apply("rule.r1", encodeRule(t, kvRule("r1", true)), false)
	s.apply("rule.r1", nil, true)

	assert.Equal(t, []string{"r1"}, removed)

	got, err := s.RuleByID(ctx, "r1")
	assert.True(t, stderrors.Is(err, errors.ErrRuleNotFound))
	assert.Nil(t, got)

	// Deleting an unknown key must not notify again.
	s.apply("rule.r1", nil, true)
	assert.Len(t, removed, 1)
}

func TestKVRuleStore_InvalidRuleSkippedAndEvicted(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	var removed []string
	s.OnRuleRemoved = func(ruleID string) { removed = append(removed, ruleID) }

	s.apply("rule.r1", encodeRule(t, kvRule("r1", true)), false)

	// An edit that breaks validation evicts the stale definition rather
	// than leaving the old version matching.
	broken := kvRule("r1", true)
	broken.ResponseDelaySec = 0
	s.apply("rule.r1", encodeRule(t, broken), false)

	got, err := s.RuleByID(ctx, "r1")
	assert.True(t, stderrors.Is(err, errors.ErrRuleNotFound))
	assert.Nil(t, got)
	assert.Equal(t, []string{"r1"}, removed)

	// Undecodable values are ignored outright.
	s.apply("rule.r2", []byte("{not json"), false)
	got, err = s.RuleByID(ctx, "r2")
	assert.True(t, stderrors.Is(err, errors.ErrRuleNotFound))
	assert.Nil(t, got)
}

func TestKVRuleStore_ModerationKeys(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	set := ModerationRuleSet{
		GroupRule: ReplyRule{Payload: event.Payload{Text: "members only"}},
		AdminRule: ReplyRule{Payload: event.Payload{Text: "admin notice"}},
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)

	s.apply("moderation.g1", data, false)

	got, err := s.ModerationRules(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	// The group ID is backfilled from the key when the value omits it.
	assert.Equal(t, "g1", got.GroupID)
	assert.Equal(t, "admin notice", got.AdminRule.Payload.Text)

	s.apply("moderation.g1", nil, true)
	got, err = s.ModerationRules(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKVRuleStore_IgnoresForeignKeys(t *testing.T) {
	s := newSnapshotStore()
	ctx := context.Background()

	s.apply("unrelated.key", []byte("whatever"), false)

	active, err := s.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
