package rulestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/natsclient"
)

// Key prefixes inside the rules bucket.
const (
	rulePrefix       = "rule."
	moderationPrefix = "moderation."
)

// KVRuleStore serves rules from a JetStream KV bucket, kept current by a
// watch. The console writes rule edits into the bucket; every engine
// instance converges on the same snapshot without restarts.
type KVRuleStore struct {
	kv     *natsclient.KVStore
	logger *slog.Logger

	mu         sync.RWMutex
	rules      map[string]Rule
	moderation map[string]ModerationRuleSet

	// OnRuleRemoved fires when a rule is deleted or deactivated through
	// the bucket. The engine fans this out to sequence and job
	// cancellation.
	OnRuleRemoved func(ruleID string)
}

// NewKVRuleStore wraps a KV bucket as a rule store.
func NewKVRuleStore(kv *natsclient.KVStore) *KVRuleStore {
	return &KVRuleStore{
		kv:         kv,
		logger:     slog.Default().With("component", "rule-kvstore"),
		rules:      make(map[string]Rule),
		moderation: make(map[string]ModerationRuleSet),
	}
}

// Load populates the snapshot from the bucket. Invalid definitions are
// logged and skipped.
func (s *KVRuleStore) Load(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "KVRuleStore", "Load", "list rule keys")
	}

	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Skipping unreadable rule key", "key", key, "error", err)
			continue
		}
		s.apply(key, entry.Value, false)
	}

	s.mu.RLock()
	count := len(s.rules)
	s.mu.RUnlock()
	s.logger.Info("Rule snapshot loaded", "rules", count)
	return nil
}

// Watch keeps the snapshot current until ctx is cancelled.
func (s *KVRuleStore) Watch(ctx context.Context) error {
	return s.kv.Watch(ctx, ">", func(key string, value []byte, deleted bool) {
		s.apply(key, value, deleted)
	})
}

// ActiveRules implements Store.
func (s *KVRuleStore) ActiveRules(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// RuleByID implements Store.
func (s *KVRuleStore) RuleByID(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrRuleNotFound, id)
	}
	out := r
	return &out, nil
}

// ModerationRules implements Store.
func (s *KVRuleStore) ModerationRules(_ context.Context, groupID string) (*ModerationRuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.moderation[groupID]
	if !ok {
		return nil, nil
	}
	out := set
	return &out, nil
}

// PutRule writes a rule into the bucket after validating it. The watch
// brings it into every instance's snapshot.
func (s *KVRuleStore) PutRule(ctx context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return errors.WrapInvalid(err, "KVRuleStore", "PutRule", "encode rule")
	}
	if _, err := s.kv.Put(ctx, rulePrefix+rule.ID, data); err != nil {
		return errors.Wrap(err, "KVRuleStore", "PutRule", "write rule")
	}
	return nil
}

// DeleteRule removes a rule from the bucket.
func (s *KVRuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	if err := s.kv.Delete(ctx, rulePrefix+ruleID); err != nil {
		return errors.Wrap(err, "KVRuleStore", "DeleteRule", "delete rule")
	}
	return nil
}

// apply folds one bucket change into the snapshot.
func (s *KVRuleStore) apply(key string, value []byte, deleted bool) {
	switch {
	case strings.HasPrefix(key, rulePrefix):
		ruleID := strings.TrimPrefix(key, rulePrefix)
		if deleted {
			s.removeRule(ruleID)
			return
		}

		var rule Rule
		if err := json.Unmarshal(value, &rule); err != nil {
			s.logger.Warn("Skipping undecodable rule", "key", key, "error", err)
			return
		}
		if rule.ID == "" {
			rule.ID = ruleID
		}
		if err := rule.Validate(); err != nil {
			s.logger.Warn("Skipping invalid rule", "rule_id", rule.ID, "error", err)
			s.removeRule(ruleID)
			return
		}

		s.mu.Lock()
		previous, existed := s.rules[rule.ID]
		s.rules[rule.ID] = rule
		s.mu.Unlock()

		if existed && previous.IsActive && !rule.IsActive {
			s.notifyRemoved(rule.ID)
		}

	case strings.HasPrefix(key, moderationPrefix):
		groupID := strings.TrimPrefix(key, moderationPrefix)
		if deleted {
			s.mu.Lock()
			delete(s.moderation, groupID)
			s.mu.Unlock()
			return
		}

		var set ModerationRuleSet
		if err := json.Unmarshal(value, &set); err != nil {
			s.logger.Warn("Skipping undecodable moderation set", "key", key, "error", err)
			return
		}
		if set.GroupID == "" {
			set.GroupID = groupID
		}
		s.mu.Lock()
		s.moderation[groupID] = set
		s.mu.Unlock()

	default:
		s.logger.Debug("Ignoring unrecognized key", "key", key)
	}
}

func (s *KVRuleStore) removeRule(ruleID string) {
	s.mu.Lock()
	_, existed := s.rules[ruleID]
	delete(s.rules, ruleID)
	s.mu.Unlock()

	if existed {
		s.notifyRemoved(ruleID)
	}
}

func (s *KVRuleStore) notifyRemoved(ruleID string) {
	if s.OnRuleRemoved != nil {
		s.OnRuleRemoved(ruleID)
	}
	s.logger.Info(fmt.Sprintf("Rule %s removed from active set", ruleID))
}
