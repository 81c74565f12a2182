package rulestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/c360/replyflow/errors"
)

// FileStore serves rules and moderation sets loaded from JSON files. Files
// may contain a single definition or an array. Invalid definitions are
// logged and skipped so the remaining rules keep serving.
type FileStore struct {
	mu         sync.RWMutex
	rules      []Rule
	moderation map[string]ModerationRuleSet
	invalid    map[string]error
	logger     *slog.Logger
}

// NewFileStore creates an empty file store.
func NewFileStore() *FileStore {
	return &FileStore{
		moderation: make(map[string]ModerationRuleSet),
		invalid:    make(map[string]error),
		logger:     slog.Default().With("component", "rule-filestore"),
	}
}

// LoadRules reads rule definitions from the given JSON files, validates
// them, and replaces the store's rule snapshot.
func (fs *FileStore) LoadRules(paths ...string) error {
	var all []Rule

	for _, path := range paths {
		fs.logger.Debug("Loading rules from file", "path", path)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read rules file %s: %w", path, err)
		}

		// Support both a single rule and an array of rules.
		var defs []Rule
		if err := json.Unmarshal(data, &defs); err != nil {
			var single Rule
			if err2 := json.Unmarshal(data, &single); err2 != nil {
				return fmt.Errorf("failed to parse rules file %s: %w (also tried as single rule: %v)",
					path, err, err2)
			}
			defs = []Rule{single}
		}

		fs.logger.Info("Loaded rule definitions from file", "path", path, "count", len(defs))
		all = append(all, defs...)
	}

	valid, invalid := ValidateSet(all)
	for id, err := range invalid {
		fs.logger.Error("Rejected invalid rule definition", "rule_id", id, "error", err)
	}

	fs.mu.Lock()
	fs.rules = valid
	fs.invalid = invalid
	fs.mu.Unlock()

	if len(valid) == 0 {
		fs.logger.Warn("No valid rules loaded - engine will not trigger any responses")
	}

	return nil
}

// LoadModerationRules reads moderation rule sets from a JSON file keyed by
// group, as a single set or an array.
func (fs *FileStore) LoadModerationRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read moderation rules file %s: %w", path, err)
	}

	var sets []ModerationRuleSet
	if err := json.Unmarshal(data, &sets); err != nil {
		var single ModerationRuleSet
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return fmt.Errorf("failed to parse moderation rules file %s: %w", path, err)
		}
		sets = []ModerationRuleSet{single}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, set := range sets {
		if set.GroupID == "" {
			fs.logger.Error("Rejected moderation rule set with no group id", "path", path)
			continue
		}
		fs.moderation[set.GroupID] = set
	}

	fs.logger.Info("Loaded moderation rule sets", "path", path, "count", len(sets))
	return nil
}

// SetRules replaces the snapshot directly, validating first. Used by tests
// and embedded callers.
func (fs *FileStore) SetRules(rules []Rule) map[string]error {
	valid, invalid := ValidateSet(rules)

	fs.mu.Lock()
	fs.rules = valid
	fs.invalid = invalid
	fs.mu.Unlock()

	return invalid
}

// SetModerationRules replaces a group's moderation set directly.
func (fs *FileStore) SetModerationRules(set ModerationRuleSet) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.moderation[set.GroupID] = set
}

// ActiveRules implements Store.
func (fs *FileStore) ActiveRules(_ context.Context) ([]Rule, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	active := make([]Rule, 0, len(fs.rules))
	for _, r := range fs.rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// RuleByID returns the rule with the given id; an unknown id fails with
// ErrRuleNotFound.
func (fs *FileStore) RuleByID(_ context.Context, id string) (*Rule, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, r := range fs.rules {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrRuleNotFound, id)
}

// ModerationRules implements Store.
func (fs *FileStore) ModerationRules(_ context.Context, groupID string) (*ModerationRuleSet, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	set, ok := fs.moderation[groupID]
	if !ok {
		return nil, nil
	}
	out := set
	return &out, nil
}

// InvalidRules returns the validation errors from the last load, keyed by
// rule ID. The console surfaces these at save time.
func (fs *FileStore) InvalidRules() map[string]error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make(map[string]error, len(fs.invalid))
	for k, v := range fs.invalid {
		out[k] = v
	}
	return out
}
