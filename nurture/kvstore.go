package nurture

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/natsclient"
)

// KVSessionStore persists sessions in a JetStream KV bucket so active
// sequences survive restarts and are visible to every engine instance.
type KVSessionStore struct {
	kv *natsclient.KVStore
}

// NewKVSessionStore wraps a KV bucket as a SessionStore.
func NewKVSessionStore(kv *natsclient.KVStore) *KVSessionStore {
	return &KVSessionStore{kv: kv}
}

// Get implements SessionStore.
func (s *KVSessionStore) Get(ctx context.Context, ruleID, recipientID string) (RecipientSession, uint64, error) {
	var session RecipientSession
	rev, err := s.kv.GetJSON(ctx, SessionKey(ruleID, recipientID), &session)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return RecipientSession{}, 0, errors.ErrSessionNotFound
		}
		return RecipientSession{}, 0, err
	}
	return session, rev, nil
}

// Create implements SessionStore.
func (s *KVSessionStore) Create(ctx context.Context, session RecipientSession) (uint64, error) {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return 0, errors.WrapInvalid(err, "KVSessionStore", "Create", "encode session")
	}
	return s.kv.Create(ctx, session.Key(), data)
}

// Update implements SessionStore.
func (s *KVSessionStore) Update(ctx context.Context, session RecipientSession, revision uint64) (uint64, error) {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return 0, errors.WrapInvalid(err, "KVSessionStore", "Update", "encode session")
	}
	return s.kv.Update(ctx, session.Key(), data, revision)
}

// Delete implements SessionStore.
func (s *KVSessionStore) Delete(ctx context.Context, ruleID, recipientID string) error {
	return s.kv.Delete(ctx, SessionKey(ruleID, recipientID))
}

// ByRule implements SessionStore.
func (s *KVSessionStore) ByRule(ctx context.Context, ruleID string) ([]RecipientSession, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "KVSessionStore", "ByRule", "list sessions")
	}

	prefix := RulePrefix(ruleID)
	var out []RecipientSession
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var session RecipientSession
		if _, err := s.kv.GetJSON(ctx, key, &session); err != nil {
			if stderrors.Is(err, errors.ErrKeyNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}
