package debounce

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/natsclient"
)

// casAttempts bounds revision-conflict retries when another process races
// the same key.
const casAttempts = 3

// errWithinGap aborts the read-modify-write when the stored fire is still
// inside the gap window.
var errWithinGap = stderrors.New("fire within gap window")

// KVDebounceStore persists last-fired timestamps in a JetStream KV bucket.
// Values are unix nanoseconds; atomicity comes from the bucket's revision
// CAS, retried on conflict.
type KVDebounceStore struct {
	kv *natsclient.KVStore
}

// NewKVDebounceStore wraps a KV bucket as a debounce Store.
func NewKVDebounceStore(kv *natsclient.KVStore) *KVDebounceStore {
	return &KVDebounceStore{kv: kv}
}

// Advance implements Store.
func (s *KVDebounceStore) Advance(ctx context.Context, key string, gap time.Duration, now time.Time) (bool, error) {
	_, err := s.kv.UpdateWithRetry(ctx, key, casAttempts, func(current []byte) ([]byte, error) {
		if current != nil {
			nanos, perr := strconv.ParseInt(string(current), 10, 64)
			if perr != nil {
				return nil, errors.WrapInvalid(perr, "KVDebounceStore", "Advance",
					"decode stored timestamp for "+key)
			}
			if now.Sub(time.Unix(0, nanos)) < gap {
				return nil, errWithinGap
			}
		}
		return encodeFiredAt(now), nil
	})

	if stderrors.Is(err, errWithinGap) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "KVDebounceStore", "Advance", "record fire")
	}
	return true, nil
}

// Forget implements Store by deleting every key under the rule's prefix.
func (s *KVDebounceStore) Forget(ctx context.Context, ruleID string) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "KVDebounceStore", "Forget", "list keys")
	}

	prefix := RulePrefix(ruleID)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "KVDebounceStore", "Forget", "delete "+key)
		}
	}
	return nil
}

func encodeFiredAt(t time.Time) []byte {
	return []byte(strconv.FormatInt(t.UnixNano(), 10))
}
