package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/replyflow/errors"
)

// KVEntry represents a key-value entry with revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore wraps a JetStream KV bucket with compare-and-swap semantics.
// Errors are mapped onto the engine's sentinel set so callers can use
// errors.Is without knowing which backend produced them.
type KVStore struct {
	bucket jetstream.KeyValue
	name   string
}

// NewKVStore wraps an existing KV bucket
func NewKVStore(bucket jetstream.KeyValue, name string) *KVStore {
	return &KVStore{bucket: bucket, name: name}
}

// Name returns the bucket name
func (s *KVStore) Name() string {
	return s.name
}

// Get retrieves the entry for a key. Returns errors.ErrKeyNotFound when the
// key does not exist.
func (s *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", errors.ErrKeyNotFound, s.name, key)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get",
			fmt.Sprintf("get key %s from bucket %s", key, s.name))
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// GetJSON retrieves a key and unmarshals its value into out
func (s *KVStore) GetJSON(ctx context.Context, key string, out any) (uint64, error) {
	entry, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return 0, errors.WrapInvalid(err, "KVStore", "GetJSON",
			fmt.Sprintf("decode key %s from bucket %s", key, s.name))
	}
	return entry.Revision, nil
}

// Put stores a value unconditionally, returning the new revision
func (s *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put",
			fmt.Sprintf("put key %s in bucket %s", key, s.name))
	}
	return rev, nil
}

// Create stores a value only if the key does not exist. Returns
// errors.ErrRevisionConflict when the key already exists.
func (s *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.bucket.Create(ctx, key, value)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyExists) {
			return 0, fmt.Errorf("%w: %s/%s already exists", errors.ErrRevisionConflict, s.name, key)
		}
		return 0, errors.WrapTransient(err, "KVStore", "Create",
			fmt.Sprintf("create key %s in bucket %s", key, s.name))
	}
	return rev, nil
}

// Update stores a value only if the current revision matches expectedRevision.
// Returns errors.ErrRevisionConflict when another writer got there first.
func (s *KVStore) Update(ctx context.Context, key string, value []byte, expectedRevision uint64) (uint64, error) {
	rev, err := s.bucket.Update(ctx, key, value, expectedRevision)
	if err != nil {
		var apiErr *jetstream.APIError
		if stderrors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, fmt.Errorf("%w: %s/%s at revision %d", errors.ErrRevisionConflict, s.name, key, expectedRevision)
		}
		return 0, errors.WrapTransient(err, "KVStore", "Update",
			fmt.Sprintf("update key %s in bucket %s", key, s.name))
	}
	return rev, nil
}

// UpdateWithRetry applies fn to the current value and writes the result with
// CAS, retrying up to maxAttempts on revision conflicts. fn receives nil when
// the key does not exist yet.
func (s *KVStore) UpdateWithRetry(
	ctx context.Context, key string, maxAttempts int, fn func(current []byte) ([]byte, error)) (uint64, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		entry, err := s.Get(ctx, key)
		switch {
		case err == nil:
			next, fnErr := fn(entry.Value)
			if fnErr != nil {
				return 0, fnErr
			}
			rev, updErr := s.Update(ctx, key, next, entry.Revision)
			if updErr == nil {
				return rev, nil
			}
			if !stderrors.Is(updErr, errors.ErrRevisionConflict) {
				return 0, updErr
			}
		case stderrors.Is(err, errors.ErrKeyNotFound):
			next, fnErr := fn(nil)
			if fnErr != nil {
				return 0, fnErr
			}
			rev, crErr := s.Create(ctx, key, next)
			if crErr == nil {
				return rev, nil
			}
			if !stderrors.Is(crErr, errors.ErrRevisionConflict) {
				return 0, crErr
			}
		default:
			return 0, err
		}
	}

	return 0, fmt.Errorf("%w: key %s in bucket %s after %d attempts",
		errors.ErrMaxRetriesExceeded, key, s.name, maxAttempts)
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(err, "KVStore", "Delete",
			fmt.Sprintf("delete key %s from bucket %s", key, s.name))
	}
	return nil
}

// Keys lists all keys in the bucket. An empty bucket returns an empty slice.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "KVStore", "Keys",
			fmt.Sprintf("list keys in bucket %s", s.name))
	}
	return keys, nil
}

// Watch observes changes to keys matching pattern and invokes fn for each
// update until ctx is cancelled. Deletions are delivered with a nil entry
// value.
func (s *KVStore) Watch(ctx context.Context, pattern string, fn func(key string, value []byte, deleted bool)) error {
	watcher, err := s.bucket.Watch(ctx, pattern)
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Watch",
			fmt.Sprintf("watch %s in bucket %s", pattern, s.name))
	}

	go func() {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if update == nil {
					// nil marks the end of the initial replay
					continue
				}
				deleted := update.Operation() == jetstream.KeyValueDelete ||
					update.Operation() == jetstream.KeyValuePurge
				fn(update.Key(), update.Value(), deleted)
			}
		}
	}()

	return nil
}
