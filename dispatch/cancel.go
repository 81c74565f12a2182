package dispatch

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	"github.com/c360/replyflow/errors"
	"github.com/c360/replyflow/natsclient"
)

// CancelRegistry records rule cancellations as tombstones that dispatch
// consumers check before delivering a job. Cancellation is compensating:
// jobs already consumed are not recalled.
type CancelRegistry interface {
	// CancelRule marks every pending job of a rule as cancelled.
	CancelRule(ctx context.Context, ruleID string) error

	// Reinstate removes a rule's tombstone so new jobs flow again.
	Reinstate(ctx context.Context, ruleID string) error

	// IsCancelled reports whether jobs for a rule should be dropped.
	IsCancelled(ctx context.Context, ruleID string) (bool, error)
}

// KVCancelRegistry stores tombstones in a JetStream KV bucket so every
// consumer instance sees them.
type KVCancelRegistry struct {
	kv *natsclient.KVStore
}

// NewKVCancelRegistry wraps a KV bucket as a CancelRegistry.
func NewKVCancelRegistry(kv *natsclient.KVStore) *KVCancelRegistry {
	return &KVCancelRegistry{kv: kv}
}

// CancelRule implements CancelRegistry.
func (r *KVCancelRegistry) CancelRule(ctx context.Context, ruleID string) error {
	value := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	if _, err := r.kv.Put(ctx, ruleID, value); err != nil {
		return errors.Wrap(err, "KVCancelRegistry", "CancelRule", "write tombstone")
	}
	return nil
}

// Reinstate implements CancelRegistry.
func (r *KVCancelRegistry) Reinstate(ctx context.Context, ruleID string) error {
	if err := r.kv.Delete(ctx, ruleID); err != nil {
		return errors.Wrap(err, "KVCancelRegistry", "Reinstate", "delete tombstone")
	}
	return nil
}

// IsCancelled implements CancelRegistry.
func (r *KVCancelRegistry) IsCancelled(ctx context.Context, ruleID string) (bool, error) {
	_, err := r.kv.Get(ctx, ruleID)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "KVCancelRegistry", "IsCancelled", "read tombstone")
	}
	return true, nil
}

// MemoryCancelRegistry is an in-process CancelRegistry for tests and
// embedded deployments.
type MemoryCancelRegistry struct {
	mu         sync.Mutex
	tombstones map[string]time.Time
}

// NewMemoryCancelRegistry creates an empty registry.
func NewMemoryCancelRegistry() *MemoryCancelRegistry {
	return &MemoryCancelRegistry{tombstones: make(map[string]time.Time)}
}

// CancelRule implements CancelRegistry.
func (r *MemoryCancelRegistry) CancelRule(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tombstones[ruleID] = time.Now()
	return nil
}

// Reinstate implements CancelRegistry.
func (r *MemoryCancelRegistry) Reinstate(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tombstones, ruleID)
	return nil
}

// IsCancelled implements CancelRegistry.
func (r *MemoryCancelRegistry) IsCancelled(_ context.Context, ruleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tombstones[ruleID]
	return ok, nil
}
