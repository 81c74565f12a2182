package debounce

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and embedded deployments.
// The mutex makes Advance atomic per store, which is stricter than the
// per-key atomicity the interface asks for.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Advance implements Store.
func (s *MemoryStore) Advance(_ context.Context, key string, gap time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.entries[key]; ok && now.Sub(last) < gap {
		return false, nil
	}
	s.entries[key] = now
	return true, nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := RulePrefix(ruleID)
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Len reports how many pairs are tracked. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
