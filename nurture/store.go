package nurture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/replyflow/errors"
)

// SessionStore persists recipient sessions with compare-and-swap revisions,
// keeping step advancement linearizable across engine instances.
type SessionStore interface {
	// Get returns the session and its revision, or ErrSessionNotFound.
	Get(ctx context.Context, ruleID, recipientID string) (RecipientSession, uint64, error)

	// Create stores a new session, failing with ErrRevisionConflict if
	// one already exists for the pair.
	Create(ctx context.Context, session RecipientSession) (uint64, error)

	// Update replaces the session iff the revision still matches,
	// failing with ErrRevisionConflict otherwise.
	Update(ctx context.Context, session RecipientSession, revision uint64) (uint64, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, ruleID, recipientID string) error

	// ByRule returns every session belonging to a rule.
	ByRule(ctx context.Context, ruleID string) ([]RecipientSession, error)
}

// MemorySessionStore is an in-process SessionStore for tests and embedded
// deployments, mirroring the KV store's revision semantics.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	session  RecipientSession
	revision uint64
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySession)}
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, ruleID, recipientID string) (RecipientSession, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[SessionKey(ruleID, recipientID)]
	if !ok {
		return RecipientSession{}, 0, fmt.Errorf("%w: %s/%s", errors.ErrSessionNotFound, ruleID, recipientID)
	}
	return e.session, e.revision, nil
}

// Create implements SessionStore.
func (s *MemorySessionStore) Create(_ context.Context, session RecipientSession) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := session.Key()
	if _, exists := s.sessions[key]; exists {
		return 0, fmt.Errorf("%w: session %s exists", errors.ErrRevisionConflict, key)
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[key] = memorySession{session: session, revision: 1}
	return 1, nil
}

// Update implements SessionStore.
func (s *MemorySessionStore) Update(_ context.Context, session RecipientSession, revision uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := session.Key()
	e, exists := s.sessions[key]
	if !exists || e.revision != revision {
		return 0, fmt.Errorf("%w: session %s at revision %d", errors.ErrRevisionConflict, key, revision)
	}
	session.UpdatedAt = time.Now().UTC()
	next := memorySession{session: session, revision: revision + 1}
	s.sessions[key] = next
	return next.revision, nil
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, ruleID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, SessionKey(ruleID, recipientID))
	return nil
}

// ByRule implements SessionStore.
func (s *MemorySessionStore) ByRule(_ context.Context, ruleID string) ([]RecipientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := RulePrefix(ruleID)
	var out []RecipientSession
	for key, e := range s.sessions {
		if strings.HasPrefix(key, prefix) {
			out = append(out, e.session)
		}
	}
	return out, nil
}

// Len returns the number of stored sessions. Test helper.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
