// Package directory defines the Recipient Directory boundary: the external
// service that knows contact book state and group membership. The engine
// consumes it read-only.
package directory

import (
	"context"
	"sync"

	"github.com/c360/replyflow/event"
)

// Directory answers identity questions about senders. Implementations live
// outside the engine; StaticDirectory backs tests and embedded deployments.
type Directory interface {
	// Sender resolves the full identity facts for a sender id.
	Sender(ctx context.Context, senderID string) (event.Sender, error)

	// RoleInGroup returns the sender's standing in a group. Unknown
	// senders are ordinary members.
	RoleInGroup(ctx context.Context, senderID, groupID string) (event.GroupRole, error)
}

// StaticDirectory is an in-memory Directory seeded up front.
type StaticDirectory struct {
	mu      sync.RWMutex
	senders map[string]event.Sender
	roles   map[string]event.GroupRole // key: groupID + "/" + senderID
}

// NewStatic creates an empty static directory.
func NewStatic() *StaticDirectory {
	return &StaticDirectory{
		senders: make(map[string]event.Sender),
		roles:   make(map[string]event.GroupRole),
	}
}

// AddSender registers or replaces a sender identity.
func (d *StaticDirectory) AddSender(senderID string, s event.Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[senderID] = s
}

// SetRole records a sender's role in a group.
func (d *StaticDirectory) SetRole(groupID, senderID string, role event.GroupRole) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[groupID+"/"+senderID] = role
}

// Sender implements Directory. Unknown senders resolve as unsaved
// non-business identities carrying their id as the phone number, so a
// directory gap degrades to the strictest eligibility path instead of
// failing the pipeline.
func (d *StaticDirectory) Sender(_ context.Context, senderID string) (event.Sender, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, ok := d.senders[senderID]; ok {
		return s, nil
	}
	return event.Sender{PhoneNumber: senderID}, nil
}

// RoleInGroup implements Directory.
func (d *StaticDirectory) RoleInGroup(_ context.Context, senderID, groupID string) (event.GroupRole, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if role, ok := d.roles[groupID+"/"+senderID]; ok {
		return role, nil
	}
	return event.RoleMember, nil
}
