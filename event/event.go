// Package event defines the wire types that cross the engine boundary:
// inbound chat messages entering the pipeline and dispatch jobs leaving it.
// Both are JSON-serializable for NATS transport.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GroupRole identifies a sender's standing inside a moderated group.
type GroupRole string

const (
	// RoleMember is an ordinary group participant.
	RoleMember GroupRole = "member"
	// RoleAdmin is a group administrator.
	RoleAdmin GroupRole = "admin"
	// RoleCreator is the group's creator.
	RoleCreator GroupRole = "creator"
)

// Attachment carries the subset of media metadata the engine inspects.
// Content itself never enters the engine.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	SizeByte int64  `json:"size_bytes,omitempty"`
}

// InboundMessage is a single chat event entering the pipeline.
// GroupID is empty for direct messages.
type InboundMessage struct {
	MessageID  string      `json:"message_id"`
	Text       string      `json:"text"`
	SenderID   string      `json:"sender_id"`
	GroupID    string      `json:"group_id,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// IsGroup reports whether the message originated in a group context.
func (m InboundMessage) IsGroup() bool {
	return m.GroupID != ""
}

// Sender describes the identity facts recipient resolution needs.
type Sender struct {
	PhoneNumber string `json:"phone_number"`
	DisplayName string `json:"display_name,omitempty"`
	CountryCode string `json:"country_code"`
	IsSaved     bool   `json:"is_saved"`
	IsBusiness  bool   `json:"is_business"`
}

// TemplateName returns the value {{name}} renders to: the contact-book name
// when one exists, otherwise the phone number.
func (s Sender) TemplateName() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.PhoneNumber
}

// DispatchJob is the record handed to the external Dispatch Interface:
// send this payload to this recipient at this time. StepIndex is nil for a
// rule's primary response and set for nurturing steps.
type DispatchJob struct {
	JobID       string          `json:"job_id"`
	RuleID      string          `json:"rule_id"`
	RecipientID string          `json:"recipient_id,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	FireAt      time.Time       `json:"fire_at"`
	Payload     Payload         `json:"payload"`
	StepIndex   *int            `json:"step_index,omitempty"`
}

// NewJobID returns a fresh opaque job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Payload is the content of an outbound message. The engine treats it as
// opaque apart from template-variable substitution in Text.
type Payload struct {
	Text           string   `json:"text,omitempty"`
	AttachmentIDs  []string `json:"attachment_ids,omitempty"`
	ContactCardIDs []string `json:"contact_card_ids,omitempty"`
	PollID         string   `json:"poll_id,omitempty"`
	ForwardTarget  string   `json:"forward_target,omitempty"`
}

// Render substitutes template variables of the form {{name}} in the payload
// text using the supplied variable map. Unknown variables are left intact so
// a misconfigured template stays visible downstream.
func (p Payload) Render(vars map[string]string) Payload {
	if p.Text == "" || len(vars) == 0 {
		return p
	}
	out := p
	for name, value := range vars {
		out.Text = strings.ReplaceAll(out.Text, "{{"+name+"}}", value)
	}
	return out
}

// IsEmpty reports whether the payload carries nothing to send.
func (p Payload) IsEmpty() bool {
	return p.Text == "" &&
		len(p.AttachmentIDs) == 0 &&
		len(p.ContactCardIDs) == 0 &&
		p.PollID == "" &&
		p.ForwardTarget == ""
}
