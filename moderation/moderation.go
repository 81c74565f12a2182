// Package moderation selects moderated-group reply templates. It is invoked
// instead of the trigger matcher when an inbound event originates in a
// merged/moderated group.
package moderation

import (
	"strings"

	"github.com/c360/replyflow/event"
	"github.com/c360/replyflow/rulestore"
)

// Evaluate returns the single reply template applicable to a group message,
// or nil when no reply should fire. Only messages carrying an attachment
// whose MIME type is in the set's restricted list trigger a reply; the
// template is then chosen by sender role with creator taking precedence over
// admin over ordinary members.
func Evaluate(set rulestore.ModerationRuleSet, msg event.InboundMessage, role event.GroupRole) *rulestore.ReplyRule {
	if msg.Attachment == nil {
		return nil
	}
	if !restricted(set.RestrictedFileTypes, msg.Attachment.MIMEType) {
		return nil
	}

	var reply rulestore.ReplyRule
	switch role {
	case event.RoleCreator:
		reply = set.CreatorRule
	case event.RoleAdmin:
		reply = set.AdminRule
	default:
		reply = set.GroupRule
	}

	if !reply.IsSet() {
		return nil
	}
	return &reply
}

// restricted matches MIME types case-insensitively, ignoring any parameters
// after ";" in the message's type.
func restricted(types []string, mime string) bool {
	if mime == "" {
		return false
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))

	for _, t := range types {
		if strings.ToLower(strings.TrimSpace(t)) == mime {
			return true
		}
	}
	return false
}
