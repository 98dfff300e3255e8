package engine

import (
	"fmt"

	"chatsync/internal/domain"
)

// Identity is the read-only identity context threaded into classification.
// It is an explicit value, not shared mutable state, so two open
// conversation views can carry different profile snapshots safely.
type Identity struct {
	LocalName       string
	AvatarInitials  string
	CounterpartName string            // configured assistant/agent name
	Roster          map[string]string // participant id -> display name (group)
}

// Classifier maps a raw inbound event to a (role, display name) pair for
// one conversation context. Pure over its inputs; no side effects.
type Classifier struct {
	conv domain.ConversationContext
	id   Identity
}

func NewClassifier(conv domain.ConversationContext, id Identity) *Classifier {
	return &Classifier{conv: conv, id: id}
}

// Classify resolves the event's logical role and display name. Resolution
// order, first match wins:
//
//  1. role tag denotes the counterpart (agent/AI)
//  2. role tag denotes a human user and the sender is the local party
//  3. sender id matches the counterpart target (structural match; for
//     group targets any roster member other than the local party)
//  4. sender id equals the local party id
//
// A user tag alone is ambiguous: every human participant's messages carry
// it, so it only resolves to "own" when the sender id agrees. Tagged
// messages from other humans fall through to the id-based steps.
//
// Anything else fails with ErrUnresolvedRole. Role is never inferred from
// message content.
func (c *Classifier) Classify(ev domain.Event) (domain.Role, string, error) {
	switch {
	case ev.RoleTag == domain.RoleTagAI:
		return domain.RoleCounterpart, c.counterpartName(ev.SenderID), nil
	case ev.RoleTag == domain.RoleTagUser && ev.SenderID == c.conv.LocalPartyID:
		return domain.RoleOwn, c.localName(), nil
	case c.conv.Matches(ev.SenderID):
		return domain.RoleCounterpart, c.counterpartName(ev.SenderID), nil
	case c.conv.Target.Kind == domain.TargetGroup && ev.SenderID != c.conv.LocalPartyID && c.inRoster(ev.SenderID):
		return domain.RoleCounterpart, c.counterpartName(ev.SenderID), nil
	case ev.SenderID == c.conv.LocalPartyID:
		return domain.RoleOwn, c.localName(), nil
	}
	return "", "", fmt.Errorf("%w: sender %q in conversation with %q", domain.ErrUnresolvedRole, ev.SenderID, c.conv.CounterpartID())
}

func (c *Classifier) inRoster(senderID string) bool {
	_, ok := c.id.Roster[senderID]
	return ok
}

func (c *Classifier) localName() string {
	if c.id.LocalName != "" {
		return c.id.LocalName
	}
	return c.conv.LocalPartyID
}

func (c *Classifier) counterpartName(senderID string) string {
	if name, ok := c.id.Roster[senderID]; ok {
		return name
	}
	if c.id.CounterpartName != "" {
		return c.id.CounterpartName
	}
	return senderID
}
