package domain

import "strings"

// TargetKind distinguishes the three conversation shapes.
type TargetKind string

const (
	TargetDirect TargetKind = "direct"
	TargetAgent  TargetKind = "agent"
	TargetGroup  TargetKind = "group"
)

// Wire prefixes for synthetic channel identifiers. Parsing and rendering go
// through ChannelID/ParseChannelID only; nothing else compares substrings.
const (
	agentChannelPrefix = "project_manager_"
	groupChannelPrefix = "group_chat_"
)

// ConversationTarget identifies the counterpart of a conversation as a
// tagged union: a direct peer, a per-project agent, or a group channel.
// Values are comparable; matching is structural equality, never substring
// containment.
type ConversationTarget struct {
	Kind      TargetKind
	UserID    string // Kind == TargetDirect
	ProjectID string // Kind == TargetAgent or TargetGroup
	ClientID  string // Kind == TargetGroup
}

func DirectTarget(userID string) ConversationTarget {
	return ConversationTarget{Kind: TargetDirect, UserID: userID}
}

func AgentTarget(projectID string) ConversationTarget {
	return ConversationTarget{Kind: TargetAgent, ProjectID: projectID}
}

func GroupTarget(projectID, clientID string) ConversationTarget {
	return ConversationTarget{Kind: TargetGroup, ProjectID: projectID, ClientID: clientID}
}

// ChannelID renders the wire identifier the event channel routes on.
func (t ConversationTarget) ChannelID() string {
	switch t.Kind {
	case TargetAgent:
		return agentChannelPrefix + t.ProjectID
	case TargetGroup:
		return groupChannelPrefix + t.ProjectID + "_" + t.ClientID
	default:
		return t.UserID
	}
}

// ParseChannelID recovers a ConversationTarget from its wire identifier.
// Identifiers that carry no synthetic prefix parse as direct targets.
func ParseChannelID(id string) ConversationTarget {
	if rest, ok := strings.CutPrefix(id, agentChannelPrefix); ok {
		return AgentTarget(rest)
	}
	if rest, ok := strings.CutPrefix(id, groupChannelPrefix); ok {
		if project, client, ok := strings.Cut(rest, "_"); ok {
			return GroupTarget(project, client)
		}
	}
	return DirectTarget(id)
}

// ConversationContext identifies one conversation: the local party plus the
// counterpart target. Immutable for the lifetime of an open view; switching
// conversations creates a new context.
type ConversationContext struct {
	LocalPartyID string
	Target       ConversationTarget
}

// CounterpartID is the wire identifier of the counterpart.
func (c ConversationContext) CounterpartID() string {
	return c.Target.ChannelID()
}

// Matches reports whether the given wire identifier denotes this context's
// counterpart. Synthetic identifiers are parsed and compared structurally.
func (c ConversationContext) Matches(id string) bool {
	if id == "" {
		return false
	}
	return ParseChannelID(id) == c.Target
}
