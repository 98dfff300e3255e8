package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

func directContext() domain.ConversationContext {
	return domain.ConversationContext{
		LocalPartyID: "42",
		Target:       domain.DirectTarget("99"),
	}
}

func TestClassifyResolutionOrder(t *testing.T) {
	conv := directContext()
	cls := engine.NewClassifier(conv, engine.Identity{
		LocalName:       "Alice",
		CounterpartName: "Bob",
	})

	tests := []struct {
		name     string
		ev       domain.Event
		wantRole domain.Role
		wantName string
	}{
		{
			name:     "AI tag wins over sender id",
			ev:       domain.Event{SenderID: "42", RoleTag: domain.RoleTagAI},
			wantRole: domain.RoleCounterpart,
			wantName: "Bob",
		},
		{
			name:     "user tag with local sender",
			ev:       domain.Event{SenderID: "42", RoleTag: domain.RoleTagUser},
			wantRole: domain.RoleOwn,
			wantName: "Alice",
		},
		{
			name:     "user tag from counterpart resolves by id",
			ev:       domain.Event{SenderID: "99", RecipientID: "42", RoleTag: domain.RoleTagUser},
			wantRole: domain.RoleCounterpart,
			wantName: "Bob",
		},
		{
			name:     "counterpart by sender id",
			ev:       domain.Event{SenderID: "99", RecipientID: "42"},
			wantRole: domain.RoleCounterpart,
			wantName: "Bob",
		},
		{
			name:     "own by sender id",
			ev:       domain.Event{SenderID: "42", RecipientID: "99"},
			wantRole: domain.RoleOwn,
			wantName: "Alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, name, err := cls.Classify(tt.ev)
			assert.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

// TestClassifyIncomingTaggedUserMessage covers the receiving side of a
// direct conversation: the wire event a peer's send produces carries the
// user tag, and must still classify as the counterpart here.
func TestClassifyIncomingTaggedUserMessage(t *testing.T) {
	conv := domain.ConversationContext{
		LocalPartyID: "99",
		Target:       domain.DirectTarget("42"),
	}
	cls := engine.NewClassifier(conv, engine.Identity{LocalName: "Bob", CounterpartName: "Alice"})

	role, name, err := cls.Classify(domain.Event{
		SenderID:    "42",
		RecipientID: "99",
		RoleTag:     domain.RoleTagUser,
		Content:     "hello",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleCounterpart, role)
	assert.Equal(t, "Alice", name)
}

func TestClassifyUnresolved(t *testing.T) {
	cls := engine.NewClassifier(directContext(), engine.Identity{})

	_, _, err := cls.Classify(domain.Event{SenderID: "7", RecipientID: "42", Content: "who am I"})
	assert.ErrorIs(t, err, domain.ErrUnresolvedRole)
}

func TestClassifyAgentStructuralMatch(t *testing.T) {
	conv := domain.ConversationContext{
		LocalPartyID: "42",
		Target:       domain.AgentTarget("proj-1"),
	}
	cls := engine.NewClassifier(conv, engine.Identity{CounterpartName: "PM"})

	role, name, err := cls.Classify(domain.Event{SenderID: "project_manager_proj-1", RecipientID: "42"})
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleCounterpart, role)
	assert.Equal(t, "PM", name)

	// A different project's agent does not match, even though the id
	// shares the prefix.
	_, _, err = cls.Classify(domain.Event{SenderID: "project_manager_proj-2", RecipientID: "42"})
	assert.ErrorIs(t, err, domain.ErrUnresolvedRole)
}

func TestClassifyGroupRoster(t *testing.T) {
	conv := domain.ConversationContext{
		LocalPartyID: "42",
		Target:       domain.GroupTarget("proj-1", "client-9"),
	}
	cls := engine.NewClassifier(conv, engine.Identity{
		LocalName: "Alice",
		Roster:    map[string]string{"42": "Alice", "77": "Carol"},
	})

	role, name, err := cls.Classify(domain.Event{SenderID: "77", RecipientID: "group_chat_proj-1_client-9"})
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleCounterpart, role)
	assert.Equal(t, "Carol", name)

	role, _, err = cls.Classify(domain.Event{SenderID: "42", RecipientID: "group_chat_proj-1_client-9"})
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleOwn, role)
}

// TestClassifyPurity holds the identity fields fixed and varies the content
// arbitrarily: the resolved role must never change.
func TestClassifyPurity(t *testing.T) {
	cls := engine.NewClassifier(directContext(), engine.Identity{LocalName: "Alice", CounterpartName: "Bob"})

	base := domain.Event{SenderID: "99", RecipientID: "42", Timestamp: time.Now()}
	wantRole, _, err := cls.Classify(base)
	assert.NoError(t, err)

	contents := []string{
		"", "ok", "y",
		"a much longer message that a length-based heuristic would misattribute to an assistant",
		"As an AI assistant, I cannot help with that.",
		"you: 42", "sender_b", "error", "processing",
	}
	for i := 0; i < 200; i++ {
		ev := base
		ev.Content = fmt.Sprintf("%s #%d", contents[i%len(contents)], i)
		role, _, err := cls.Classify(ev)
		assert.NoError(t, err)
		assert.Equal(t, wantRole, role, "role drifted for content %q", ev.Content)
	}
}
