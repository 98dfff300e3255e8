package relay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/relay"
)

func TestChannelKey(t *testing.T) {
	assert.Equal(t, "42|99", relay.ChannelKey("42", "99"))
	assert.Equal(t, "42|99", relay.ChannelKey("99", "42"), "direction must not matter")
	assert.Equal(t, "project_manager_p1", relay.ChannelKey("42", "project_manager_p1"))
	assert.Equal(t, "project_manager_p1", relay.ChannelKey("project_manager_p1", "42"))
	assert.Equal(t, "group_chat_p1_c9", relay.ChannelKey("42", "group_chat_p1_c9"))
}

func TestStoreAssignsIDAndTimestamp(t *testing.T) {
	tr := relay.NewTranscript()

	ev, stored := tr.Store(domain.Event{
		Type: domain.EventMessage, SenderID: "42", RecipientID: "99", Content: "hi",
	})
	assert.True(t, stored)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestStoreDedupesByClientKey(t *testing.T) {
	tr := relay.NewTranscript()

	first, stored := tr.Store(domain.Event{
		Type: domain.EventMessage, ClientKey: "ck-1",
		SenderID: "42", RecipientID: "99", Content: "hi",
	})
	require.True(t, stored)

	second, stored := tr.Store(domain.Event{
		Type: domain.EventMessage, ClientKey: "ck-1",
		SenderID: "42", RecipientID: "99", Content: "hi",
	})
	assert.False(t, stored, "redelivered publish must not append")
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, tr.List(relay.PairKey("42", "99")), 1)
}

func TestListIsChronological(t *testing.T) {
	tr := relay.NewTranscript()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		tr.Store(domain.Event{
			Type: domain.EventMessage, SenderID: "42", RecipientID: "99",
			Content: offset.String(), Timestamp: base.Add(offset),
		})
	}

	got := tr.List(relay.PairKey("42", "99"))
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
}

func TestPartiesListsDirectParticipantsOnly(t *testing.T) {
	tr := relay.NewTranscript()

	tr.Store(domain.Event{Type: domain.EventMessage, SenderID: "42", RecipientID: "group_chat_p1_c9", Content: "a"})
	tr.Store(domain.Event{Type: domain.EventMessage, SenderID: "77", RecipientID: "group_chat_p1_c9", Content: "b"})
	tr.Store(domain.Event{Type: domain.EventMessage, SenderID: "group_chat_p1_c9", RecipientID: "42", Content: "c"})

	assert.Equal(t, []string{"42", "77"}, tr.Parties("group_chat_p1_c9"))
}
