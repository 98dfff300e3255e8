package relay

import (
	"fmt"
	"time"

	"chatsync/internal/domain"
)

// Agent is the relay's built-in project-manager counterpart. It answers
// messages on agent channels with a status event followed by a reply, the
// same shape a real assistant backend would produce.
type Agent struct {
	hub        *Hub
	transcript *Transcript
	// delay between receiving a question, the status event, and the reply
	Delay time.Duration
	// Reply builds the answer text; replaceable in tests
	Reply func(question string) string
}

func NewAgent(hub *Hub, transcript *Transcript) *Agent {
	return &Agent{
		hub:        hub,
		transcript: transcript,
		Delay:      300 * time.Millisecond,
		Reply: func(question string) string {
			return fmt.Sprintf("Here is what I found for %q.", question)
		},
	}
}

// Respond emits the status/answer pair for one question, asynchronously.
// Both events are stored so a history re-fetch returns them.
func (a *Agent) Respond(target domain.ConversationTarget, askerID, question string) {
	go func() {
		time.Sleep(a.Delay)

		status := domain.Event{
			Type:        domain.EventStatus,
			SenderID:    target.ChannelID(),
			RecipientID: askerID,
			RoleTag:     domain.RoleTagAI,
			Content:     "processing",
		}
		status, _ = a.transcript.Store(status)
		a.hub.BroadcastToParties([]string{askerID}, status)

		time.Sleep(a.Delay)

		answer := domain.Event{
			Type:        domain.EventMessage,
			SenderID:    target.ChannelID(),
			RecipientID: askerID,
			RoleTag:     domain.RoleTagAI,
			Content:     a.Reply(question),
		}
		answer, _ = a.transcript.Store(answer)
		a.hub.BroadcastToParties([]string{askerID}, answer)
	}()
}
