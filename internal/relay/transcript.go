package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
)

// Transcript is the relay's in-memory event log, one ordered slice per
// channel key. Client idempotency keys deduplicate redelivered publishes:
// storing the same client key twice returns the originally stored event.
type Transcript struct {
	mu     sync.RWMutex
	events map[string][]domain.Event
	dedupe map[string]map[string]domain.Event // channel key -> client key -> stored event
}

func NewTranscript() *Transcript {
	return &Transcript{
		events: make(map[string][]domain.Event),
		dedupe: make(map[string]map[string]domain.Event),
	}
}

// ChannelKey computes the storage key for an event: synthetic channels key
// on the channel id, direct conversations on the normalized party pair.
func ChannelKey(senderID, recipientID string) string {
	if t := domain.ParseChannelID(recipientID); t.Kind != domain.TargetDirect {
		return recipientID
	}
	if t := domain.ParseChannelID(senderID); t.Kind != domain.TargetDirect {
		return senderID
	}
	return PairKey(senderID, recipientID)
}

// PairKey normalizes a direct conversation's two party ids into one key.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Store assigns a server id and timestamp and appends the event to its
// channel. If the event's client key was already stored the original is
// returned with stored=false.
func (t *Transcript) Store(ev domain.Event) (domain.Event, bool) {
	key := ChannelKey(ev.SenderID, ev.RecipientID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.ClientKey != "" {
		if prev, ok := t.dedupe[key][ev.ClientKey]; ok {
			return prev, false
		}
	}

	ev.ID = uuid.NewString()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	t.events[key] = append(t.events[key], ev)

	if ev.ClientKey != "" {
		if t.dedupe[key] == nil {
			t.dedupe[key] = make(map[string]domain.Event)
		}
		t.dedupe[key][ev.ClientKey] = ev
	}
	return ev, true
}

// List returns the channel's events in chronological order.
func (t *Transcript) List(key string) []domain.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Event, len(t.events[key]))
	copy(out, t.events[key])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Parties lists the distinct direct parties recorded under a key. Used to
// address broadcasts for synthetic channels.
func (t *Transcript) Parties(key string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ev := range t.events[key] {
		for _, id := range []string{ev.SenderID, ev.RecipientID} {
			if id == "" || strings.Contains(id, "|") {
				continue
			}
			if domain.ParseChannelID(id).Kind == domain.TargetDirect {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
