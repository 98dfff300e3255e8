package engine_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

func newStore() *engine.Store {
	return engine.NewStore(directContext())
}

func msgAt(id string, ts time.Time) *domain.Message {
	return &domain.Message{ID: id, Role: domain.RoleCounterpart, Sender: "Bob", Content: "m-" + id, Timestamp: ts}
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	s := newStore()
	ts := time.Now()

	require.NoError(t, s.Append(msgAt("a", ts)))
	assert.ErrorIs(t, s.Append(msgAt("a", ts.Add(time.Second))), domain.ErrDuplicateMessage)
	assert.Equal(t, 1, s.Len())
}

func TestOrderingIsArrivalIndependent(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"d", "b", "a", "c", "e"}

	build := func(perm []int) []string {
		s := newStore()
		for _, i := range perm {
			// two of the five share a timestamp so the id tie-break matters
			ts := base.Add(time.Duration(i/2) * time.Minute)
			s.Append(msgAt(ids[i], ts))
		}
		var got []string
		for _, m := range s.Messages() {
			got = append(got, m.ID)
		}
		return got
	}

	want := build([]int{0, 1, 2, 3, 4})
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		perm := rng.Perm(len(ids))
		assert.Equal(t, want, build(perm), "permutation %v changed the order", perm)
	}
}

func TestStatusLifecycle(t *testing.T) {
	s := newStore()
	ts := time.Now()

	assert.False(t, s.MarkLatestActiveStatusComplete(), "idempotent with no indicator")

	s.Append(&domain.Message{ID: "s1", Role: domain.RoleStatus, Status: domain.StatusActive, Timestamp: ts})
	s.Append(&domain.Message{ID: "s2", Role: domain.RoleStatus, Status: domain.StatusActive, Timestamp: ts.Add(time.Second)})

	assert.True(t, s.MarkLatestActiveStatusComplete())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.StatusActive, msgs[0].Status, "older indicator untouched")
	assert.Equal(t, domain.StatusComplete, msgs[1].Status)
}

func TestUpdatePendingByLocalKeyOnly(t *testing.T) {
	s := newStore()
	ts := time.Now()

	// Two own messages with identical content: only the keyed one moves.
	s.Append(&domain.Message{ID: "k1", LocalID: "k1", Role: domain.RoleOwn, Content: "hello", Timestamp: ts, Seq: s.NextSeq(), Delivery: domain.DeliveryPending})
	s.Append(&domain.Message{ID: "k2", LocalID: "k2", Role: domain.RoleOwn, Content: "hello", Timestamp: ts, Seq: s.NextSeq(), Delivery: domain.DeliveryPending})

	ok := s.UpdatePending("k1", engine.PendingPatch{ServerID: "srv-1", Delivery: domain.DeliveryConfirmed})
	assert.True(t, ok)
	assert.False(t, s.HasPending("k1"))
	assert.True(t, s.HasPending("k2"))
	assert.True(t, s.Seen("srv-1"))

	assert.False(t, s.UpdatePending("missing", engine.PendingPatch{Delivery: domain.DeliveryFailed}))

	var confirmed, pending int
	for _, m := range s.Messages() {
		switch m.Delivery {
		case domain.DeliveryConfirmed:
			confirmed++
		case domain.DeliveryPending:
			pending++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, pending)
}

func TestDisconnectLeavesActiveStatusAlone(t *testing.T) {
	s := newStore()
	s.Append(&domain.Message{ID: "s1", Role: domain.RoleStatus, Status: domain.StatusActive, Timestamp: time.Now()})
	s.SetTyping(true)

	s.SetConnectionStatus(engine.StatusDisconnected)

	assert.Equal(t, engine.StatusDisconnected, s.ConnectionStatus())
	assert.False(t, s.Typing(), "typing expectation cleared on disconnect")
	assert.Equal(t, domain.StatusActive, s.Messages()[0].Status, "counterpart may still be working server-side")
}

func TestSingleTransferInFlight(t *testing.T) {
	s := newStore()

	require.NoError(t, s.BeginTransfer("a.pdf", 100))
	assert.ErrorIs(t, s.BeginTransfer("b.pdf", 200), domain.ErrTransferInFlight)

	s.SetTransferProgress(40)
	s.SetTransferProgress(10) // regression ignored
	assert.Equal(t, 40, s.Transfer().Progress)

	s.FinishTransfer(domain.TransferFailed, "boom")
	assert.Equal(t, domain.TransferFailed, s.Transfer().State)

	// terminal state frees the slot for a retry
	assert.NoError(t, s.BeginTransfer("a.pdf", 100))
}

func TestOnChangeNotifies(t *testing.T) {
	s := newStore()
	var fired int
	s.OnChange(func() { fired++ })

	s.Append(msgAt("a", time.Now()))
	s.SetTyping(true)
	assert.Equal(t, 2, fired)
}
