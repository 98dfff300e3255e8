package engine

import (
	"sort"
	"sync"

	"chatsync/internal/domain"
)

// ConnectionStatus is the store's view of the shared channel connection.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Store holds the canonical ordered transcript and derived view state for
// one conversation context. The transcript order is a total order over
// (timestamp, sequence, id); replaying the same event set always yields the
// same order regardless of arrival order.
type Store struct {
	mu   sync.RWMutex
	conv domain.ConversationContext

	msgs    []*domain.Message
	seen    map[string]struct{}
	pending map[string]*domain.Message // local id -> message awaiting ack
	seq     uint64

	conn     ConnectionStatus
	typing   bool
	awaiting bool
	transfer *domain.PendingFileTransfer

	onChange func()
}

func NewStore(conv domain.ConversationContext) *Store {
	return &Store{
		conv:    conv,
		seen:    make(map[string]struct{}),
		pending: make(map[string]*domain.Message),
		conn:    StatusDisconnected,
	}
}

// Context returns the immutable conversation context this store serves.
func (s *Store) Context() domain.ConversationContext {
	return s.conv
}

// OnChange registers a single notification callback invoked after every
// mutation, outside the store lock. Intended for the observing view.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Seen reports whether the given message id has already been applied.
func (s *Store) Seen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// NextSeq returns the next local sequence number. Only locally originated
// messages take one: inbound events order by (timestamp, id) alone, so the
// transcript order never depends on arrival order.
func (s *Store) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Append inserts the message at its ordered position. It is a no-op
// returning ErrDuplicateMessage if the message id is already present.
func (s *Store) Append(m *domain.Message) error {
	s.mu.Lock()
	if _, dup := s.seen[m.ID]; dup {
		s.mu.Unlock()
		return domain.ErrDuplicateMessage
	}
	s.seen[m.ID] = struct{}{}
	if m.LocalID != "" {
		s.seen[m.LocalID] = struct{}{}
		if m.Delivery == domain.DeliveryPending {
			s.pending[m.LocalID] = m
		}
	}
	i := sort.Search(len(s.msgs), func(i int) bool { return m.Before(s.msgs[i]) })
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.mu.Unlock()
	s.notify()
	return nil
}

// MarkLatestActiveStatusComplete flips the most recent active status
// indicator to complete. Idempotent when none is active.
func (s *Store) MarkLatestActiveStatusComplete() bool {
	s.mu.Lock()
	var flipped bool
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ActiveStatus() {
			s.msgs[i].Status = domain.StatusComplete
			flipped = true
			break
		}
	}
	s.mu.Unlock()
	if flipped {
		s.notify()
	}
	return flipped
}

// PendingPatch carries the fields that may change when a pending message is
// acknowledged or fails.
type PendingPatch struct {
	ServerID string
	Delivery domain.DeliveryState
}

// UpdatePending transitions a locally created pending message by its local
// id. Matching is by key only, never content equality, so a legitimately
// duplicated user message is never corrupted. Returns false when no pending
// message has that local id.
func (s *Store) UpdatePending(localID string, patch PendingPatch) bool {
	s.mu.Lock()
	m, ok := s.pending[localID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if patch.ServerID != "" {
		m.ID = patch.ServerID
		s.seen[patch.ServerID] = struct{}{}
	}
	if patch.Delivery != "" {
		m.Delivery = patch.Delivery
	}
	if m.Delivery != domain.DeliveryPending {
		delete(s.pending, localID)
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// HasPending reports whether a pending message with the given local id
// exists.
func (s *Store) HasPending(localID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[localID]
	return ok
}

// SetConnectionStatus updates the connection view state. An active status
// indicator is deliberately left untouched on disconnect: the counterpart
// may still be working server-side and will resume on reconnect.
func (s *Store) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	changed := s.conn != status
	s.conn = status
	if status == StatusDisconnected {
		s.typing = false
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) ConnectionStatus() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// SetTyping records the best-effort counterpart typing indicator.
func (s *Store) SetTyping(v bool) {
	s.mu.Lock()
	changed := s.typing != v
	s.typing = v
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

// SetAwaiting flags that a sent message is waiting for the counterpart's
// response. Cleared by the reconciler on answer, or force-cleared by the
// session's bounded wait.
func (s *Store) SetAwaiting(v bool) {
	s.mu.Lock()
	changed := s.awaiting != v
	s.awaiting = v
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) Awaiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awaiting
}

// BeginTransfer registers a new outbound transfer. Only one may be active
// per conversation; a second send is rejected with ErrTransferInFlight.
func (s *Store) BeginTransfer(filename string, size int64) error {
	s.mu.Lock()
	if s.transfer != nil && s.transfer.State == domain.TransferActive {
		s.mu.Unlock()
		return domain.ErrTransferInFlight
	}
	s.transfer = &domain.PendingFileTransfer{
		Filename:  filename,
		SizeBytes: size,
		State:     domain.TransferActive,
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetTransferProgress advances the active transfer's progress. Regressions
// are ignored to keep the percentage monotone.
func (s *Store) SetTransferProgress(pct int) {
	s.mu.Lock()
	t := s.transfer
	if t == nil || t.State != domain.TransferActive || pct <= t.Progress {
		s.mu.Unlock()
		return
	}
	if pct > 100 {
		pct = 100
	}
	t.Progress = pct
	s.mu.Unlock()
	s.notify()
}

// FinishTransfer moves the active transfer to a terminal state.
func (s *Store) FinishTransfer(state domain.TransferState, reason string) {
	s.mu.Lock()
	if s.transfer == nil {
		s.mu.Unlock()
		return
	}
	s.transfer.State = state
	s.transfer.Reason = reason
	if state == domain.TransferSucceeded {
		s.transfer.Progress = 100
	}
	s.mu.Unlock()
	s.notify()
}

// Transfer returns a copy of the current transfer state, or nil.
func (s *Store) Transfer() *domain.PendingFileTransfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transfer == nil {
		return nil
	}
	t := *s.transfer
	return &t
}

// Messages returns a copy of the ordered transcript.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// Len returns the transcript length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
