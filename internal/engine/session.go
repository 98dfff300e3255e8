package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/channel"
	"chatsync/internal/domain"
)

// DefaultAnswerWait bounds how long the UI may sit in the "counterpart is
// answering" state after a send before it is force-cleared.
const DefaultAnswerWait = 30 * time.Second

// SessionConfig wires the session's collaborators.
type SessionConfig struct {
	Channel    channel.Channel
	History    domain.HistoryFetcher
	Uploads    domain.Uploader
	Profiles   domain.ProfileSource
	Navigator  domain.Navigator
	Logger     *slog.Logger
	AnswerWait time.Duration
}

// Session owns the client's side of the shared event channel: per-context
// handler attachment, message and file sends, and the bounded answer wait.
// The channel connection itself is a process-wide singleton passed in; the
// session only owns its subscription filters.
type Session struct {
	ch         channel.Channel
	history    domain.HistoryFetcher
	uploads    domain.Uploader
	profiles   domain.ProfileSource
	nav        domain.Navigator
	logger     *slog.Logger
	answerWait time.Duration

	mu          sync.Mutex
	conv        domain.ConversationContext
	identity    Identity
	store       *Store
	rec         *Reconciler
	unsubs      []func()
	answerTimer *time.Timer
	lastStatus  ConnectionStatus
	disposed    bool
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.AnswerWait
	if wait <= 0 {
		wait = DefaultAnswerWait
	}
	return &Session{
		ch:         cfg.Channel,
		history:    cfg.History,
		uploads:    cfg.Uploads,
		profiles:   cfg.Profiles,
		nav:        cfg.Navigator,
		logger:     logger,
		answerWait: wait,
		lastStatus: StatusDisconnected,
	}
}

// SwitchContext tears down the previous conversation's subscriptions and
// store, then mounts a fresh store and reconciler for conv. The previous
// context's handlers are always detached before the new ones attach, so
// events can never cross contexts. The returned store is live immediately;
// history loads in the background and errors surface via the navigator.
func (s *Session) SwitchContext(ctx context.Context, conv domain.ConversationContext, identity Identity) (*Store, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, domain.ErrContextDisposed
	}
	s.detachLocked()

	if identity.LocalName == "" && s.profiles != nil {
		if p, err := s.profiles.LocalProfile(ctx); err == nil {
			identity.LocalName = p.DisplayName
			identity.AvatarInitials = p.AvatarInitials
		} else {
			s.logger.Warn("profile lookup failed", slog.String("error", err.Error()))
		}
	}

	store := NewStore(conv)
	store.SetConnectionStatus(s.lastStatus)
	cls := NewClassifier(conv, identity)
	rec := NewReconciler(store, cls, s.history, s.nav, s.logger)
	rec.OnAnswer(s.cancelAnswerWait)

	s.conv = conv
	s.identity = identity
	s.store = store
	s.rec = rec

	for _, t := range []domain.EventType{domain.EventMessage, domain.EventStatus, domain.EventTyping, domain.EventControl} {
		s.unsubs = append(s.unsubs, s.ch.Subscribe(t, rec.HandleEvent))
	}
	s.unsubs = append(s.unsubs, s.ch.OnStatusChange(func(st channel.Status) {
		s.handleStatus(rec, st)
	}))
	s.mu.Unlock()

	go func() {
		if err := rec.Start(context.WithoutCancel(ctx)); err != nil && err != domain.ErrContextDisposed {
			s.logger.Warn("initial load failed", slog.String("error", err.Error()))
		}
	}()

	return store, nil
}

func (s *Session) handleStatus(rec *Reconciler, st channel.Status) {
	s.mu.Lock()
	mapped := mapStatus(st)
	s.lastStatus = mapped
	s.mu.Unlock()

	// Resync fetches history; keep the channel's callback goroutine free.
	go rec.HandleConnectionStatus(context.Background(), mapped)
}

func mapStatus(st channel.Status) ConnectionStatus {
	switch st {
	case channel.StatusConnected:
		return StatusConnected
	case channel.StatusReconnecting, channel.StatusConnecting:
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}

// Store returns the active conversation store, or nil before the first
// SwitchContext.
func (s *Session) Store() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Send publishes a text message to the active conversation. The message
// enters the transcript immediately as pending and is confirmed (or marked
// failed) when the channel echo arrives.
func (s *Session) Send(content string) error {
	return s.send(content, nil)
}

func (s *Session) send(content string, att *domain.FileAttachment) error {
	s.mu.Lock()
	store := s.store
	conv := s.conv
	localName := s.identity.LocalName
	s.mu.Unlock()
	if store == nil {
		return fmt.Errorf("no active conversation")
	}
	if localName == "" {
		localName = conv.LocalPartyID
	}

	now := time.Now()
	localKey := domain.FallbackKey(conv.LocalPartyID, content, now)
	msg := &domain.Message{
		ID:         localKey,
		LocalID:    localKey,
		Role:       domain.RoleOwn,
		Sender:     localName,
		Content:    content,
		Attachment: att,
		Timestamp:  now,
		Seq:        store.NextSeq(),
		Delivery:   domain.DeliveryPending,
	}
	if errors.Is(store.Append(msg), domain.ErrDuplicateMessage) {
		// Same content within the same minute: a legitimate duplicate.
		// Give it a unique key so the echo still confirms the right copy.
		localKey = uuid.NewString()
		msg.ID = localKey
		msg.LocalID = localKey
		msg.Seq = store.NextSeq()
		store.Append(msg)
	}

	ev := domain.Event{
		Type:        domain.EventMessage,
		ClientKey:   localKey,
		SenderID:    conv.LocalPartyID,
		RecipientID: conv.CounterpartID(),
		RoleTag:     domain.RoleTagUser,
		Content:     content,
		Attachment:  att,
		Timestamp:   now,
	}
	if err := s.ch.Publish(ev); err != nil {
		store.UpdatePending(localKey, PendingPatch{Delivery: domain.DeliveryFailed})
		return fmt.Errorf("sending message: %w", err)
	}

	if conv.Target.Kind == domain.TargetAgent {
		s.armAnswerWait(store, localKey)
	}
	return nil
}

// armAnswerWait puts the store into the awaiting state with a bounded
// ceiling. A silently dropped response must never leave the UI thinking
// forever: on expiry the flag is force-cleared, the message is marked
// failed if still unacknowledged, and a retryable error is surfaced.
func (s *Session) armAnswerWait(store *Store, localKey string) {
	store.SetAwaiting(true)
	s.mu.Lock()
	if s.answerTimer != nil {
		s.answerTimer.Stop()
	}
	s.answerTimer = time.AfterFunc(s.answerWait, func() {
		store.SetAwaiting(false)
		if store.HasPending(localKey) {
			store.UpdatePending(localKey, PendingPatch{Delivery: domain.DeliveryFailed})
		}
		s.logger.Warn("answer wait elapsed", slog.String("local_key", localKey))
		s.nav.ReportError(domain.ErrSendTimeout.Error())
	})
	s.mu.Unlock()
}

func (s *Session) cancelAnswerWait() {
	s.mu.Lock()
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
	s.mu.Unlock()
}

// SendFile runs the two-step file transfer: upload the bytes out of band,
// then publish a text-channel event referencing the attachment, so the
// transcript treats the file as a message variant. The transcript entry is
// created only after the upload succeeds; until then progress is exposed
// through the store's PendingFileTransfer. One transfer per conversation.
func (s *Session) SendFile(ctx context.Context, f domain.File) error {
	s.mu.Lock()
	store := s.store
	conv := s.conv
	s.mu.Unlock()
	if store == nil {
		return fmt.Errorf("no active conversation")
	}
	if s.uploads == nil {
		return fmt.Errorf("file uploads not configured")
	}

	if err := store.BeginTransfer(f.Name, f.SizeBytes); err != nil {
		return err
	}

	tags := []string{string(conv.Target.Kind), conv.CounterpartID()}
	att, err := s.uploads.Upload(ctx, f, conv.Target, tags, store.SetTransferProgress)
	if err != nil {
		store.FinishTransfer(domain.TransferFailed, err.Error())
		s.nav.ReportError("file upload failed: " + f.Name)
		return fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	store.FinishTransfer(domain.TransferSucceeded, "")

	return s.send("", att)
}

// Dispose detaches the active context's handlers. The shared channel stays
// up; it is owned by the caller, not by any one session.
func (s *Session) Dispose() {
	s.mu.Lock()
	s.detachLocked()
	s.disposed = true
	s.mu.Unlock()
}

func (s *Session) detachLocked() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
	if s.rec != nil {
		s.rec.Dispose()
		s.rec = nil
	}
	s.store = nil
}
