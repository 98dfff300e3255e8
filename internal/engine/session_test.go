package engine_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/channel"
	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

// fakeChannel is an in-memory channel.Channel. With echo enabled, every
// published event is dispatched back to subscribers with a server-assigned
// id, mimicking the relay's broadcast-to-sender behaviour.
type fakeChannel struct {
	mu         sync.Mutex
	subs       map[domain.EventType]map[int]func(domain.Event)
	statusSubs map[int]func(channel.Status)
	nextID     int
	serial     int
	published  []domain.Event
	publishErr error
	echo       bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		subs:       make(map[domain.EventType]map[int]func(domain.Event)),
		statusSubs: make(map[int]func(channel.Status)),
	}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                 { return nil }

func (f *fakeChannel) Publish(ev domain.Event) error {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, ev)
	echo := f.echo
	f.serial++
	serial := f.serial
	f.mu.Unlock()

	if echo {
		ev.ID = "srv-" + strconv.Itoa(serial)
		f.emit(ev)
	}
	return nil
}

func (f *fakeChannel) Subscribe(t domain.EventType, h func(domain.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[t] == nil {
		f.subs[t] = make(map[int]func(domain.Event))
	}
	id := f.nextID
	f.nextID++
	f.subs[t][id] = h
	return func() {
		f.mu.Lock()
		delete(f.subs[t], id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) OnStatusChange(h func(channel.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.statusSubs[id] = h
	return func() {
		f.mu.Lock()
		delete(f.statusSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) emit(ev domain.Event) {
	f.mu.Lock()
	hs := make([]func(domain.Event), 0, len(f.subs[ev.Type]))
	for _, h := range f.subs[ev.Type] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeChannel) setStatus(st channel.Status) {
	f.mu.Lock()
	hs := make([]func(channel.Status), 0, len(f.statusSubs))
	for _, h := range f.statusSubs {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(st)
	}
}

func (f *fakeChannel) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeChannel) lastPublished() domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

type stubHistory struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	calls  int
}

func (s *stubHistory) FetchHistory(ctx context.Context, conv domain.ConversationContext) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.events, s.err
}

func (s *stubHistory) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubUploader struct {
	att   *domain.FileAttachment
	err   error
	steps []int
}

func (u *stubUploader) Upload(ctx context.Context, f domain.File, target domain.ConversationTarget, tags []string, progress func(int)) (*domain.FileAttachment, error) {
	for _, pct := range u.steps {
		if progress != nil {
			progress(pct)
		}
	}
	if u.err != nil {
		return nil, u.err
	}
	return u.att, nil
}

func agentContext() domain.ConversationContext {
	return domain.ConversationContext{
		LocalPartyID: "42",
		Target:       domain.ConversationTarget{Kind: domain.TargetAgent, ProjectID: "p1"},
	}
}

func newTestSession(t *testing.T, ch *fakeChannel, conv domain.ConversationContext, opts engine.SessionConfig) (*engine.Session, *engine.Store, *recordingNav) {
	t.Helper()
	nav := &recordingNav{}
	cfg := engine.SessionConfig{
		Channel:    ch,
		History:    &stubHistory{},
		Uploads:    opts.Uploads,
		Navigator:  nav,
		AnswerWait: opts.AnswerWait,
	}
	if opts.History != nil {
		cfg.History = opts.History
	}
	sess := engine.NewSession(cfg)
	store, err := sess.SwitchContext(context.Background(), conv, engine.Identity{LocalName: "Alice", CounterpartName: "Bob"})
	require.NoError(t, err)
	waitLive(t, ch, store, conv.CounterpartID())
	return sess, store, nav
}

// waitLive blocks until the freshly mounted context processes live events,
// using typing events because they never enter the transcript.
func waitLive(t *testing.T, ch *fakeChannel, store *engine.Store, senderID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ch.emit(domain.Event{
			Type:        domain.EventTyping,
			SenderID:    senderID,
			RecipientID: store.Context().LocalPartyID,
			Timestamp:   time.Now(),
		})
		return store.Typing()
	}, time.Second, 5*time.Millisecond)
	store.SetTyping(false)
}

func TestSendEchoConfirmsPending(t *testing.T) {
	ch := newFakeChannel()
	ch.echo = true
	sess, store, _ := newTestSession(t, ch, directContext(), engine.SessionConfig{})
	defer sess.Dispose()

	require.NoError(t, sess.Send("hello"))

	require.Eventually(t, func() bool {
		msgs := store.Messages()
		return len(msgs) == 1 && msgs[0].Delivery == domain.DeliveryConfirmed
	}, time.Second, 5*time.Millisecond)

	msgs := store.Messages()
	assert.Equal(t, domain.RoleOwn, msgs[0].Role)
	assert.Equal(t, "Alice", msgs[0].Sender)

	sent := ch.lastPublished()
	assert.Equal(t, domain.RoleTagUser, sent.RoleTag)
	assert.NotEmpty(t, sent.ClientKey)
	assert.Equal(t, "99", sent.RecipientID)
}

func TestSendPublishFailureMarksFailed(t *testing.T) {
	ch := newFakeChannel()
	sess, store, _ := newTestSession(t, ch, directContext(), engine.SessionConfig{})
	defer sess.Dispose()

	ch.mu.Lock()
	ch.publishErr = domain.ErrChannelDisconnected
	ch.mu.Unlock()

	err := sess.Send("hello")
	assert.ErrorIs(t, err, domain.ErrChannelDisconnected)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DeliveryFailed, msgs[0].Delivery)
}

func TestSwitchContextDetachesPreviousHandlers(t *testing.T) {
	ch := newFakeChannel()
	sess, storeA, _ := newTestSession(t, ch, directContext(), engine.SessionConfig{})
	defer sess.Dispose()

	convB := domain.ConversationContext{
		LocalPartyID: "42",
		Target:       domain.ConversationTarget{Kind: domain.TargetDirect, UserID: "77"},
	}
	storeB, err := sess.SwitchContext(context.Background(), convB, engine.Identity{LocalName: "Alice", CounterpartName: "Carol"})
	require.NoError(t, err)
	waitLive(t, ch, storeB, "77")

	// Traffic for the old context must reach neither store.
	ch.emit(domain.Event{
		Type: domain.EventMessage, ID: "old-1",
		SenderID: "99", RecipientID: "42",
		Content: "late for A", Timestamp: time.Now(),
	})
	ch.emit(domain.Event{
		Type: domain.EventMessage, ID: "new-1",
		SenderID: "77", RecipientID: "42",
		Content: "for B", Timestamp: time.Now(),
	})

	assert.Zero(t, storeA.Len(), "detached context must not process events")
	require.Eventually(t, func() bool { return storeB.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "for B", storeB.Messages()[0].Content)
}

func TestAgentAnswerWaitTimesOut(t *testing.T) {
	ch := newFakeChannel()
	sess, store, nav := newTestSession(t, ch, agentContext(), engine.SessionConfig{AnswerWait: 30 * time.Millisecond})
	defer sess.Dispose()

	require.NoError(t, sess.Send("do the thing"))
	assert.True(t, store.Awaiting())

	require.Eventually(t, func() bool { return !store.Awaiting() }, time.Second, 5*time.Millisecond)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.DeliveryFailed, msgs[0].Delivery, "no echo arrived, send is retryable")
	require.Eventually(t, func() bool { return nav.errorCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAgentAnswerCancelsWait(t *testing.T) {
	ch := newFakeChannel()
	conv := agentContext()
	sess, store, nav := newTestSession(t, ch, conv, engine.SessionConfig{AnswerWait: 100 * time.Millisecond})
	defer sess.Dispose()

	require.NoError(t, sess.Send("summarize"))
	require.True(t, store.Awaiting())

	ch.emit(domain.Event{
		Type: domain.EventMessage, ID: "ans-1",
		SenderID:    conv.Target.ChannelID(),
		RecipientID: "42",
		RoleTag:     domain.RoleTagAI,
		Content:     "done",
		Timestamp:   time.Now(),
	})

	require.Eventually(t, func() bool { return !store.Awaiting() }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, nav.errorCount(), "arrived answer must disarm the timeout")
}

func TestSendFilePublishesAttachmentAfterUpload(t *testing.T) {
	ch := newFakeChannel()
	att := &domain.FileAttachment{Filename: "report.pdf", URL: "/api/uploads/report.pdf", SizeBytes: 2048}
	up := &stubUploader{att: att, steps: []int{10, 60, 100}}
	sess, store, _ := newTestSession(t, ch, directContext(), engine.SessionConfig{Uploads: up})
	defer sess.Dispose()

	err := sess.SendFile(context.Background(), domain.File{Name: "report.pdf", SizeBytes: 2048, Reader: strings.NewReader("x")})
	require.NoError(t, err)

	tr := store.Transfer()
	require.NotNil(t, tr)
	assert.Equal(t, domain.TransferSucceeded, tr.State)
	assert.Equal(t, 100, tr.Progress)

	require.Equal(t, 1, ch.publishedCount())
	sent := ch.lastPublished()
	require.NotNil(t, sent.Attachment)
	assert.Equal(t, "report.pdf", sent.Attachment.Filename)
	assert.Empty(t, sent.Content)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].Attachment)
}

func TestSendFileUploadFailureLeavesTranscriptAlone(t *testing.T) {
	ch := newFakeChannel()
	up := &stubUploader{err: assert.AnError, steps: []int{10}}
	sess, store, nav := newTestSession(t, ch, directContext(), engine.SessionConfig{Uploads: up})
	defer sess.Dispose()

	err := sess.SendFile(context.Background(), domain.File{Name: "broken.bin", SizeBytes: 1, Reader: strings.NewReader("x")})
	assert.ErrorIs(t, err, domain.ErrUploadFailed)

	tr := store.Transfer()
	require.NotNil(t, tr)
	assert.Equal(t, domain.TransferFailed, tr.State)
	assert.Zero(t, store.Len(), "transcript entry only exists once the upload succeeded")
	assert.Zero(t, ch.publishedCount())
	assert.Equal(t, 1, nav.errorCount())
}

func TestReconnectTriggersRefetch(t *testing.T) {
	ch := newFakeChannel()
	hist := &stubHistory{}
	sess, store, _ := newTestSession(t, ch, directContext(), engine.SessionConfig{History: hist})
	defer sess.Dispose()
	require.Equal(t, 1, hist.callCount())

	ch.setStatus(channel.StatusReconnecting)
	require.Eventually(t, func() bool {
		return store.ConnectionStatus() == engine.StatusReconnecting
	}, time.Second, 5*time.Millisecond)

	ch.setStatus(channel.StatusConnected)
	require.Eventually(t, func() bool { return hist.callCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return store.ConnectionStatus() == engine.StatusConnected
	}, time.Second, 5*time.Millisecond)
}
