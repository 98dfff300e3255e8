package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatsync/internal/domain"
)

// State is the reconciler lifecycle for one conversation context.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateLive          State = "live"
	StateErrored       State = "errored"
)

// Reconciler merges a fetched history snapshot and live channel events into
// one ordered, deduplicated transcript. One reconciler per open context;
// a fresh mount creates a fresh reconciler.
type Reconciler struct {
	conv    domain.ConversationContext
	store   *Store
	cls     *Classifier
	history domain.HistoryFetcher
	nav     domain.Navigator
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on dispose; guards stale async results
	disposed bool

	// onAnswer fires when a counterpart reply arrives, letting the session
	// cancel its bounded answer wait.
	onAnswer func()
}

func NewReconciler(
	store *Store,
	cls *Classifier,
	history domain.HistoryFetcher,
	nav domain.Navigator,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		conv:    store.Context(),
		store:   store,
		cls:     cls,
		history: history,
		nav:     nav,
		logger:  logger,
		state:   StateUninitialized,
	}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnAnswer registers the session callback fired on counterpart replies.
func (r *Reconciler) OnAnswer(fn func()) {
	r.mu.Lock()
	r.onAnswer = fn
	r.mu.Unlock()
}

// Start performs the initial history load and transitions to Live. A fetch
// failure is terminal for this mount: the state moves to Errored, the error
// is surfaced through the navigator, and there is no automatic retry.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return domain.ErrContextDisposed
	}
	if r.state != StateUninitialized {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already started (state %s)", r.state)
	}
	r.state = StateLoading
	gen := r.gen
	r.mu.Unlock()

	return r.load(ctx, gen, true)
}

// Resync re-enters Loading for a lightweight re-fetch after the channel
// reconnects. Already-seen ids stay deduplicated, so overlapping history
// never duplicates transcript entries.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed || r.state != StateLive {
		r.mu.Unlock()
		return nil
	}
	r.state = StateLoading
	gen := r.gen
	r.mu.Unlock()

	return r.load(ctx, gen, false)
}

func (r *Reconciler) load(ctx context.Context, gen uint64, initial bool) error {
	items, err := r.history.FetchHistory(ctx, r.conv)

	r.mu.Lock()
	if r.disposed || gen != r.gen {
		// The owning view was torn down while the fetch was in flight;
		// the result must not be applied to a newer store.
		r.mu.Unlock()
		return domain.ErrContextDisposed
	}
	if err != nil {
		if initial {
			r.state = StateErrored
		} else {
			// A failed re-fetch leaves the live subscription intact.
			r.state = StateLive
		}
		r.mu.Unlock()
		r.logger.Warn("history fetch failed",
			slog.String("counterpart", r.conv.CounterpartID()),
			slog.String("error", err.Error()),
		)
		r.nav.ReportError("could not load conversation history")
		return fmt.Errorf("%w: %v", domain.ErrHistoryFetchFailed, err)
	}
	r.mu.Unlock()

	for _, ev := range items {
		r.apply(ev, true)
	}

	r.mu.Lock()
	if !r.disposed && gen == r.gen && r.state == StateLoading {
		r.state = StateLive
	}
	r.mu.Unlock()
	return nil
}

// HandleEvent processes one live channel event. Events are applied during
// history loads too: an in-flight snapshot may predate a racing delivery,
// and the dedup set makes the overlap safe. Only an unstarted, errored, or
// disposed reconciler drops events.
func (r *Reconciler) HandleEvent(ev domain.Event) {
	r.mu.Lock()
	accepting := (r.state == StateLive || r.state == StateLoading) && !r.disposed
	r.mu.Unlock()
	if !accepting {
		return
	}
	r.apply(ev, false)
}

// HandleConnectionStatus reacts to transport transitions. Reconnection
// timing itself belongs to the channel; the reconciler only re-fetches.
func (r *Reconciler) HandleConnectionStatus(ctx context.Context, status ConnectionStatus) {
	r.store.SetConnectionStatus(status)
	if status == StatusConnected {
		if err := r.Resync(ctx); err != nil && err != domain.ErrContextDisposed {
			r.logger.Warn("resync after reconnect failed", slog.String("error", err.Error()))
		}
	}
}

// Dispose detaches the reconciler from its store. Any in-flight load result
// arriving afterwards is discarded.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	r.disposed = true
	r.gen++
	r.mu.Unlock()
}

// relevant reports whether the event belongs to this context: the
// (sender, recipient) pair matches (local, counterpart) in either
// direction, or the declared tag plus addressing identifies the context's
// agent or channel. Irrelevant events are ignored without altering state.
func (r *Reconciler) relevant(ev domain.Event) bool {
	local := r.conv.LocalPartyID
	switch {
	case ev.SenderID == local && r.conv.Matches(ev.RecipientID):
		return true
	case r.conv.Matches(ev.SenderID) && (ev.RecipientID == local || ev.RecipientID == ""):
		return true
	case r.conv.Target.Kind == domain.TargetGroup && r.conv.Matches(ev.RecipientID):
		// Group traffic is addressed to the channel, not to a member.
		return true
	case ev.RoleTag == domain.RoleTagAI && r.conv.Matches(ev.RecipientID):
		return true
	}
	return false
}

func (r *Reconciler) apply(ev domain.Event, fromHistory bool) {
	if !r.relevant(ev) {
		return
	}

	switch ev.Type {
	case domain.EventTyping:
		if !fromHistory && ev.SenderID != r.conv.LocalPartyID {
			r.store.SetTyping(true)
		}
	case domain.EventControl:
		if !fromHistory {
			r.applyControl(ev)
		}
	case domain.EventStatus:
		r.applyStatus(ev)
	case domain.EventMessage:
		r.applyMessage(ev, fromHistory)
	default:
		r.logger.Debug("ignoring unknown event type", slog.String("type", string(ev.Type)))
	}
}

// applyControl forwards control instructions to the navigation/error
// surface. Control events never enter the transcript.
func (r *Reconciler) applyControl(ev domain.Event) {
	switch ev.Instruction {
	case domain.ControlRedirect:
		r.nav.NavigateTo(ev.Path)
	case domain.ControlSessionError:
		r.store.SetAwaiting(false)
		r.store.SetTyping(false)
		msg := ev.Reason
		if msg == "" {
			msg = "session error"
		}
		r.nav.ReportError(msg)
	default:
		r.logger.Debug("ignoring unknown control instruction", slog.String("instruction", ev.Instruction))
	}
}

// applyStatus retires any prior active indicator, then appends the new one
// as active. Completed indicators stay in the transcript as historical
// markers.
func (r *Reconciler) applyStatus(ev domain.Event) {
	id := ev.ResolvedID()
	if r.store.Seen(id) {
		return
	}
	r.store.MarkLatestActiveStatusComplete()
	r.store.Append(&domain.Message{
		ID:        id,
		Role:      domain.RoleStatus,
		Sender:    r.cls.counterpartName(ev.SenderID),
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
		Status:    domain.StatusActive,
	})
}

func (r *Reconciler) applyMessage(ev domain.Event, fromHistory bool) {
	// An echo of a locally originated message confirms the pending entry
	// instead of appending a second copy. Matching is by the echoed client
	// key or the deterministic fallback key, never content equality.
	for _, key := range []string{ev.ClientKey, domain.FallbackKey(ev.SenderID, ev.Content, ev.Timestamp)} {
		if key != "" && r.store.HasPending(key) {
			r.store.UpdatePending(key, PendingPatch{
				ServerID: ev.ID,
				Delivery: domain.DeliveryConfirmed,
			})
			return
		}
	}

	id := ev.ResolvedID()
	if r.store.Seen(id) {
		// Expected under at-least-once delivery; dropped silently.
		return
	}

	role, name, err := r.cls.Classify(ev)
	if err != nil {
		// Never guess from content; surface and drop.
		r.logger.Warn("unclassifiable event dropped",
			slog.String("sender", ev.SenderID),
			slog.String("error", err.Error()),
		)
		r.nav.ReportError("received a message that could not be attributed")
		return
	}

	if role == domain.RoleCounterpart {
		r.store.MarkLatestActiveStatusComplete()
		if !fromHistory {
			r.store.SetTyping(false)
			r.store.SetAwaiting(false)
			r.mu.Lock()
			fn := r.onAnswer
			r.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	}

	m := &domain.Message{
		ID:         id,
		Role:       role,
		Sender:     name,
		Content:    ev.Content,
		Attachment: ev.Attachment,
		Timestamp:  ev.Timestamp,
	}
	if role == domain.RoleOwn {
		m.Delivery = domain.DeliveryConfirmed
	}
	r.store.Append(m)
}
