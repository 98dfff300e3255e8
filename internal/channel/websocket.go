package channel

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain"
)

const (
	reconnectMin = 2 * time.Second
	reconnectMax = time.Minute
	writeWait    = 10 * time.Second
)

// WebSocket is the production Channel: one gorilla/websocket connection per
// client session, shared by every open conversation view. Reconnection with
// exponential backoff and jitter is handled here; subscribers only observe
// the resulting status transitions.
type WebSocket struct {
	url    string
	token  string
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	subs       map[domain.EventType]map[int]func(domain.Event)
	statusSubs map[int]func(Status)
	nextSub    int
	cancel     context.CancelFunc

	writeMu sync.Mutex
}

func NewWebSocket(url, token string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		url:        url,
		token:      token,
		logger:     logger,
		status:     StatusDisconnected,
		subs:       make(map[domain.EventType]map[int]func(domain.Event)),
		statusSubs: make(map[int]func(Status)),
	}
}

// Connect dials the channel and starts the read/reconnect loop. It returns
// once the first connection is established; later drops are recovered in
// the background.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.setStatus(StatusConnecting)

	conn, err := w.dial(ctx)
	if err != nil {
		w.setStatus(StatusDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.mu.Unlock()
	w.setStatus(StatusConnected)

	go w.run(runCtx, conn)
	return nil
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", w.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", w.url, err)
	}
	return conn, nil
}

// run reads events until the connection drops, then redials with backoff
// until the context is cancelled.
func (w *WebSocket) run(ctx context.Context, conn *websocket.Conn) {
	for {
		w.readLoop(conn)

		if ctx.Err() != nil {
			w.setStatus(StatusDisconnected)
			return
		}
		w.setStatus(StatusReconnecting)

		backoff := reconnectMin
		for {
			jitter := time.Duration(rand.Int64N(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				w.setStatus(StatusDisconnected)
				return
			case <-time.After(backoff + jitter):
			}

			next, err := w.dial(ctx)
			if err == nil {
				conn = next
				w.mu.Lock()
				w.conn = conn
				w.mu.Unlock()
				w.setStatus(StatusConnected)
				w.logger.Info("channel reconnected")
				break
			}

			w.logger.Warn("reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			backoff = min(backoff*2, reconnectMax)
		}
	}
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			conn.Close()
			return
		}
		w.dispatch(ev)
	}
}

func (w *WebSocket) dispatch(ev domain.Event) {
	w.mu.Lock()
	handlers := make([]func(domain.Event), 0, len(w.subs[ev.Type]))
	for _, h := range w.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Publish writes one event. Fails with ErrChannelDisconnected while the
// connection is down; the caller decides whether to surface or queue.
func (w *WebSocket) Publish(ev domain.Event) error {
	w.mu.Lock()
	conn := w.conn
	status := w.status
	w.mu.Unlock()
	if conn == nil || status != StatusConnected {
		return domain.ErrChannelDisconnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (w *WebSocket) Subscribe(t domain.EventType, h func(domain.Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs[t] == nil {
		w.subs[t] = make(map[int]func(domain.Event))
	}
	id := w.nextSub
	w.nextSub++
	w.subs[t][id] = h
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs[t], id)
	}
}

// OnStatusChange registers a connection-status handler and returns its
// unsubscribe function.
func (w *WebSocket) OnStatusChange(h func(Status)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.statusSubs[id] = h
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.statusSubs, id)
	}
}

func (w *WebSocket) setStatus(s Status) {
	w.mu.Lock()
	if w.status == s {
		w.mu.Unlock()
		return
	}
	w.status = s
	handlers := make([]func(Status), 0, len(w.statusSubs))
	for _, h := range w.statusSubs {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// Disconnect closes the connection and stops the reconnect loop.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		w.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
