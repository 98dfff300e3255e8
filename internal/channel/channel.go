// Package channel provides the event-channel abstraction the engine talks
// to: a process-wide connection with publish/subscribe semantics and
// at-least-once, non-ordered delivery across logical event types.
package channel

import (
	"context"

	"chatsync/internal/domain"
)

// Status is the connection lifecycle of the shared channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Channel is a single shared event-channel connection. Subscribe and
// OnStatusChange return unsubscribe functions; a context switch must call
// them before attaching new handlers so an unmounted view can never
// double-process events.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(ev domain.Event) error
	Subscribe(t domain.EventType, h func(domain.Event)) (unsubscribe func())
	OnStatusChange(h func(Status)) (unsubscribe func())
}
