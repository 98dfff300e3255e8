package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EventType names the logical channels of the event stream.
type EventType string

const (
	EventMessage EventType = "message"
	EventStatus  EventType = "status"
	EventTyping  EventType = "typing"
	EventControl EventType = "control"
)

// RoleTag is an explicit sender-role hint attached by the server. When
// present it takes precedence over id matching during classification.
type RoleTag string

const (
	RoleTagNone RoleTag = ""
	RoleTagAI   RoleTag = "ai"
	RoleTagUser RoleTag = "user"
)

// Control instructions carried by EventControl events.
const (
	ControlRedirect     = "redirect"
	ControlSessionError = "session_error"
)

// Event is the wire unit of the event channel. The same shape is used for
// live delivery and for history items returned by the HTTP collaborator.
type Event struct {
	Type        EventType       `json:"type"`
	ID          string          `json:"id,omitempty"`         // server-assigned, absent pre-ack
	ClientKey   string          `json:"client_key,omitempty"` // client idempotency key, echoed back
	SenderID    string          `json:"sender_id"`
	RecipientID string          `json:"recipient_id"`
	RoleTag     RoleTag         `json:"role_tag,omitempty"`
	Content     string          `json:"content,omitempty"`
	Attachment  *FileAttachment `json:"attachment,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`

	// Control fields, meaningful only for EventControl.
	Instruction string `json:"instruction,omitempty"`
	Path        string `json:"path,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ResolvedID returns the id used for deduplication: the server id when
// present, otherwise the deterministic fallback key.
func (e Event) ResolvedID() string {
	if e.ID != "" {
		return e.ID
	}
	return FallbackKey(e.SenderID, e.Content, e.Timestamp)
}

// FallbackKey derives a stable message key from sender, content, and a
// minute-coarse timestamp. It lets a locally created message and its
// server echo resolve to the same id before the server id is known.
func FallbackKey(senderID, content string, ts time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", senderID, content, ts.UTC().Truncate(time.Minute).Unix()))
	return hex.EncodeToString(sum[:8])
}
