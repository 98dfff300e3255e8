package domain

import "time"

// Role is the logical authorship of a transcript message.
type Role string

const (
	RoleOwn         Role = "own"
	RoleCounterpart Role = "counterpart"
	RoleStatus      Role = "system-status"
)

// DeliveryState tracks a locally originated message until the server
// acknowledges it.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// StatusState is the lifecycle of a status-indicator message. At most one
// indicator per conversation may be StatusActive at a time.
type StatusState string

const (
	StatusActive   StatusState = "active"
	StatusComplete StatusState = "complete"
)

// FileAttachment describes a file referenced by a message. The bytes live
// behind the remote URL; the transcript only carries metadata.
type FileAttachment struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is the transcript unit held by a conversation store.
//
// ID is the server-assigned id when known. For locally originated messages
// it starts out as the deterministic fallback key (see FallbackKey) and is
// swapped for the server id on confirmation; LocalID keeps the original key
// so pending messages can still be matched after the swap.
type Message struct {
	ID         string          `json:"id"`
	LocalID    string          `json:"local_id,omitempty"`
	Role       Role            `json:"role"`
	Sender     string          `json:"sender"`
	Content    string          `json:"content"`
	Attachment *FileAttachment `json:"attachment,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Seq        uint64          `json:"seq"`
	Delivery   DeliveryState   `json:"delivery,omitempty"`
	Status     StatusState     `json:"status,omitempty"`
}

// ActiveStatus reports whether the message is a not-yet-completed status
// indicator.
func (m *Message) ActiveStatus() bool {
	return m.Role == RoleStatus && m.Status == StatusActive
}

// Before reports whether m sorts before other in the transcript total order
// (timestamp, local sequence, id).
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	if m.Seq != other.Seq {
		return m.Seq < other.Seq
	}
	return m.ID < other.ID
}

// TransferState is the lifecycle of an outbound file transfer.
type TransferState string

const (
	TransferActive    TransferState = "active"
	TransferSucceeded TransferState = "succeeded"
	TransferFailed    TransferState = "failed"
)

// PendingFileTransfer tracks one in-flight outbound upload. Progress is
// monotonically non-decreasing until the transfer reaches a terminal state.
type PendingFileTransfer struct {
	Filename  string        `json:"filename"`
	SizeBytes int64         `json:"size_bytes"`
	Progress  int           `json:"progress"`
	State     TransferState `json:"state"`
	Reason    string        `json:"reason,omitempty"`
}
