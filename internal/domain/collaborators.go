package domain

import (
	"context"
	"io"
)

// HistoryFetcher loads the persisted transcript for a conversation from the
// HTTP collaborator. Items are returned in chronological order.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conv ConversationContext) ([]Event, error)
}

// File is an outbound file handed to the uploader.
type File struct {
	Name        string
	SizeBytes   int64
	ContentType string
	Reader      io.Reader
}

// Uploader transfers file bytes out of band and returns the attachment
// metadata to reference from the text channel. progress receives a
// monotonically non-decreasing percentage in [0, 100]; it may be nil.
type Uploader interface {
	Upload(ctx context.Context, f File, target ConversationTarget, tags []string, progress func(pct int)) (*FileAttachment, error)
}

// Profile is the local party's cached identity.
type Profile struct {
	DisplayName    string `json:"display_name"`
	AvatarInitials string `json:"avatar_initials"`
}

// ProfileSource resolves the local party's profile.
type ProfileSource interface {
	LocalProfile(ctx context.Context) (Profile, error)
}

// Navigator is the outward surface for control instructions and
// user-visible errors.
type Navigator interface {
	NavigateTo(path string)
	ReportError(msg string)
}
