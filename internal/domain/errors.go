package domain

import "errors"

// Sentinel errors for the synchronization engine.
var (
	ErrUnresolvedRole      = errors.New("cannot resolve event role")
	ErrHistoryFetchFailed  = errors.New("history fetch failed")
	ErrChannelDisconnected = errors.New("event channel disconnected")
	ErrSendTimeout         = errors.New("timed out waiting for a response")
	ErrUploadFailed        = errors.New("file upload failed")
	ErrTransferInFlight    = errors.New("a file transfer is already in flight")
	ErrDuplicateMessage    = errors.New("message id already present")
	ErrContextDisposed     = errors.New("conversation context has been disposed")
)
