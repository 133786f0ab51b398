package types

import "errors"

// Failure taxonomy for write paths. InvalidMessage and AttachmentRejected
// surface before any optimistic state exists; WriteRejected and Transport
// surface only as a rollback of already-shown state. Stale updates are not
// errors at all and are dropped silently by the store.
var (
	ErrInvalidMessage     = errors.New("message needs text or an attachment")
	ErrAttachmentRejected = errors.New("attachment rejected")
	ErrWriteRejected      = errors.New("write rejected")
	ErrTransport          = errors.New("transport failure")
)
