package core

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// MessageIDPrefix marks server-assigned message ids.
	MessageIDPrefix = "msg-"
	// ChannelIDPrefix marks discussion channel ids.
	ChannelIDPrefix = "ch-"
)

// NewMessageID generates a time-ordered message id. UUIDv7 keeps ids
// monotonic for a single writer, so the (created_at, id) tie-break stays
// stable even when two messages land on the same millisecond.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return MessageIDPrefix + id.String()
}

// NewToken generates a correlation token for an optimistic operation.
func NewToken() string {
	return "tok-" + uuid.NewString()
}

// ChannelForJob maps a job identifier to its single discussion channel.
func ChannelForJob(jobID string) string {
	return ChannelIDPrefix + strings.TrimSpace(jobID)
}

// IsMessageID reports whether s looks like a server-assigned message id.
func IsMessageID(s string) bool {
	return strings.HasPrefix(s, MessageIDPrefix) && len(s) > len(MessageIDPrefix)
}
