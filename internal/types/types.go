package types

// LifecycleState tracks where a message is in its local lifecycle.
type LifecycleState string

const (
	StatePending   LifecycleState = "pending"
	StateConfirmed LifecycleState = "confirmed"
	StateFailed    LifecycleState = "failed"
	StateEdited    LifecycleState = "edited"
	StateDeleted   LifecycleState = "deleted"
)

// Attachment describes an uploaded file attached to a message.
// Produced by the blob store; opaque to the engine.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	ByteSize int64  `json:"byte_size"`
	MimeType string `json:"mime_type"`
}

// ReactionEntry records one user's reaction under an emoji.
type ReactionEntry struct {
	UserID    string `json:"user_id"`
	ReactedAt int64  `json:"reacted_at"`
}

// Message is a channel message. Confirmed messages carry a server-assigned
// ID and CreatedAt; a pending message holds a provisional timestamp and the
// correlation token it was staged under.
type Message struct {
	ID          string                     `json:"id"`
	ChannelID   string                     `json:"channel_id"`
	AuthorID    string                     `json:"author_id"`
	AuthorName  string                     `json:"author_name,omitempty"`
	AuthorRole  string                     `json:"author_role,omitempty"`
	Body        string                     `json:"body,omitempty"`
	Attachment  *Attachment                `json:"attachment,omitempty"`
	ReplyTo     *string                    `json:"reply_to,omitempty"`
	Revision    int                        `json:"revision"`
	State       LifecycleState             `json:"state"`
	CreatedAt   int64                      `json:"created_at"`
	EditedAt    *int64                     `json:"edited_at,omitempty"`
	Reactions   map[string][]ReactionEntry `json:"reactions,omitempty"`
	ReadBy      map[string]int64           `json:"read_by,omitempty"`
	Token       string                     `json:"token,omitempty"`
	FailReason  string                     `json:"-"`
}

// Deleted reports whether the message is a tombstone.
func (m *Message) Deleted() bool {
	return m.State == StateDeleted
}

// HasReaction reports whether the user has reacted with the emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, entry := range m.Reactions[emoji] {
		if entry.UserID == userID {
			return true
		}
	}
	return false
}

// Draft is locally-composed message content, retained verbatim across a
// failed send so retry never loses typed input.
type Draft struct {
	Body       string      `json:"body"`
	ReplyTo    *string     `json:"reply_to,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// User identifies the acting user, supplied by the session provider.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// MessageCursor is a stable paging cursor over (created_at, id).
type MessageCursor struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// TypingSignal is an ephemeral presence record for one peer. Never persisted.
type TypingSignal struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}
