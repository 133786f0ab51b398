package types

import (
	"encoding/json"
	"fmt"
)

// Event is one push-feed event for a channel. The variant set is closed:
// the store's merge switch handles every kind and drops anything else.
type Event interface {
	EventKind() string
	Channel() string
}

// MessageCreated announces a newly committed message. The message carries
// the originating client's correlation token so that client's pending entry
// can be promoted in place.
type MessageCreated struct {
	Message Message `json:"message"`
}

// MessageEdited announces a new revision of an existing message.
type MessageEdited struct {
	Message Message `json:"message"`
}

// MessageDeleted announces a tombstoned message.
type MessageDeleted struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	DeletedAt int64  `json:"deleted_at"`
}

// ReactionChanged announces one user toggling one emoji on one message.
type ReactionChanged struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	Added     bool   `json:"added"`
	At        int64  `json:"at"`
}

// ReadReceiptChanged announces a user's read watermark. It covers the named
// message and every earlier confirmed message in the channel.
type ReadReceiptChanged struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ReadAt    int64  `json:"read_at"`
}

// TypingChanged announces a peer starting or stopping typing. Best effort;
// excluded from the ordering and de-duplication guarantees.
type TypingChanged struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Typing      bool   `json:"typing"`
}

const (
	KindMessageCreated     = "message_created"
	KindMessageEdited      = "message_edited"
	KindMessageDeleted     = "message_deleted"
	KindReactionChanged    = "reaction_changed"
	KindReadReceiptChanged = "read_receipt_changed"
	KindTypingChanged      = "typing_changed"
)

func (e MessageCreated) EventKind() string     { return KindMessageCreated }
func (e MessageEdited) EventKind() string      { return KindMessageEdited }
func (e MessageDeleted) EventKind() string     { return KindMessageDeleted }
func (e ReactionChanged) EventKind() string    { return KindReactionChanged }
func (e ReadReceiptChanged) EventKind() string { return KindReadReceiptChanged }
func (e TypingChanged) EventKind() string      { return KindTypingChanged }

func (e MessageCreated) Channel() string     { return e.Message.ChannelID }
func (e MessageEdited) Channel() string      { return e.Message.ChannelID }
func (e MessageDeleted) Channel() string     { return e.ChannelID }
func (e ReactionChanged) Channel() string    { return e.ChannelID }
func (e ReadReceiptChanged) Channel() string { return e.ChannelID }
func (e TypingChanged) Channel() string      { return e.ChannelID }

// Envelope is the wire form of an Event: a kind tag plus the variant payload.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps an event in its wire envelope.
func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: event.EventKind(), Payload: payload})
}

// Decode parses a wire envelope back into its event variant.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope parses an already-split envelope.
func DecodeEnvelope(env Envelope) (Event, error) {
	switch env.Kind {
	case KindMessageCreated:
		var e MessageCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	case KindMessageEdited:
		var e MessageEdited
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	case KindMessageDeleted:
		var e MessageDeleted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	case KindReactionChanged:
		var e ReactionChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	case KindReadReceiptChanged:
		var e ReadReceiptChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	case KindTypingChanged:
		var e TypingChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
