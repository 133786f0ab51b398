// Package repo defines the persistence boundary for channel messages and
// provides the sqlite-backed implementation used by the CLI and tests.
package repo

import (
	"context"

	"github.com/hirelane/discuss/internal/types"
)

// Repository is the external message store. Writes are authoritative:
// ids, timestamps, and revisions come from here, never from the client.
// Implementations own their retry and timeout policy; callers treat every
// call as "eventually resolves or rejects" and cancel via ctx on teardown.
//
// Permission failures surface as types.ErrWriteRejected in the error chain;
// anything network-shaped wraps types.ErrTransport.
type Repository interface {
	// FetchPage returns up to limit confirmed messages strictly older than
	// the cursor, ascending by (created_at, id). A nil cursor fetches the
	// newest page.
	FetchPage(ctx context.Context, channelID string, before *types.MessageCursor, limit int) ([]types.Message, error)

	// FetchSince returns messages strictly newer than the cursor, ascending,
	// used for forward resync after a dropped subscription.
	FetchSince(ctx context.Context, channelID string, since *types.MessageCursor, limit int) ([]types.Message, error)

	// CreateMessage commits a draft and returns the confirmed record. The
	// correlation token is echoed back on the record and on the push event.
	CreateMessage(ctx context.Context, channelID string, draft types.Draft, author types.User, token string) (types.Message, error)

	// EditMessage replaces a message body, bumping its revision. Only the
	// original author may edit.
	EditMessage(ctx context.Context, id, newBody, editorID string) (types.Message, error)

	// DeleteMessage tombstones a message. Only the original author may delete.
	DeleteMessage(ctx context.Context, id, actorID string) error

	// SetReaction adds or removes one user's emoji reaction. Idempotent.
	SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) error

	// MarkRead advances the user's read watermark to the given message.
	MarkRead(ctx context.Context, channelID, messageID, userID string) error
}
