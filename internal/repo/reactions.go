package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/hirelane/discuss/internal/types"
)

// SetReaction adds or removes one user's emoji reaction. Both directions
// are idempotent: re-adding an existing reaction or removing a missing one
// succeeds without a second event.
func (r *SQLite) SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) error {
	current, err := r.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if current.State == types.StateDeleted {
		return fmt.Errorf("%w: message was deleted", types.ErrWriteRejected)
	}

	now := r.now()
	var result int64
	if add {
		res, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO discuss_reactions (message_id, emoji, user_id, reacted_at)
			VALUES (?, ?, ?, ?)
		`, messageID, emoji, userID, now)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		result, _ = res.RowsAffected()
	} else {
		res, err := r.db.ExecContext(ctx, `
			DELETE FROM discuss_reactions WHERE message_id = ? AND emoji = ? AND user_id = ?
		`, messageID, emoji, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		result, _ = res.RowsAffected()
	}
	if result == 0 {
		return nil
	}

	return r.appendEvent(types.ReactionChanged{
		ChannelID: current.ChannelID,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    userID,
		Added:     add,
		At:        now,
	})
}

// attachReactions loads reactions for a batch of messages in one query.
func (r *SQLite) attachReactions(ctx context.Context, messages []types.Message) error {
	placeholders := make([]string, len(messages))
	args := make([]any, len(messages))
	index := make(map[string]*types.Message, len(messages))
	for i := range messages {
		placeholders[i] = "?"
		args[i] = messages[i].ID
		index[messages[i].ID] = &messages[i]
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, emoji, user_id, reacted_at
		FROM discuss_reactions
		WHERE message_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY reacted_at ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, emoji, userID string
		var reactedAt int64
		if err := rows.Scan(&messageID, &emoji, &userID, &reactedAt); err != nil {
			return fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		m := index[messageID]
		if m == nil {
			continue
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string][]types.ReactionEntry)
		}
		m.Reactions[emoji] = append(m.Reactions[emoji], types.ReactionEntry{
			UserID:    userID,
			ReactedAt: reactedAt,
		})
	}
	return rows.Err()
}
