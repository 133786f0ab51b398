package repo

import (
	"context"
	"fmt"

	"github.com/hirelane/discuss/internal/types"
)

// MarkRead advances the user's read watermark to the given message. Moving
// the watermark backwards is a no-op, so out-of-order acknowledgements
// cannot un-read messages.
func (r *SQLite) MarkRead(ctx context.Context, channelID, messageID, userID string) error {
	target, err := r.getMessage(ctx, messageID)
	if err != nil {
		return err
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO discuss_reads (channel_id, user_id, message_id, created_at, read_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, user_id) DO UPDATE
		SET message_id = excluded.message_id, created_at = excluded.created_at, read_at = excluded.read_at
		WHERE excluded.created_at > discuss_reads.created_at
		   OR (excluded.created_at = discuss_reads.created_at AND excluded.message_id > discuss_reads.message_id)
	`, channelID, userID, messageID, target.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil
	}

	return r.appendEvent(types.ReadReceiptChanged{
		ChannelID: channelID,
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    now,
	})
}

// attachReads fills each message's ReadBy set from the channel's watermarks.
func (r *SQLite) attachReads(ctx context.Context, channelID string, messages []types.Message) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, message_id, created_at, read_at
		FROM discuss_reads
		WHERE channel_id = ?
	`, channelID)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer rows.Close()

	type watermark struct {
		userID    string
		messageID string
		createdAt int64
		readAt    int64
	}
	var marks []watermark
	for rows.Next() {
		var w watermark
		if err := rows.Scan(&w.userID, &w.messageID, &w.createdAt, &w.readAt); err != nil {
			return fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		marks = append(marks, w)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	if len(marks) == 0 {
		return nil
	}

	for i := range messages {
		m := &messages[i]
		for _, w := range marks {
			covered := m.CreatedAt < w.createdAt ||
				(m.CreatedAt == w.createdAt && m.ID <= w.messageID)
			if !covered {
				continue
			}
			if m.ReadBy == nil {
				m.ReadBy = make(map[string]int64)
			}
			m.ReadBy[w.userID] = w.readAt
		}
	}
	return nil
}
