package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hirelane/discuss/internal/core"
	"github.com/hirelane/discuss/internal/types"
)

const messageColumns = "id, channel_id, author_id, author_name, author_role, body, attachment, reply_to, revision, deleted, created_at, edited_at"

// FetchPage returns up to limit messages strictly older than the cursor,
// ascending by (created_at, id). Tombstones are included so replies stay
// resolvable in backfilled history.
func (r *SQLite) FetchPage(ctx context.Context, channelID string, before *types.MessageCursor, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + messageColumns + ` FROM discuss_messages WHERE channel_id = ?`
	args := []any{channelID}
	if before != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, before.CreatedAt, before.CreatedAt, before.ID)
	}
	// Newest-first window, re-sorted ascending for the store.
	query = fmt.Sprintf(`SELECT %s FROM (%s ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC`,
		messageColumns, query)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer rows.Close()

	return r.scanMessages(ctx, rows, channelID)
}

// FetchSince returns messages strictly newer than the cursor, ascending.
func (r *SQLite) FetchSince(ctx context.Context, channelID string, since *types.MessageCursor, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT ` + messageColumns + ` FROM discuss_messages WHERE channel_id = ?`
	args := []any{channelID}
	if since != nil {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, since.CreatedAt, since.CreatedAt, since.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer rows.Close()

	return r.scanMessages(ctx, rows, channelID)
}

// CreateMessage commits a draft, assigns the id and timestamp, and echoes
// the correlation token on both the returned record and the pushed event.
func (r *SQLite) CreateMessage(ctx context.Context, channelID string, draft types.Draft, author types.User, token string) (types.Message, error) {
	if err := core.ValidateDraft(draft); err != nil {
		return types.Message{}, err
	}

	m := types.Message{
		ID:         core.NewMessageID(),
		ChannelID:  channelID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		AuthorRole: author.Role,
		Body:       draft.Body,
		Attachment: draft.Attachment,
		ReplyTo:    draft.ReplyTo,
		State:      types.StateConfirmed,
		CreatedAt:  r.now(),
		Token:      token,
	}

	var attachment any
	if m.Attachment != nil {
		data, err := json.Marshal(m.Attachment)
		if err != nil {
			return types.Message{}, err
		}
		attachment = string(data)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO discuss_messages (id, channel_id, author_id, author_name, author_role, body, attachment, reply_to, revision, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`, m.ID, m.ChannelID, m.AuthorID, m.AuthorName, m.AuthorRole, m.Body, attachment, m.ReplyTo, m.CreatedAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	if err := r.appendEvent(types.MessageCreated{Message: m}); err != nil {
		return types.Message{}, err
	}
	return m, nil
}

// EditMessage replaces the body and bumps the revision. Rejected unless the
// editor is the original author or the target is already deleted.
func (r *SQLite) EditMessage(ctx context.Context, id, newBody, editorID string) (types.Message, error) {
	if err := core.ValidateEdit(newBody); err != nil {
		return types.Message{}, err
	}

	current, err := r.getMessage(ctx, id)
	if err != nil {
		return types.Message{}, err
	}
	if current.AuthorID != editorID {
		return types.Message{}, fmt.Errorf("%w: only the author may edit", types.ErrWriteRejected)
	}
	if current.State == types.StateDeleted {
		return types.Message{}, fmt.Errorf("%w: message was deleted", types.ErrWriteRejected)
	}

	now := r.now()
	revision := current.Revision + 1
	_, err = r.db.ExecContext(ctx, `
		UPDATE discuss_messages SET body = ?, revision = ?, edited_at = ? WHERE id = ?
	`, newBody, revision, now, id)
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	current.Body = newBody
	current.Revision = revision
	current.EditedAt = &now
	current.State = types.StateEdited

	if err := r.appendEvent(types.MessageEdited{Message: current}); err != nil {
		return types.Message{}, err
	}
	return current, nil
}

// DeleteMessage tombstones a message: the row keeps its id and author, the
// body and attachment are cleared.
func (r *SQLite) DeleteMessage(ctx context.Context, id, actorID string) error {
	current, err := r.getMessage(ctx, id)
	if err != nil {
		return err
	}
	if current.AuthorID != actorID {
		return fmt.Errorf("%w: only the author may delete", types.ErrWriteRejected)
	}
	if current.State == types.StateDeleted {
		return nil
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx, `
		UPDATE discuss_messages SET deleted = 1, body = '', attachment = NULL, edited_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	return r.appendEvent(types.MessageDeleted{
		ChannelID: current.ChannelID,
		MessageID: id,
		DeletedAt: now,
	})
}

func (r *SQLite) getMessage(ctx context.Context, id string) (types.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM discuss_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return types.Message{}, fmt.Errorf("%w: message not found: %s", types.ErrWriteRejected, id)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var m types.Message
	var authorName, authorRole, attachment, replyTo sql.NullString
	var deleted int
	var editedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &authorName, &authorRole,
		&m.Body, &attachment, &replyTo, &m.Revision, &deleted, &m.CreatedAt, &editedAt)
	if err != nil {
		return types.Message{}, err
	}

	m.AuthorName = authorName.String
	m.AuthorRole = authorRole.String
	if replyTo.Valid {
		v := replyTo.String
		m.ReplyTo = &v
	}
	if editedAt.Valid {
		v := editedAt.Int64
		m.EditedAt = &v
	}
	switch {
	case deleted != 0:
		m.State = types.StateDeleted
	case m.Revision > 0:
		m.State = types.StateEdited
	default:
		m.State = types.StateConfirmed
	}
	if attachment.Valid && attachment.String != "" {
		var a types.Attachment
		if err := json.Unmarshal([]byte(attachment.String), &a); err == nil {
			m.Attachment = &a
		}
	}
	return m, nil
}

// scanMessages drains rows and attaches reactions and read receipts.
func (r *SQLite) scanMessages(ctx context.Context, rows *sql.Rows, channelID string) ([]types.Message, error) {
	var messages []types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	if len(messages) == 0 {
		return messages, nil
	}
	if err := r.attachReactions(ctx, messages); err != nil {
		return nil, err
	}
	if err := r.attachReads(ctx, channelID, messages); err != nil {
		return nil, err
	}
	return messages, nil
}
