package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/hirelane/discuss/internal/core"
	"github.com/hirelane/discuss/internal/types"
)

// Send stages a message optimistically and issues the write. The pending
// bubble appears before Send returns; confirmation or rollback arrives
// through the store subscription. The attachment, if any, is uploaded
// first: an upload failure is returned directly and nothing is staged.
func (s *Session) Send(text string, replyTo *string, attachmentPath string) (string, error) {
	draft := types.Draft{Body: strings.TrimSpace(text), ReplyTo: replyTo}

	if attachmentPath != "" {
		if s.opts.Blob == nil {
			return "", fmt.Errorf("%w: no attachment store configured", types.ErrAttachmentRejected)
		}
		attachment, err := s.opts.Blob.Upload(s.ctx, attachmentPath)
		if err != nil {
			return "", err
		}
		draft.Attachment = attachment
	}

	if err := core.ValidateDraft(draft); err != nil {
		return "", err
	}

	s.typing.StopTyping()
	return s.dispatch(draft), nil
}

// dispatch stages the draft and runs the write in the background.
func (s *Session) dispatch(draft types.Draft) string {
	token, _ := s.store.StageOptimistic(draft, s.opts.Self)

	s.mu.Lock()
	s.drafts[token] = draft
	s.mu.Unlock()

	go func() {
		confirmed, err := s.opts.Repo.CreateMessage(s.ctx, s.opts.Channel, draft, s.opts.Self, token)
		if err != nil {
			// The draft stays behind the failed bubble for retry.
			s.store.Rollback(token, reason(err))
			return
		}
		// Promote via the same merge path the push echo takes; whichever
		// arrives first wins and the other is discarded as a duplicate.
		s.store.ApplyEvent(types.MessageCreated{Message: confirmed})
		s.mu.Lock()
		delete(s.drafts, token)
		s.mu.Unlock()
	}()

	return token
}

// Retry re-stages a failed send with its original draft under a fresh
// token. Returns the new token. The drafts map also holds drafts of sends
// still in flight, so the store entry must actually be failed; retrying a
// pending token would stage a second copy of the message.
func (s *Session) Retry(token string) (string, error) {
	if m, ok := s.store.Get(token); !ok || m.State != types.StateFailed {
		return "", fmt.Errorf("no failed send for token %s", token)
	}

	s.mu.Lock()
	draft, ok := s.drafts[token]
	if ok {
		delete(s.drafts, token)
	}
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no failed send for token %s", token)
	}

	s.store.DiscardFailed(token)
	return s.dispatch(draft), nil
}

// DiscardFailed drops a failed send and its retained draft.
func (s *Session) DiscardFailed(token string) {
	s.mu.Lock()
	delete(s.drafts, token)
	s.mu.Unlock()
	s.store.DiscardFailed(token)
}

// EditMessage applies an edit optimistically and issues the write. Rolled
// back in place if the repository rejects it (permissions are enforced
// server-side).
func (s *Session) EditMessage(id, newBody string) error {
	if err := core.ValidateEdit(newBody); err != nil {
		return err
	}
	prev, ok := s.store.StageEdit(id, newBody)
	if !ok {
		return fmt.Errorf("%w: message not editable: %s", types.ErrWriteRejected, id)
	}

	go func() {
		confirmed, err := s.opts.Repo.EditMessage(s.ctx, id, newBody, s.opts.Self.ID)
		if err != nil {
			s.store.Revert(id, prev)
			return
		}
		s.store.ApplyEvent(types.MessageEdited{Message: confirmed})
	}()
	return nil
}

// DeleteMessage tombstones a message optimistically and issues the write.
func (s *Session) DeleteMessage(id string) error {
	prev, ok := s.store.StageDelete(id)
	if !ok {
		return fmt.Errorf("%w: message not deletable: %s", types.ErrWriteRejected, id)
	}

	go func() {
		if err := s.opts.Repo.DeleteMessage(s.ctx, id, s.opts.Self.ID); err != nil {
			s.store.Revert(id, prev)
		}
	}()
	return nil
}

// ToggleReaction flips the acting user's reaction optimistically. Toggling
// twice restores the original state even while the first write is still in
// flight; each write carries its own direction.
func (s *Session) ToggleReaction(messageID, emoji string) error {
	added, ok := s.store.ToggleReaction(messageID, emoji, s.opts.Self.ID)
	if !ok {
		return fmt.Errorf("%w: message not reactable: %s", types.ErrWriteRejected, messageID)
	}

	go func() {
		if err := s.opts.Repo.SetReaction(s.ctx, messageID, emoji, s.opts.Self.ID, added); err != nil {
			s.store.RevertReaction(messageID, emoji, s.opts.Self.ID, added)
		}
	}()
	return nil
}

// reason renders a rollback cause for the failed bubble.
func reason(err error) string {
	return err.Error()
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
