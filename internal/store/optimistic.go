package store

import (
	"log/slog"
	"time"

	"github.com/hirelane/discuss/internal/core"
	"github.com/hirelane/discuss/internal/types"
)

// StageOptimistic inserts a pending message synchronously, before any
// network round trip. The returned token later matches the server's
// confirmation echo (promotion) or a rollback. The provisional id doubles
// as the token and is never persisted.
func (s *Store) StageOptimistic(draft types.Draft, author types.User) (string, types.Message) {
	token := core.NewToken()
	m := &types.Message{
		ID:         token,
		ChannelID:  s.channelID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		AuthorRole: author.Role,
		Body:       draft.Body,
		Attachment: draft.Attachment,
		ReplyTo:    draft.ReplyTo,
		State:      types.StatePending,
		CreatedAt:  time.Now().UnixMilli(),
		Token:      token,
	}

	s.mu.Lock()
	s.pending = append(s.pending, m)
	s.byID[m.ID] = m
	s.byToken[token] = m
	idx := len(s.confirmed) + len(s.pending) - 1
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeInsert, Index: idx, Count: 1})
	return token, *m
}

// Rollback marks a still-pending entry failed, keeping it visible inline so
// the user can retry or discard in place. A token that was already promoted
// or discarded is a no-op, so the rollback path is safe to call regardless
// of which of the direct response and the push echo won.
func (s *Store) Rollback(token, reason string) {
	s.mu.Lock()
	entry, ok := s.byToken[token]
	if !ok || entry.State != types.StatePending {
		s.mu.Unlock()
		slog.Debug("rollback on settled token", "token", token)
		return
	}
	entry.State = types.StateFailed
	entry.FailReason = reason
	idx := s.indexOfLocked(entry)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
}

// DiscardFailed removes a failed entry once the user dismisses it.
func (s *Store) DiscardFailed(token string) {
	s.mu.Lock()
	entry, ok := s.byToken[token]
	if !ok || entry.State != types.StateFailed {
		s.mu.Unlock()
		return
	}
	delete(s.byToken, token)
	delete(s.byID, entry.ID)
	idx := -1
	for i, p := range s.pending {
		if p == entry {
			idx = len(s.confirmed) + i
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if idx >= 0 {
		s.notify(Change{Kind: ChangeRemove, Index: idx, Count: 1})
	}
}

// EditSnapshot captures the fields a local optimistic edit or delete
// overwrites, for revert on server rejection.
type EditSnapshot struct {
	Body       string
	Attachment *types.Attachment
	Revision   int
	State      types.LifecycleState
	EditedAt   *int64
}

// StageEdit applies an edit locally ahead of the server round trip. The
// provisional revision bump keeps the stale-update guard from discarding
// our own confirmation echo prematurely while still yielding to a higher
// server revision.
func (s *Store) StageEdit(id, body string) (EditSnapshot, bool) {
	s.mu.Lock()
	held, ok := s.byID[id]
	if !ok || held.State == types.StateDeleted || held.State == types.StatePending {
		s.mu.Unlock()
		return EditSnapshot{}, false
	}
	prev := snapshotLocked(held)
	now := time.Now().UnixMilli()
	held.Body = body
	held.Revision++
	held.State = types.StateEdited
	held.EditedAt = &now
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
	return prev, true
}

// StageDelete tombstones a message locally ahead of the server round trip.
func (s *Store) StageDelete(id string) (EditSnapshot, bool) {
	s.mu.Lock()
	held, ok := s.byID[id]
	if !ok || held.State == types.StateDeleted || held.State == types.StatePending {
		s.mu.Unlock()
		return EditSnapshot{}, false
	}
	prev := snapshotLocked(held)
	held.State = types.StateDeleted
	held.Body = ""
	held.Attachment = nil
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
	return prev, true
}

// Revert restores a message to its pre-stage snapshot after the server
// rejected the optimistic edit or delete.
func (s *Store) Revert(id string, prev EditSnapshot) {
	s.mu.Lock()
	held, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	held.Body = prev.Body
	held.Attachment = prev.Attachment
	held.Revision = prev.Revision
	held.State = prev.State
	held.EditedAt = prev.EditedAt
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
}

// ToggleReaction flips the acting user's reaction locally and reports the
// resulting direction for the repository call. Toggling twice restores the
// original state even while the first confirmation is still in flight.
func (s *Store) ToggleReaction(messageID, emoji, userID string) (added, ok bool) {
	s.mu.Lock()
	held, exists := s.byID[messageID]
	if !exists || held.State == types.StateDeleted {
		s.mu.Unlock()
		return false, false
	}
	added = !held.HasReaction(emoji, userID)
	setReactionLocked(held, emoji, userID, added, time.Now().UnixMilli())
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
	return added, true
}

// RevertReaction undoes a local toggle whose write was rejected.
func (s *Store) RevertReaction(messageID, emoji, userID string, added bool) {
	s.mu.Lock()
	held, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := setReactionLocked(held, emoji, userID, !added, time.Now().UnixMilli())
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
	}
}

func snapshotLocked(m *types.Message) EditSnapshot {
	return EditSnapshot{
		Body:       m.Body,
		Attachment: m.Attachment,
		Revision:   m.Revision,
		State:      m.State,
		EditedAt:   m.EditedAt,
	}
}
