package store

import (
	"log/slog"

	"github.com/hirelane/discuss/internal/types"
)

// ApplyPage merges a batch of confirmed messages fetched by the backfill
// controller. The repository returns pages pre-sorted ascending by
// (created_at, id); an out-of-order batch is dropped and logged rather than
// corrupting the held order. Pending entries are never disturbed.
func (s *Store) ApplyPage(messages []types.Message, direction Direction) {
	if len(messages) == 0 {
		return
	}
	for i := 1; i < len(messages); i++ {
		if !less(&messages[i-1], &messages[i]) {
			slog.Warn("discarding out-of-order page",
				"channel", s.channelID,
				"direction", direction,
				"count", len(messages),
			)
			return
		}
	}

	s.mu.Lock()
	inserted := 0
	lowest := -1
	for i := range messages {
		m := messages[i]
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		if m.State == "" {
			m.State = types.StateConfirmed
		}
		held := m
		pos := s.insertAt(&held)
		s.confirmed = append(s.confirmed, nil)
		copy(s.confirmed[pos+1:], s.confirmed[pos:])
		s.confirmed[pos] = &held
		s.byID[held.ID] = &held
		if lowest == -1 || pos < lowest {
			lowest = pos
		}
		inserted++
	}
	s.mu.Unlock()

	if inserted > 0 {
		s.notify(Change{Kind: ChangeInsert, Index: lowest, Count: inserted})
	}
}

// ApplyEvent applies one push-feed event. Malformed or stale events are
// dropped and logged; this path never panics into the feed reader, since
// push delivery is not guaranteed well-formed across reconnect races.
func (s *Store) ApplyEvent(event types.Event) {
	if event == nil {
		slog.Warn("dropping nil push event", "channel", s.channelID)
		return
	}
	if ch := event.Channel(); ch != "" && ch != s.channelID {
		slog.Debug("dropping event for other channel", "channel", ch, "want", s.channelID)
		return
	}

	switch e := event.(type) {
	case types.MessageCreated:
		s.applyCreated(e.Message)
	case types.MessageEdited:
		s.applyEdited(e.Message)
	case types.MessageDeleted:
		s.applyDeleted(e.MessageID, e.DeletedAt)
	case types.ReactionChanged:
		s.applyReaction(e)
	case types.ReadReceiptChanged:
		s.applyReadReceipt(e)
	case types.TypingChanged:
		// Presence is the typing tracker's concern; never touches ordering.
	default:
		slog.Warn("dropping unknown push event", "kind", event.EventKind())
	}
}

// applyCreated resolves a committed message against any pending entry with
// the same correlation token (promotion), against an existing confirmed id
// (duplicate or racing edit), or inserts it in order.
func (s *Store) applyCreated(m types.Message) {
	if m.ID == "" {
		slog.Warn("dropping created event without id", "channel", s.channelID)
		return
	}
	m.State = confirmedState(m)

	s.mu.Lock()
	if held, dup := s.byID[m.ID]; dup {
		// At-least-once delivery: same id again. The record may have landed
		// first through a backfill page, which never carries tokens; if this
		// echo's token still names a pending entry, that entry is the same
		// message and must settle now or it would sit pending forever.
		var changes []Change
		if entry, ok := s.byToken[m.Token]; m.Token != "" && ok {
			if idx := s.removePendingLocked(entry); idx >= 0 {
				changes = append(changes, Change{Kind: ChangeRemove, Index: idx, Count: 1})
			}
		}
		// Treat a higher revision as an edit that raced ahead of its created
		// event; otherwise drop.
		if m.Revision > held.Revision {
			idx := s.updateLocked(held, m)
			changes = append(changes, Change{Kind: ChangeUpdate, Index: idx, Count: 1})
		}
		s.mu.Unlock()
		if len(changes) == 0 {
			slog.Debug("dropping duplicate created event", "id", m.ID)
			return
		}
		s.notify(changes...)
		return
	}

	if entry, ok := s.byToken[m.Token]; m.Token != "" && ok {
		idx := s.promoteLocked(entry, m)
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
		return
	}

	held := m
	pos := s.insertAt(&held)
	s.confirmed = append(s.confirmed, nil)
	copy(s.confirmed[pos+1:], s.confirmed[pos:])
	s.confirmed[pos] = &held
	s.byID[held.ID] = &held
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeInsert, Index: pos, Count: 1})
}

// removePendingLocked drops a pending entry from the pending list and both
// indexes. Returns the display index it occupied, or -1.
func (s *Store) removePendingLocked(entry *types.Message) int {
	delete(s.byToken, entry.Token)
	delete(s.byID, entry.ID)
	for i, p := range s.pending {
		if p == entry {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return len(s.confirmed) + i
		}
	}
	return -1
}

// promoteLocked replaces a pending entry with its server-confirmed record.
// The provisional id and timestamp are discarded for the server-assigned
// ones. Returns the display index of the promoted message.
func (s *Store) promoteLocked(entry *types.Message, m types.Message) int {
	s.removePendingLocked(entry)
	held := m
	pos := s.insertAt(&held)
	s.confirmed = append(s.confirmed, nil)
	copy(s.confirmed[pos+1:], s.confirmed[pos:])
	s.confirmed[pos] = &held
	s.byID[held.ID] = &held
	return pos
}

// updateLocked overwrites a held message with a newer revision, preserving
// aggregates the event does not carry. Returns the display index.
func (s *Store) updateLocked(held *types.Message, m types.Message) int {
	if m.Reactions == nil {
		m.Reactions = held.Reactions
	}
	if m.ReadBy == nil {
		m.ReadBy = held.ReadBy
	}
	if held.State == types.StateDeleted {
		// Tombstones win: an edit echo racing a delete must not resurrect.
		m.State = types.StateDeleted
		m.Body = ""
		m.Attachment = nil
	}
	*held = m
	return s.indexOfLocked(held)
}

func (s *Store) applyEdited(m types.Message) {
	if m.ID == "" {
		slog.Warn("dropping edit event without id", "channel", s.channelID)
		return
	}
	s.mu.Lock()
	held, ok := s.byID[m.ID]
	if !ok {
		// Edit of a message outside the loaded window; nothing to update.
		s.mu.Unlock()
		slog.Debug("dropping edit for unheld message", "id", m.ID)
		return
	}
	if m.Revision <= held.Revision {
		s.mu.Unlock()
		slog.Debug("dropping stale edit", "id", m.ID, "revision", m.Revision, "held", held.Revision)
		return
	}
	if m.State == "" || m.State == types.StateConfirmed {
		m.State = types.StateEdited
	}
	idx := s.updateLocked(held, m)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
}

// applyDeleted converts the target to a tombstone in place: id and author
// survive so replies stay resolvable, body and attachment are cleared.
func (s *Store) applyDeleted(id string, deletedAt int64) {
	s.mu.Lock()
	held, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		slog.Debug("dropping delete for unheld message", "id", id)
		return
	}
	held.State = types.StateDeleted
	held.Body = ""
	held.Attachment = nil
	if deletedAt > 0 {
		held.EditedAt = &deletedAt
	}
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
}

func (s *Store) applyReaction(e types.ReactionChanged) {
	s.mu.Lock()
	held, ok := s.byID[e.MessageID]
	if !ok {
		s.mu.Unlock()
		slog.Debug("dropping reaction for unheld message", "id", e.MessageID)
		return
	}
	changed := setReactionLocked(held, e.Emoji, e.UserID, e.Added, e.At)
	idx := s.indexOfLocked(held)
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeUpdate, Index: idx, Count: 1})
	}
}

// applyReadReceipt records a read watermark: the named message and every
// earlier confirmed message become read by the user.
func (s *Store) applyReadReceipt(e types.ReadReceiptChanged) {
	s.mu.Lock()
	target, ok := s.byID[e.MessageID]
	if !ok {
		s.mu.Unlock()
		slog.Debug("dropping read receipt for unheld message", "id", e.MessageID)
		return
	}
	touched := 0
	for _, m := range s.confirmed {
		if less(target, m) {
			break
		}
		if _, seen := m.ReadBy[e.UserID]; seen {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]int64)
		}
		m.ReadBy[e.UserID] = e.ReadAt
		touched++
	}
	idx := s.indexOfLocked(target)
	s.mu.Unlock()
	if touched > 0 {
		s.notify(Change{Kind: ChangeUpdate, Index: 0, Count: idx + 1})
	}
}

// setReactionLocked adds or removes one user's entry under an emoji.
// Idempotent in both directions.
func setReactionLocked(m *types.Message, emoji, userID string, added bool, at int64) bool {
	entries := m.Reactions[emoji]
	pos := -1
	for i, entry := range entries {
		if entry.UserID == userID {
			pos = i
			break
		}
	}
	if added {
		if pos >= 0 {
			return false
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string][]types.ReactionEntry)
		}
		m.Reactions[emoji] = append(entries, types.ReactionEntry{UserID: userID, ReactedAt: at})
		return true
	}
	if pos < 0 {
		return false
	}
	entries = append(entries[:pos], entries[pos+1:]...)
	if len(entries) == 0 {
		delete(m.Reactions, emoji)
	} else {
		m.Reactions[emoji] = entries
	}
	return true
}

// indexOfLocked returns the display-list index of a held message.
func (s *Store) indexOfLocked(m *types.Message) int {
	for i, c := range s.confirmed {
		if c == m {
			return i
		}
	}
	for i, p := range s.pending {
		if p == m {
			return len(s.confirmed) + i
		}
	}
	return 0
}

func confirmedState(m types.Message) types.LifecycleState {
	switch m.State {
	case types.StateDeleted, types.StateEdited:
		return m.State
	default:
		return types.StateConfirmed
	}
}
