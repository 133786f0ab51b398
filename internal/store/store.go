// Package store holds the single ordered view of a channel's messages.
// Repository pages, push-feed events, and locally-staged optimistic entries
// all converge here through one merge path, so the ordering and
// de-duplication invariants hold under any interleaving of event kinds.
package store

import (
	"sync"

	"github.com/hirelane/discuss/internal/types"
)

// Direction tells ApplyPage which end of the list a page extends.
type Direction string

const (
	DirectionOlder Direction = "older"
	DirectionNewer Direction = "newer"
)

// ChangeKind classifies a notification to subscribers.
type ChangeKind string

const (
	ChangeReset  ChangeKind = "reset"
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// Change describes the minimal range of the display list touched by one
// mutation. Index and Count are positions in the combined confirmed+pending
// list at notification time.
type Change struct {
	Kind  ChangeKind
	Index int
	Count int
}

// Store is the reconciliation store for one open channel. One instance per
// open channel view; torn down with it.
type Store struct {
	mu        sync.Mutex
	channelID string

	confirmed []*types.Message // sorted by (CreatedAt, ID)
	pending   []*types.Message // local submission order, after all confirmed
	byID      map[string]*types.Message
	byToken   map[string]*types.Message // still-pending entries only

	hasMore bool

	listeners map[int]func(Change)
	nextSub   int
}

// New creates an empty store for the channel. hasMore starts true; the first
// short page flips it.
func New(channelID string) *Store {
	return &Store{
		channelID: channelID,
		byID:      make(map[string]*types.Message),
		byToken:   make(map[string]*types.Message),
		hasMore:   true,
		listeners: make(map[int]func(Change)),
	}
}

// ChannelID returns the owning channel.
func (s *Store) ChannelID() string { return s.channelID }

// Subscribe registers a change listener and returns its remover. Listeners
// run outside the store lock, in mutation order.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Messages returns the display list: confirmed in (CreatedAt, ID) order,
// then pending and failed entries in submission order.
func (s *Store) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, 0, len(s.confirmed)+len(s.pending))
	for _, m := range s.confirmed {
		out = append(out, snapshot(m))
	}
	for _, m := range s.pending {
		out = append(out, snapshot(m))
	}
	return out
}

// Get returns a snapshot of one message by id (confirmed or provisional).
func (s *Store) Get(id string) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return types.Message{}, false
	}
	return snapshot(m), true
}

// snapshot copies a held message for callers outside the lock. The reaction
// and read maps are copied too: the held ones keep mutating under later
// events, and a caller iterating an aliased map would race those writes.
func snapshot(m *types.Message) types.Message {
	out := *m
	if m.Reactions != nil {
		out.Reactions = make(map[string][]types.ReactionEntry, len(m.Reactions))
		for emoji, entries := range m.Reactions {
			out.Reactions[emoji] = append([]types.ReactionEntry(nil), entries...)
		}
	}
	if m.ReadBy != nil {
		out.ReadBy = make(map[string]int64, len(m.ReadBy))
		for userID, at := range m.ReadBy {
			out.ReadBy[userID] = at
		}
	}
	return out
}

// Len returns the number of held messages, pending included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.confirmed) + len(s.pending)
}

// OldestCursor returns the exclusive backfill cursor: the oldest confirmed
// message currently held. Nil when no confirmed history is loaded yet.
func (s *Store) OldestCursor() *types.MessageCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.confirmed) == 0 {
		return nil
	}
	first := s.confirmed[0]
	return &types.MessageCursor{ID: first.ID, CreatedAt: first.CreatedAt}
}

// NewestCursor returns the newest confirmed message held, used for forward
// resync after a dropped subscription.
func (s *Store) NewestCursor() *types.MessageCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.confirmed) == 0 {
		return nil
	}
	last := s.confirmed[len(s.confirmed)-1]
	return &types.MessageCursor{ID: last.ID, CreatedAt: last.CreatedAt}
}

// HasMore reports whether older history remains to backfill.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// SetHasMore records whether older history remains.
func (s *Store) SetHasMore(v bool) {
	s.mu.Lock()
	s.hasMore = v
	s.mu.Unlock()
}

// UnreadCount counts confirmed messages not yet acknowledged by the user.
// The user's own messages never count as unread.
func (s *Store) UnreadCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.confirmed {
		if m.AuthorID == userID || m.State == types.StateDeleted {
			continue
		}
		if _, ok := m.ReadBy[userID]; !ok {
			count++
		}
	}
	return count
}

// ReplyPreview resolves a reply reference for display. A reference to a
// tombstoned or never-loaded message degrades to a placeholder, never an
// error.
func (s *Store) ReplyPreview(id string) (author, body string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, found := s.byID[id]
	if !found || m.State == types.StateDeleted {
		return "", "message removed", false
	}
	return m.AuthorName, m.Body, true
}

// notify runs listeners outside the lock. Callers must not hold s.mu.
func (s *Store) notify(changes ...Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}

// less orders confirmed messages by (CreatedAt, ID).
func less(a, b *types.Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// insertAt finds the sorted position for m among confirmed messages.
func (s *Store) insertAt(m *types.Message) int {
	lo, hi := 0, len(s.confirmed)
	for lo < hi {
		mid := (lo + hi) / 2
		if less(s.confirmed[mid], m) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
