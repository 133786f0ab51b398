package session

import (
	"context"

	"github.com/hirelane/discuss/internal/store"
)

// LoadOlder fetches the page preceding the oldest held confirmed message.
// Single-flight: a call while a fetch is in flight, or after the store has
// signalled the end of history, returns false without touching anything.
// The cursor is exclusive on (created_at, id), never an offset, so tail
// inserts between calls cannot shift the backfill window.
//
// On failure the store is unchanged and the error is retryable.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.loading || !s.store.HasMore() {
		s.mu.Unlock()
		return false, nil
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	cursor := s.store.OldestCursor()
	page, err := s.opts.Repo.FetchPage(ctx, s.opts.Channel, cursor, s.opts.PageSize)
	if err != nil {
		return false, err
	}

	s.store.ApplyPage(page, store.DirectionOlder)
	if len(page) < s.opts.PageSize {
		s.store.SetHasMore(false)
	}
	return len(page) > 0, nil
}
