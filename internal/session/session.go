// Package session owns one open channel view: it wires the reconciliation
// store to the repository, the push feed, and the typing tracker, and
// exposes the operations the UI layer calls. A session's lifetime matches
// the open channel exactly; Close cancels in-flight work and unsubscribes
// the feed so nothing keeps mutating an unobserved store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hirelane/discuss/internal/blob"
	"github.com/hirelane/discuss/internal/feed"
	"github.com/hirelane/discuss/internal/repo"
	"github.com/hirelane/discuss/internal/store"
	"github.com/hirelane/discuss/internal/types"
	"github.com/hirelane/discuss/internal/typing"
)

// DefaultPageSize is the backfill page size when Options leaves it zero.
const DefaultPageSize = 50

// Options configures a session. Repo and Feed are required; Blob only if
// attachments are sent; Publisher only if typing signals should go out.
type Options struct {
	Channel   string
	Self      types.User
	Repo      repo.Repository
	Feed      feed.Feed
	Blob      blob.Store
	Publisher feed.Publisher
	PageSize  int
}

// Session is one user's open view of one channel.
type Session struct {
	opts   Options
	store  *store.Store
	typing *typing.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	unsubscribe func()

	mu      sync.Mutex
	loading bool                   // single-flight guard for LoadOlder
	drafts  map[string]types.Draft // failed-send drafts, kept for retry
}

// New creates a session. Run must be called before any operation.
func New(opts Options) (*Session, error) {
	if opts.Channel == "" {
		return nil, errors.New("session: channel required")
	}
	if opts.Repo == nil || opts.Feed == nil {
		return nil, errors.New("session: repo and feed required")
	}
	if opts.Self.ID == "" {
		return nil, errors.New("session: acting user required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	s := &Session{
		opts:   opts,
		store:  store.New(opts.Channel),
		drafts: make(map[string]types.Draft),
	}
	s.typing = typing.New(opts.Channel, opts.Self.ID, s.publishTyping)
	return s, nil
}

// Run subscribes the push feed and loads the newest history page. ctx
// bounds the whole session; cancelling it (or calling Close) tears the
// session down.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	unsubscribe, err := s.opts.Feed.Subscribe(s.ctx, s.opts.Channel, s.handleEvent)
	if err != nil {
		s.cancel()
		return fmt.Errorf("subscribe %s: %w", s.opts.Channel, err)
	}
	s.unsubscribe = unsubscribe

	page, err := s.opts.Repo.FetchPage(s.ctx, s.opts.Channel, nil, s.opts.PageSize)
	if err != nil {
		s.teardown()
		return fmt.Errorf("initial page %s: %w", s.opts.Channel, err)
	}
	s.store.ApplyPage(page, store.DirectionOlder)
	if len(page) < s.opts.PageSize {
		s.store.SetHasMore(false)
	}
	return nil
}

// Close tears the session down: feed unsubscribed, in-flight fetches
// cancelled, typing silenced. Idempotent.
func (s *Session) Close() {
	s.teardown()
}

func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.typing.Close()
}

// handleEvent routes one push event: presence to the typing tracker,
// everything else through the store's merge.
func (s *Session) handleEvent(event types.Event) {
	if e, ok := event.(types.TypingChanged); ok {
		s.typing.Apply(e)
		return
	}
	s.store.ApplyEvent(event)
}

// Resync backfills forward from the newest held message, used after the
// feed transport reconnects. Messages committed during the outage arrive
// as an ordinary page; the merge de-duplicates any overlap with late echoes.
func (s *Session) Resync() error {
	newest := s.store.NewestCursor()
	page, err := s.opts.Repo.FetchSince(s.ctx, s.opts.Channel, newest, 0)
	if err != nil {
		return err
	}
	s.store.ApplyPage(page, store.DirectionNewer)
	return nil
}

// Messages returns the display list.
func (s *Session) Messages() []types.Message { return s.store.Messages() }

// Subscribe registers a store change listener.
func (s *Session) Subscribe(fn func(store.Change)) func() { return s.store.Subscribe(fn) }

// TypingPeers returns peers currently typing, expired entries swept.
func (s *Session) TypingPeers() []types.TypingSignal { return s.typing.Peers() }

// UnreadCount counts confirmed messages the acting user has not read.
func (s *Session) UnreadCount() int { return s.store.UnreadCount(s.opts.Self.ID) }

// HasMore reports whether older history remains.
func (s *Session) HasMore() bool { return s.store.HasMore() }

// ReplyPreview resolves a reply reference for display; tombstoned or
// unloaded targets degrade to a placeholder.
func (s *Session) ReplyPreview(id string) (author, body string, ok bool) {
	return s.store.ReplyPreview(id)
}

// NotifyTyping records local keystroke activity. At most one start signal
// per burst goes out.
func (s *Session) NotifyTyping() { s.typing.NotifyActivity() }

// StopTyping emits the stop signal, called on submit or input clear.
func (s *Session) StopTyping() { s.typing.StopTyping() }

func (s *Session) publishTyping(active bool) {
	if s.opts.Publisher == nil {
		return
	}
	err := s.opts.Publisher.Publish(types.TypingChanged{
		ChannelID:   s.opts.Channel,
		UserID:      s.opts.Self.ID,
		DisplayName: s.opts.Self.DisplayName,
		Typing:      active,
	})
	if err != nil {
		// Best effort; a lost typing signal just never shows.
		slog.Debug("typing publish failed", "channel", s.opts.Channel, "error", err)
	}
}

// MarkChannelRead advances the acting user's read watermark to the newest
// confirmed message, locally first, then at the repository.
func (s *Session) MarkChannelRead() {
	newest := s.store.NewestCursor()
	if newest == nil {
		return
	}
	s.store.ApplyEvent(types.ReadReceiptChanged{
		ChannelID: s.opts.Channel,
		MessageID: newest.ID,
		UserID:    s.opts.Self.ID,
		ReadAt:    nowMilli(),
	})
	go func() {
		if err := s.opts.Repo.MarkRead(s.ctx, s.opts.Channel, newest.ID, s.opts.Self.ID); err != nil {
			slog.Debug("mark read failed", "channel", s.opts.Channel, "error", err)
		}
	}()
}
