package repo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hirelane/discuss/internal/types"
)

const testChannel = "ch-job-1"

var (
	alice = types.User{ID: "alice", DisplayName: "Alice", Role: "recruiter"}
	bob   = types.User{ID: "bob", DisplayName: "Bob", Role: "hiring-manager"}
)

// openTestRepo opens a repository in a temp dir with a deterministic clock
// that advances one millisecond per call.
func openTestRepo(t *testing.T) *SQLite {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "discuss.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	var tick int64 = 1_000_000
	r.now = func() int64 {
		tick++
		return tick
	}
	return r
}

func post(t *testing.T, r *SQLite, author types.User, body string) types.Message {
	t.Helper()
	m, err := r.CreateMessage(context.Background(), testChannel, types.Draft{Body: body}, author, "tok-"+body)
	if err != nil {
		t.Fatalf("create %q: %v", body, err)
	}
	return m
}

func TestCreateMessageRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	parent := post(t, r, alice, "parent")

	draft := types.Draft{
		Body:    "a reply with a file",
		ReplyTo: &parent.ID,
		Attachment: &types.Attachment{
			URL:      "file:///tmp/resume.pdf",
			Name:     "resume.pdf",
			ByteSize: 120_000,
			MimeType: "application/pdf",
		},
	}
	created, err := r.CreateMessage(ctx, testChannel, draft, bob, "tok-abc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Token != "tok-abc" {
		t.Fatalf("token not echoed: %q", created.Token)
	}
	if created.State != types.StateConfirmed {
		t.Fatalf("state = %s", created.State)
	}

	page, err := r.FetchPage(ctx, testChannel, nil, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	got := page[1]
	if got.ID != created.ID || got.Body != draft.Body || got.AuthorName != "Bob" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ReplyTo == nil || *got.ReplyTo != parent.ID {
		t.Fatalf("reply_to lost: %+v", got.ReplyTo)
	}
	if got.Attachment == nil || got.Attachment.Name != "resume.pdf" || got.Attachment.ByteSize != 120_000 {
		t.Fatalf("attachment lost: %+v", got.Attachment)
	}
}

func TestCreateMessageRejectsEmptyDraft(t *testing.T) {
	r := openTestRepo(t)

	_, err := r.CreateMessage(context.Background(), testChannel, types.Draft{Body: "   "}, alice, "tok-1")
	if !errors.Is(err, types.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestFetchPageCursorPagination(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		post(t, r, alice, fmt.Sprintf("m%03d", i))
	}

	seen := make(map[string]struct{})
	var cursor *types.MessageCursor
	total := 0
	for {
		page, err := r.FetchPage(ctx, testChannel, cursor, 50)
		if err != nil {
			t.Fatalf("fetch page: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for i, m := range page {
			if _, dup := seen[m.ID]; dup {
				t.Fatalf("cursor pagination repeated %s", m.ID)
			}
			seen[m.ID] = struct{}{}
			if i > 0 && page[i-1].CreatedAt > m.CreatedAt {
				t.Fatalf("page not ascending at %d", i)
			}
		}
		total += len(page)
		cursor = &types.MessageCursor{ID: page[0].ID, CreatedAt: page[0].CreatedAt}

		// New arrivals between backfill fetches must not shift older pages.
		post(t, r, bob, fmt.Sprintf("tail-%d", total))
	}
	if total != 120 {
		t.Fatalf("paginated %d of 120 messages", total)
	}
}

func TestFetchSince(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	first := post(t, r, alice, "one")
	post(t, r, alice, "two")
	post(t, r, bob, "three")

	newer, err := r.FetchSince(ctx, testChannel, &types.MessageCursor{ID: first.ID, CreatedAt: first.CreatedAt}, 0)
	if err != nil {
		t.Fatalf("fetch since: %v", err)
	}
	if len(newer) != 2 || newer[0].Body != "two" || newer[1].Body != "three" {
		t.Fatalf("unexpected resync page: %+v", newer)
	}
}

func TestEditMessage(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m := post(t, r, alice, "orignal")

	edited, err := r.EditMessage(ctx, m.ID, "original", alice.ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Revision != 1 || edited.Body != "original" || edited.State != types.StateEdited {
		t.Fatalf("unexpected edit result: %+v", edited)
	}
	if edited.EditedAt == nil {
		t.Fatalf("edited_at not set")
	}

	again, err := r.EditMessage(ctx, m.ID, "original, really", alice.ID)
	if err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if again.Revision != 2 {
		t.Fatalf("revision did not advance: %d", again.Revision)
	}
}

func TestEditMessageRejectsNonAuthor(t *testing.T) {
	r := openTestRepo(t)

	m := post(t, r, alice, "hello")

	_, err := r.EditMessage(context.Background(), m.ID, "hijacked", bob.ID)
	if !errors.Is(err, types.ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
}

func TestDeleteMessageTombstones(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m := post(t, r, alice, "to be removed")

	if err := r.DeleteMessage(ctx, m.ID, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting twice is a no-op, not an error.
	if err := r.DeleteMessage(ctx, m.ID, alice.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	page, err := r.FetchPage(ctx, testChannel, nil, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("tombstone row dropped")
	}
	got := page[0]
	if got.State != types.StateDeleted || got.Body != "" || got.Attachment != nil {
		t.Fatalf("expected cleared tombstone, got %+v", got)
	}
	if got.AuthorID != alice.ID {
		t.Fatalf("tombstone lost author")
	}

	if _, err := r.EditMessage(ctx, m.ID, "resurrect", alice.ID); !errors.Is(err, types.ErrWriteRejected) {
		t.Fatalf("edit of deleted message allowed: %v", err)
	}
}

func TestDeleteMessageRejectsNonAuthor(t *testing.T) {
	r := openTestRepo(t)

	m := post(t, r, alice, "hello")

	err := r.DeleteMessage(context.Background(), m.ID, bob.ID)
	if !errors.Is(err, types.ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
}

func TestSetReactionIdempotent(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m := post(t, r, alice, "hello")

	for i := 0; i < 2; i++ {
		if err := r.SetReaction(ctx, m.ID, "👍", bob.ID, true); err != nil {
			t.Fatalf("add reaction: %v", err)
		}
	}

	page, _ := r.FetchPage(ctx, testChannel, nil, 10)
	if got := len(page[0].Reactions["👍"]); got != 1 {
		t.Fatalf("duplicate add produced %d entries", got)
	}

	if err := r.SetReaction(ctx, m.ID, "👍", bob.ID, false); err != nil {
		t.Fatalf("remove reaction: %v", err)
	}
	if err := r.SetReaction(ctx, m.ID, "👍", bob.ID, false); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	page, _ = r.FetchPage(ctx, testChannel, nil, 10)
	if len(page[0].Reactions) != 0 {
		t.Fatalf("reaction not removed: %+v", page[0].Reactions)
	}
}

func TestMarkReadWatermark(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m1 := post(t, r, alice, "one")
	m2 := post(t, r, alice, "two")
	m3 := post(t, r, alice, "three")

	if err := r.MarkRead(ctx, testChannel, m2.ID, bob.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	page, _ := r.FetchPage(ctx, testChannel, nil, 10)
	for _, m := range page {
		_, read := m.ReadBy[bob.ID]
		wantRead := m.ID == m1.ID || m.ID == m2.ID
		if read != wantRead {
			t.Fatalf("read state for %s = %v, want %v", m.Body, read, wantRead)
		}
	}

	// A stale acknowledgement must not move the watermark backwards.
	if err := r.MarkRead(ctx, testChannel, m1.ID, bob.ID); err != nil {
		t.Fatalf("stale mark read: %v", err)
	}
	page, _ = r.FetchPage(ctx, testChannel, nil, 10)
	if _, read := page[1].ReadBy[bob.ID]; !read {
		t.Fatalf("stale acknowledgement un-read %s", m2.ID)
	}

	if err := r.MarkRead(ctx, testChannel, m3.ID, bob.ID); err != nil {
		t.Fatalf("advance mark read: %v", err)
	}
	page, _ = r.FetchPage(ctx, testChannel, nil, 10)
	if _, read := page[2].ReadBy[bob.ID]; !read {
		t.Fatalf("watermark did not advance to %s", m3.ID)
	}
}

func TestWritesMirrorToEventsLog(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m := post(t, r, alice, "hello")
	if _, err := r.EditMessage(ctx, m.ID, "hello there", alice.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := r.SetReaction(ctx, m.ID, "🎉", bob.ID, true); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := r.DeleteMessage(ctx, m.ID, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	f, err := os.Open(r.eventsPath)
	if err != nil {
		t.Fatalf("open events log: %v", err)
	}
	defer f.Close()

	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		event, err := types.Decode(scanner.Bytes())
		if err != nil {
			t.Fatalf("decode event line: %v", err)
		}
		kinds = append(kinds, event.EventKind())
	}
	want := []string{
		types.KindMessageCreated,
		types.KindMessageEdited,
		types.KindReactionChanged,
		types.KindMessageDeleted,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event log kinds = %v, want %v", kinds, want)
	}
}
