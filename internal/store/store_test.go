package store

import (
	"fmt"
	"testing"

	"github.com/hirelane/discuss/internal/types"
)

const channel = "ch-job-1"

func confirmedMsg(id string, ts int64, body string) types.Message {
	return types.Message{
		ID:        id,
		ChannelID: channel,
		AuthorID:  "alice",
		Body:      body,
		State:     types.StateConfirmed,
		CreatedAt: ts,
	}
}

func ids(messages []types.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func assertOrdered(t *testing.T, messages []types.Message) {
	t.Helper()
	seen := make(map[string]struct{})
	for i, m := range messages {
		if _, dup := seen[m.ID]; dup {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.State == types.StatePending || m.State == types.StateFailed {
			continue
		}
		if i > 0 {
			prev := messages[i-1]
			if prev.State == types.StatePending || prev.State == types.StateFailed {
				t.Fatalf("confirmed %s after pending %s", m.ID, prev.ID)
			}
			if prev.CreatedAt > m.CreatedAt ||
				(prev.CreatedAt == m.CreatedAt && prev.ID > m.ID) {
				t.Fatalf("out of order: %s before %s", prev.ID, m.ID)
			}
		}
	}
}

func TestApplyPageOrdering(t *testing.T) {
	s := New(channel)
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-c", 300, "three"),
		confirmedMsg("msg-d", 400, "four"),
	}, DirectionOlder)
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-a", 100, "one"),
		confirmedMsg("msg-b", 200, "two"),
	}, DirectionOlder)

	got := ids(s.Messages())
	want := []string{"msg-a", "msg-b", "msg-c", "msg-d"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected order %v", got)
	}
	assertOrdered(t, s.Messages())
}

func TestApplyPageDiscardsOutOfOrderBatch(t *testing.T) {
	s := New(channel)
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-b", 200, "two"),
		confirmedMsg("msg-a", 100, "one"),
	}, DirectionOlder)

	if s.Len() != 0 {
		t.Fatalf("out-of-order batch was applied: %v", ids(s.Messages()))
	}
}

func TestApplyPageSameTimestampTieBreak(t *testing.T) {
	s := New(channel)
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-a", 100, "one"),
		confirmedMsg("msg-b", 100, "two"),
	}, DirectionOlder)

	got := ids(s.Messages())
	if got[0] != "msg-a" || got[1] != "msg-b" {
		t.Fatalf("tie-break broken: %v", got)
	}
}

func TestCreatedEventDeduplication(t *testing.T) {
	s := New(channel)
	event := types.MessageCreated{Message: confirmedMsg("msg-a", 100, "one")}
	s.ApplyEvent(event)
	s.ApplyEvent(event)

	if s.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", s.Len())
	}
}

func TestCreatedEventInsertsInOrder(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-c", 300, "three")})
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-a", 100, "one")})
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-b", 200, "two")})

	got := ids(s.Messages())
	want := []string{"msg-a", "msg-b", "msg-c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestStaleEditRejected(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-a", 100, "original")})

	newer := confirmedMsg("msg-a", 100, "newer")
	newer.Revision = 3
	s.ApplyEvent(types.MessageEdited{Message: newer})

	older := confirmedMsg("msg-a", 100, "older")
	older.Revision = 2
	s.ApplyEvent(types.MessageEdited{Message: older})

	m, _ := s.Get("msg-a")
	if m.Body != "newer" || m.Revision != 3 {
		t.Fatalf("stale edit applied: body=%q revision=%d", m.Body, m.Revision)
	}
}

func TestConcurrentEditsReverseOrder(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-3", 100, "v0")})

	rev2 := confirmedMsg("msg-3", 100, "v2")
	rev2.Revision = 2
	rev1 := confirmedMsg("msg-3", 100, "v1")
	rev1.Revision = 1

	s.ApplyEvent(types.MessageEdited{Message: rev2})
	s.ApplyEvent(types.MessageEdited{Message: rev1})

	m, _ := s.Get("msg-3")
	if m.Revision != 2 || m.Body != "v2" {
		t.Fatalf("expected revision 2 to win, got revision=%d body=%q", m.Revision, m.Body)
	}
}

func TestOptimisticPromotion(t *testing.T) {
	s := New(channel)
	author := types.User{ID: "alice", DisplayName: "Alice"}
	token, staged := s.StageOptimistic(types.Draft{Body: "hello"}, author)

	if staged.State != types.StatePending {
		t.Fatalf("expected pending, got %s", staged.State)
	}
	if s.Len() != 1 {
		t.Fatalf("expected staged message visible immediately")
	}

	confirmed := confirmedMsg("m1", 500, "hello")
	confirmed.Token = token
	s.ApplyEvent(types.MessageCreated{Message: confirmed})

	messages := s.Messages()
	if len(messages) != 1 {
		t.Fatalf("promotion duplicated: %v", ids(messages))
	}
	if messages[0].ID != "m1" || messages[0].State != types.StateConfirmed {
		t.Fatalf("unexpected promoted message %+v", messages[0])
	}

	// The push echo of the same record is a duplicate.
	s.ApplyEvent(types.MessageCreated{Message: confirmed})
	if s.Len() != 1 {
		t.Fatalf("echo duplicated the promoted message")
	}
}

func TestPendingSortsAfterConfirmed(t *testing.T) {
	s := New(channel)
	author := types.User{ID: "alice"}
	_, staged := s.StageOptimistic(types.Draft{Body: "slow send"}, author)

	// A peer's message with a later timestamp than the pending provisional
	// one still lands before it.
	peer := confirmedMsg("msg-z", staged.CreatedAt+10_000, "peer")
	s.ApplyEvent(types.MessageCreated{Message: peer})

	messages := s.Messages()
	if messages[0].ID != "msg-z" || messages[1].State != types.StatePending {
		t.Fatalf("pending did not stay at tail: %v", ids(messages))
	}
}

func TestRollbackIdempotent(t *testing.T) {
	s := New(channel)
	token, _ := s.StageOptimistic(types.Draft{Body: "hello"}, types.User{ID: "alice"})

	confirmed := confirmedMsg("m1", 500, "hello")
	confirmed.Token = token
	s.ApplyEvent(types.MessageCreated{Message: confirmed})

	// Late failure handling after the echo already promoted: no-ops.
	s.Rollback(token, "timeout")
	s.Rollback(token, "timeout")

	messages := s.Messages()
	if len(messages) != 1 || messages[0].State != types.StateConfirmed {
		t.Fatalf("rollback after promotion changed state: %+v", messages)
	}
}

func TestRollbackMarksFailed(t *testing.T) {
	s := New(channel)
	token, _ := s.StageOptimistic(types.Draft{Body: "hello"}, types.User{ID: "alice"})

	s.Rollback(token, "connection reset")

	messages := s.Messages()
	if len(messages) != 1 || messages[0].State != types.StateFailed {
		t.Fatalf("expected failed entry, got %+v", messages)
	}
	if messages[0].FailReason != "connection reset" {
		t.Fatalf("missing fail reason: %+v", messages[0])
	}

	s.DiscardFailed(token)
	if s.Len() != 0 {
		t.Fatalf("discard left entry behind")
	}
}

func TestEchoAfterBackfillSettlesPending(t *testing.T) {
	s := New(channel)
	token, _ := s.StageOptimistic(types.Draft{Body: "hello"}, types.User{ID: "alice"})

	// A forward resync lands the committed record first; pages never carry
	// correlation tokens.
	s.ApplyPage([]types.Message{confirmedMsg("m1", 500, "hello")}, DirectionNewer)
	if s.Len() != 2 {
		t.Fatalf("expected confirmed + pending before the echo, got %d", s.Len())
	}

	// The direct response or push echo for the same id still carries the
	// token and must settle the pending entry instead of leaving it stuck.
	echo := confirmedMsg("m1", 500, "hello")
	echo.Token = token
	s.ApplyEvent(types.MessageCreated{Message: echo})

	messages := s.Messages()
	if len(messages) != 1 || messages[0].ID != "m1" || messages[0].State != types.StateConfirmed {
		t.Fatalf("pending entry not settled: %v", ids(messages))
	}

	s.Rollback(token, "late failure")
	if len(s.Messages()) != 1 {
		t.Fatalf("rollback after settle changed the view")
	}
}

func TestSnapshotsDoNotAliasHeldMaps(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m1", 100, "hi")})
	s.ApplyEvent(types.ReactionChanged{ChannelID: channel, MessageID: "m1", Emoji: "🎉", UserID: "bob", Added: true, At: 150})

	snap, _ := s.Get("m1")
	s.ApplyEvent(types.ReactionChanged{ChannelID: channel, MessageID: "m1", Emoji: "🎉", UserID: "carol", Added: true, At: 160})
	s.ApplyEvent(types.ReadReceiptChanged{ChannelID: channel, MessageID: "m1", UserID: "bob", ReadAt: 170})

	if got := len(snap.Reactions["🎉"]); got != 1 {
		t.Fatalf("snapshot mutated by later event: %d entries", got)
	}
	if _, ok := snap.ReadBy["bob"]; ok {
		t.Fatalf("snapshot picked up a later read receipt")
	}

	// Iterating snapshots while events keep landing must be safe under the
	// race detector.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			user := fmt.Sprintf("user-%d", i)
			s.ApplyEvent(types.ReactionChanged{ChannelID: channel, MessageID: "m1", Emoji: "👍", UserID: user, Added: true, At: int64(200 + i)})
			s.ApplyEvent(types.ReadReceiptChanged{ChannelID: channel, MessageID: "m1", UserID: user, ReadAt: int64(200 + i)})
		}
	}()
	for i := 0; i < 200; i++ {
		for _, m := range s.Messages() {
			for _, entries := range m.Reactions {
				_ = entries
			}
			for user := range m.ReadBy {
				_ = user
			}
		}
	}
	<-done
}

func TestDeleteTombstonesInPlace(t *testing.T) {
	s := New(channel)
	m1 := confirmedMsg("m1", 100, "original")
	m1.AuthorName = "Alice"
	s.ApplyEvent(types.MessageCreated{Message: m1})
	m2 := confirmedMsg("m2", 200, "a reply")
	reply := "m1"
	m2.ReplyTo = &reply
	s.ApplyEvent(types.MessageCreated{Message: m2})

	s.ApplyEvent(types.MessageDeleted{ChannelID: channel, MessageID: "m1", DeletedAt: 300})

	got, _ := s.Get("m1")
	if got.State != types.StateDeleted || got.Body != "" {
		t.Fatalf("expected tombstone, got %+v", got)
	}
	if got.AuthorID != "alice" {
		t.Fatalf("tombstone lost author")
	}

	_, body, ok := s.ReplyPreview("m1")
	if ok || body != "message removed" {
		t.Fatalf("reply to tombstone should degrade to placeholder, got %q ok=%v", body, ok)
	}
}

func TestEditDoesNotResurrectTombstone(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m1", 100, "original")})
	s.ApplyEvent(types.MessageDeleted{ChannelID: channel, MessageID: "m1", DeletedAt: 200})

	edit := confirmedMsg("m1", 100, "edited body")
	edit.Revision = 5
	s.ApplyEvent(types.MessageEdited{Message: edit})

	got, _ := s.Get("m1")
	if got.State != types.StateDeleted || got.Body != "" {
		t.Fatalf("edit resurrected tombstone: %+v", got)
	}
}

func TestToggleReactionRoundTrip(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m1", 100, "hi")})

	added, ok := s.ToggleReaction("m1", "👍", "bob")
	if !ok || !added {
		t.Fatalf("first toggle should add")
	}
	added, _ = s.ToggleReaction("m1", "👍", "bob")
	if added {
		t.Fatalf("second toggle should remove")
	}

	m, _ := s.Get("m1")
	if len(m.Reactions) != 0 {
		t.Fatalf("double toggle left reactions: %+v", m.Reactions)
	}
}

func TestReactionEventIdempotent(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m1", 100, "hi")})

	event := types.ReactionChanged{ChannelID: channel, MessageID: "m1", Emoji: "🎉", UserID: "bob", Added: true, At: 150}
	s.ApplyEvent(event)
	s.ApplyEvent(event)

	m, _ := s.Get("m1")
	if len(m.Reactions["🎉"]) != 1 {
		t.Fatalf("duplicate reaction applied: %+v", m.Reactions)
	}
}

func TestReadReceiptWatermark(t *testing.T) {
	s := New(channel)
	s.ApplyPage([]types.Message{
		confirmedMsg("m1", 100, "one"),
		confirmedMsg("m2", 200, "two"),
		confirmedMsg("m3", 300, "three"),
	}, DirectionOlder)

	s.ApplyEvent(types.ReadReceiptChanged{ChannelID: channel, MessageID: "m2", UserID: "bob", ReadAt: 400})

	for _, id := range []string{"m1", "m2"} {
		m, _ := s.Get(id)
		if _, ok := m.ReadBy["bob"]; !ok {
			t.Fatalf("%s should be read by bob", id)
		}
	}
	m3, _ := s.Get("m3")
	if _, ok := m3.ReadBy["bob"]; ok {
		t.Fatalf("m3 beyond the watermark should be unread")
	}

	if got := s.UnreadCount("bob"); got != 1 {
		t.Fatalf("unread count = %d, want 1", got)
	}
}

func TestUnreadCountSkipsOwnMessages(t *testing.T) {
	s := New(channel)
	s.ApplyPage([]types.Message{
		confirmedMsg("m1", 100, "mine"),
		confirmedMsg("m2", 200, "also mine"),
	}, DirectionOlder)

	if got := s.UnreadCount("alice"); got != 0 {
		t.Fatalf("own messages counted unread: %d", got)
	}
	if got := s.UnreadCount("bob"); got != 2 {
		t.Fatalf("unread for bob = %d, want 2", got)
	}
}

func TestMalformedEventDropped(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(nil)
	s.ApplyEvent(types.MessageCreated{}) // no id
	s.ApplyEvent(types.MessageEdited{Message: confirmedMsg("ghost", 10, "x")})

	if s.Len() != 0 {
		t.Fatalf("malformed events mutated the store")
	}
}

func TestInterleavedPagesAndEventsStayOrdered(t *testing.T) {
	s := New(channel)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-f", 600, "tail")})
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-c", 300, "three"),
		confirmedMsg("msg-d", 400, "four"),
	}, DirectionOlder)
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("msg-e", 500, "five")})
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-a", 100, "one"),
		confirmedMsg("msg-b", 200, "two"),
	}, DirectionOlder)
	// Duplicate page delivery.
	s.ApplyPage([]types.Message{
		confirmedMsg("msg-a", 100, "one"),
		confirmedMsg("msg-b", 200, "two"),
	}, DirectionOlder)

	messages := s.Messages()
	if len(messages) != 6 {
		t.Fatalf("expected 6 messages, got %v", ids(messages))
	}
	assertOrdered(t, messages)
}

func TestSubscribeNotifiesChanges(t *testing.T) {
	s := New(channel)
	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m1", 100, "hi")})
	if len(changes) != 1 || changes[0].Kind != ChangeInsert {
		t.Fatalf("expected one insert change, got %+v", changes)
	}

	unsubscribe()
	s.ApplyEvent(types.MessageCreated{Message: confirmedMsg("m2", 200, "hi")})
	if len(changes) != 1 {
		t.Fatalf("listener fired after unsubscribe")
	}
}
