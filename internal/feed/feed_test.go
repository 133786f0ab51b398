package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hirelane/discuss/internal/types"
)

func created(channelID, id string) types.MessageCreated {
	return types.MessageCreated{Message: types.Message{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  "alice",
		Body:      "hi",
		State:     types.StateConfirmed,
		CreatedAt: 100,
	}}
}

func TestBusRoutesByChannel(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []string
	unsubscribe, err := bus.Subscribe(ctx, "ch-a", func(e types.Event) {
		got = append(got, e.EventKind())
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(ctx, "ch-b", func(types.Event) {
		t.Errorf("ch-b handler received ch-a event")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(created("ch-a", "m1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != types.KindMessageCreated {
		t.Fatalf("handler saw %v", got)
	}

	unsubscribe()
	_ = bus.Publish(created("ch-a", "m2"))
	if len(got) != 1 {
		t.Fatalf("handler fired after unsubscribe")
	}
}

// appendEventLine mimics a repository write to the events log.
func appendEventLine(t *testing.T, path string, event types.Event) {
	t.Helper()
	data, err := types.Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.Fatalf("append: %v", err)
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *eventSink) handle(e types.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held")
}

func TestTailDeliversAppendedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	// Lines written before subscribe are history, not pushes.
	appendEventLine(t, path, created("ch-a", "m0"))

	tail := NewTail(path)
	defer tail.Close()

	var sink eventSink
	unsubscribe, err := tail.Subscribe(context.Background(), "ch-a", sink.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	appendEventLine(t, path, created("ch-a", "m1"))
	appendEventLine(t, path, created("ch-a", "m2"))

	waitFor(t, func() bool { return sink.len() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	first, ok := sink.events[0].(types.MessageCreated)
	if !ok || first.Message.ID != "m1" {
		t.Fatalf("unexpected first event: %+v", sink.events[0])
	}
}

func TestTailFiltersOtherChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tail := NewTail(path)
	defer tail.Close()

	var sink eventSink
	unsubscribe, err := tail.Subscribe(context.Background(), "ch-a", sink.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	appendEventLine(t, path, created("ch-b", "m1"))
	appendEventLine(t, path, created("ch-a", "m2"))

	waitFor(t, func() bool { return sink.len() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	got, ok := sink.events[0].(types.MessageCreated)
	if !ok || got.Message.ID != "m2" {
		t.Fatalf("wrong channel delivered: %+v", sink.events[0])
	}
}

func TestTailCloseAfterFailedSubscribe(t *testing.T) {
	// The watch directory does not exist, so the reader never starts.
	tail := NewTail(filepath.Join(t.TempDir(), "missing", "events.jsonl"))

	if _, err := tail.Subscribe(context.Background(), "ch-a", func(types.Event) {}); err == nil {
		t.Fatalf("subscribe into a missing directory succeeded")
	}

	done := make(chan struct{})
	go func() {
		tail.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close blocked after failed subscribe")
	}
}

func TestTailSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tail := NewTail(path)
	defer tail.Close()

	var sink eventSink
	unsubscribe, err := tail.Subscribe(context.Background(), "ch-a", sink.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	appendEventLine(t, path, created("ch-a", "m1"))

	waitFor(t, func() bool { return sink.len() == 1 })
}
