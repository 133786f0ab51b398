package feed

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hirelane/discuss/internal/types"
)

// Tail follows the repository's append-only events JSONL and replays each
// appended line as a push event. Writers on the same machine (other
// processes using the same database) become live peers without a server.
//
// A Tail starts at the current end of file: history comes from the
// repository, the tail only carries what happens after subscribe.
type Tail struct {
	path string

	mu      sync.Mutex
	subs    map[string]map[int]func(types.Event)
	nextSub int

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTail creates a follower for the events file at path. The file may not
// exist yet; it is picked up on first write.
func NewTail(path string) *Tail {
	return &Tail{
		path: path,
		subs: make(map[string]map[int]func(types.Event)),
		done: make(chan struct{}),
	}
}

// Subscribe registers a handler for one channel. The reader goroutine
// starts on first subscribe.
func (t *Tail) Subscribe(ctx context.Context, channelID string, fn func(types.Event)) (func(), error) {
	t.mu.Lock()
	if t.subs[channelID] == nil {
		t.subs[channelID] = make(map[int]func(types.Event))
	}
	id := t.nextSub
	t.nextSub++
	t.subs[channelID][id] = fn
	t.mu.Unlock()

	var startErr error
	t.startOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = err
			return
		}
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			_ = watcher.Close()
			startErr = err
			return
		}
		// cancel is set only once follow is running; Close waits on done
		// solely when there is a goroutine to wait for.
		runCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.follow(runCtx, watcher)
	})
	if startErr != nil {
		return nil, startErr
	}

	return func() {
		t.mu.Lock()
		if subs := t.subs[channelID]; subs != nil {
			delete(subs, id)
		}
		t.mu.Unlock()
	}, nil
}

// Close stops the reader goroutine.
func (t *Tail) Close() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// follow reads appended lines from the current end of file, waking on
// fsnotify writes with a slow poll as fallback for editors and filesystems
// that drop events.
func (t *Tail) follow(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(t.done)
	defer watcher.Close()

	var offset int64
	if info, err := os.Stat(t.path); err == nil {
		offset = info.Size()
	}

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		offset = t.drain(offset)
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("events watch error", "path", t.path, "error", err)
		case <-poll.C:
		}
	}
}

// drain reads complete lines past offset and dispatches them. Returns the
// new offset. A truncated file (log rotation) restarts from zero.
func (t *Tail) drain(offset int64) int64 {
	f, err := os.Open(t.path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line: leave it for the next wake.
			return offset
		}
		offset += int64(len(line))
		t.dispatch(line)
	}
}

func (t *Tail) dispatch(line []byte) {
	event, err := types.Decode(line)
	if err != nil {
		slog.Warn("dropping malformed event line", "path", t.path, "error", err)
		return
	}

	t.mu.Lock()
	fns := make([]func(types.Event), 0, len(t.subs[event.Channel()]))
	for _, fn := range t.subs[event.Channel()] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
