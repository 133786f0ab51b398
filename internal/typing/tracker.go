// Package typing tracks who is typing in a channel. Signals are ephemeral
// presentation state: never persisted, never part of message ordering, and
// safe to lose wholesale on reconnect.
package typing

import (
	"sync"
	"time"

	"github.com/hirelane/discuss/internal/types"
)

// Quiet is how long a typing signal lives without refresh. The local side
// emits a stop after this long with no activity; the remote side expires a
// peer the same way, so a crashed peer's indicator clears within Quiet even
// when no stop signal ever arrives.
const Quiet = 5 * time.Second

// Publisher sends the local user's start/stop signals to the transport.
// Best effort; errors are the publisher's to swallow.
type Publisher func(typing bool)

// Tracker debounces local typing activity and maintains the live peer set.
type Tracker struct {
	mu        sync.Mutex
	channelID string
	selfID    string
	publish   Publisher

	typing bool
	stop   *time.Timer

	peers map[string]types.TypingSignal

	now func() time.Time
}

// New creates a tracker for one channel. publish may be nil for a receive-
// only tracker.
func New(channelID, selfID string, publish Publisher) *Tracker {
	return &Tracker{
		channelID: channelID,
		selfID:    selfID,
		publish:   publish,
		peers:     make(map[string]types.TypingSignal),
		now:       time.Now,
	}
}

// NotifyActivity is called on every keystroke. Only the first call after a
// quiet period emits a start signal; the stop timer is re-armed on each
// call, so a burst costs at most one start/stop pair on the wire.
func (t *Tracker) NotifyActivity() {
	t.mu.Lock()
	first := !t.typing
	t.typing = true
	if t.stop != nil {
		t.stop.Stop()
	}
	t.stop = time.AfterFunc(Quiet, t.StopTyping)
	t.mu.Unlock()

	if first && t.publish != nil {
		t.publish(true)
	}
}

// StopTyping emits a stop signal if one is owed. Called on submit, on input
// clear, and by the quiet timer.
func (t *Tracker) StopTyping() {
	t.mu.Lock()
	wasTyping := t.typing
	t.typing = false
	if t.stop != nil {
		t.stop.Stop()
		t.stop = nil
	}
	t.mu.Unlock()

	if wasTyping && t.publish != nil {
		t.publish(false)
	}
}

// Apply consumes a peer's typing event. A start inserts or refreshes the
// peer with a fresh expiry; a stop removes it immediately. The local user's
// own echoes are ignored.
func (t *Tracker) Apply(e types.TypingChanged) {
	if e.UserID == t.selfID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !e.Typing {
		delete(t.peers, e.UserID)
		return
	}
	t.peers[e.UserID] = types.TypingSignal{
		ChannelID:   t.channelID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		ExpiresAt:   t.now().Add(Quiet).UnixMilli(),
	}
}

// Sweep drops expired peers. Run on every UI tick.
func (t *Tracker) Sweep() {
	cutoff := t.now().UnixMilli()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sig := range t.peers {
		if sig.ExpiresAt <= cutoff {
			delete(t.peers, id)
		}
	}
}

// Peers returns the live typing set, swept first.
func (t *Tracker) Peers() []types.TypingSignal {
	t.Sweep()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.TypingSignal, 0, len(t.peers))
	for _, sig := range t.peers {
		out = append(out, sig)
	}
	return out
}

// Close silences the tracker without emitting a trailing stop.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = false
	if t.stop != nil {
		t.stop.Stop()
		t.stop = nil
	}
}
