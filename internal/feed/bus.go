package feed

import (
	"context"
	"sync"

	"github.com/hirelane/discuss/internal/types"
)

// Bus is an in-process feed: published events fan out synchronously to the
// channel's subscribers. Backs single-process setups and tests, and the
// relay server's local delivery.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[int]func(types.Event)
	nextSub int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(types.Event))}
}

// Subscribe registers a handler for one channel.
func (b *Bus) Subscribe(_ context.Context, channelID string, fn func(types.Event)) (func(), error) {
	b.mu.Lock()
	if b.subs[channelID] == nil {
		b.subs[channelID] = make(map[int]func(types.Event))
	}
	id := b.nextSub
	b.nextSub++
	b.subs[channelID][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if subs := b.subs[channelID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, channelID)
			}
		}
		b.mu.Unlock()
	}, nil
}

// Publish delivers an event to every subscriber of its channel.
func (b *Bus) Publish(event types.Event) error {
	b.mu.Lock()
	fns := make([]func(types.Event), 0, len(b.subs[event.Channel()]))
	for _, fn := range b.subs[event.Channel()] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
	return nil
}
