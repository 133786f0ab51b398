// Package feed delivers push events for open channels. Three transports
// satisfy the same contract: an in-process bus, a JSONL tail for local
// multi-process setups, and a websocket client for the relay server.
package feed

import (
	"context"

	"github.com/hirelane/discuss/internal/types"
)

// Feed is one push-event source. Subscribe registers a handler for one
// channel's events and returns its remover. Handlers run on the feed's
// reader goroutine; they must not block. Events for a single channel arrive
// in commit order; delivery is at-least-once, so consumers de-duplicate.
type Feed interface {
	Subscribe(ctx context.Context, channelID string, fn func(types.Event)) (func(), error)
}

// Publisher accepts locally-originated events for fan-out, used for typing
// signals that never touch the repository.
type Publisher interface {
	Publish(event types.Event) error
}
