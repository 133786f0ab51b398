package feed

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hirelane/discuss/internal/types"
)

// Socket is a feed over a relay websocket. One connection carries one
// channel's events; reconnects are automatic with backoff, and each
// successful reconnect invokes OnReconnect so the session can resync the
// window it may have missed.
type Socket struct {
	// BaseURL is the relay root, e.g. "ws://localhost:7420".
	BaseURL string

	// OnReconnect runs after every re-established connection (not the
	// first). Optional.
	OnReconnect func()

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe dials the relay for one channel and reads events until ctx is
// cancelled or the returned unsubscribe runs.
func (s *Socket) Subscribe(ctx context.Context, channelID string, fn func(types.Event)) (func(), error) {
	target, err := url.JoinPath(s.BaseURL, "ws", channelID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	s.setConn(conn)

	runCtx, cancel := context.WithCancel(ctx)
	go s.read(runCtx, target, channelID, conn, fn)

	return func() {
		cancel()
		s.closeConn()
	}, nil
}

// Publish writes a locally-originated event (typing signals) to the relay
// for fan-out.
func (s *Socket) Publish(event types.Event) error {
	data, err := types.Encode(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return types.ErrTransport
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Socket) read(ctx context.Context, target, channelID string, conn *websocket.Conn, fn func(types.Event)) {
	backoff := time.Second
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("feed connection lost", "channel", channelID, "error", err)

			conn = s.redial(ctx, target, &backoff)
			if conn == nil {
				return
			}
			s.setConn(conn)
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			continue
		}
		backoff = time.Second

		event, err := types.Decode(data)
		if err != nil {
			slog.Warn("dropping malformed feed frame", "channel", channelID, "error", err)
			continue
		}
		fn(event)
	}
}

// redial reconnects with doubling backoff capped at 30s. Returns nil once
// ctx is cancelled.
func (s *Socket) redial(ctx context.Context, target string, backoff *time.Duration) *websocket.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*backoff):
		}
		if *backoff < 30*time.Second {
			*backoff *= 2
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			slog.Debug("feed redial failed", "target", target, "error", err)
			continue
		}
		return conn
	}
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Socket) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}
