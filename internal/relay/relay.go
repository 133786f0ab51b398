// Package relay is a small websocket fan-out for discussion channels: every
// event published on a channel reaches every subscriber of that channel.
// It carries no history; clients backfill from the repository and treat the
// relay purely as the push transport.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hirelane/discuss/internal/feed"
	"github.com/hirelane/discuss/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn is one subscriber connection. Writes are serialized.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server accepts websocket subscribers under /ws/{channel} and broadcasts
// every frame a subscriber sends to the channel's other subscribers. An
// optional Source feed (the repository's event tail) is forwarded too, so
// repository writes made by the serving process reach remote clients.
type Server struct {
	Addr   string
	Source feed.Feed

	mu      sync.Mutex
	conns   map[string]map[*conn]struct{} // channel -> connections
	sources map[string]func()             // channel -> source unsubscribe

	httpSrv *http.Server
}

// NewServer creates a relay listening on addr.
func NewServer(addr string, source feed.Feed) *Server {
	return &Server{
		Addr:    addr,
		Source:  source,
		conns:   make(map[string]map[*conn]struct{}),
		sources: make(map[string]func()),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ws/", s.handleWS)

	s.httpSrv = &http.Server{Addr: s.Addr, Handler: mux}

	group, runCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("relay listening", "addr", s.Addr)
		if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if channelID == "" || strings.Contains(channelID, "/") {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	if s.conns[channelID] == nil {
		s.conns[channelID] = make(map[*conn]struct{})
		if s.Source != nil {
			// First subscriber for the channel: forward repository events
			// until the last subscriber leaves.
			unsubscribe, err := s.Source.Subscribe(context.Background(), channelID, func(event types.Event) {
				s.broadcast(channelID, nil, event)
			})
			if err != nil {
				slog.Warn("source subscribe failed", "channel", channelID, "error", err)
			} else {
				s.sources[channelID] = unsubscribe
			}
		}
	}
	s.conns[channelID][c] = struct{}{}
	s.mu.Unlock()

	slog.Info("subscriber joined", "channel", channelID, "remote", r.RemoteAddr)
	s.readLoop(channelID, c)
}

// readLoop relays frames from one subscriber to the channel's others.
// Frames that do not decode as events are dropped.
func (s *Server) readLoop(channelID string, c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns[channelID], c)
		var unsubscribe func()
		if len(s.conns[channelID]) == 0 {
			delete(s.conns, channelID)
			unsubscribe = s.sources[channelID]
			delete(s.sources, channelID)
		}
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		_ = c.ws.Close()
		slog.Info("subscriber left", "channel", channelID)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		event, err := types.Decode(data)
		if err != nil {
			slog.Warn("dropping malformed frame", "channel", channelID, "error", err)
			continue
		}
		s.broadcast(channelID, c, event)
	}
}

// broadcast sends an event to every subscriber of the channel except the
// originator.
func (s *Server) broadcast(channelID string, from *conn, event types.Event) {
	data, err := types.Encode(event)
	if err != nil {
		slog.Warn("encode failed", "kind", event.EventKind(), "error", err)
		return
	}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns[channelID]))
	for c := range s.conns[channelID] {
		if c != from {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			slog.Warn("broadcast failed", "channel", channelID, "error", err)
		}
	}
}
