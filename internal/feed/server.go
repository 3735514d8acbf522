package feed

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lanroom/lanroom/internal/session"
	"github.com/lanroom/lanroom/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outboxSize bounds the per-client queue. A subscriber that falls this
// far behind loses messages, not its connection.
const outboxSize = 16

type client struct {
	conn   *websocket.Conn
	outbox chan Message
}

// Server broadcasts session snapshots over WebSocket. It implements
// session.Observer, so registering it with an orchestrator is all the
// wiring a feed needs. Late subscribers get the most recent snapshot
// replayed on connect; the snapshot carries the invite code, so the
// one-shot invite message is not replayed separately.
type Server struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	last     *session.Snapshot
	listener net.Listener
}

func NewServer() *Server {
	return &Server{clients: make(map[*client]struct{})}
}

// Start begins serving `GET /feed` on addr and returns the bound
// address, which differs from addr when a port of 0 was asked for.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("feed: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	bound := listener.Addr().String()
	util.Infof("feed: listening on ws://%s/feed", bound)
	return bound, nil
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, outbox: make(chan Message, outboxSize)}

	// Queue the replay before the client becomes broadcast-visible so
	// it always arrives first.
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if s.last != nil {
		c.outbox <- Message{Type: TypeSnapshot, Snapshot: s.last}
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop is the only goroutine writing to the connection.
func (s *Server) writeLoop(c *client) {
	for msg := range c.outbox {
		if err := c.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	s.drop(c)
	c.conn.Close()
}

// readLoop discards inbound frames; its job is noticing disconnects.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

// drop unregisters the client. Closing the outbox under the lock keeps
// broadcasts from racing the close.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.outbox)
	}
	s.mu.Unlock()
}

// OnSnapshot fans the snapshot out to every subscriber. It never
// blocks: a full outbox drops the message for that client.
func (s *Server) OnSnapshot(snap session.Snapshot) {
	s.mu.Lock()
	s.last = &snap
	s.broadcastLocked(Message{Type: TypeSnapshot, Snapshot: &snap})
	s.mu.Unlock()
}

// OnInvite pushes the invite code to current subscribers.
func (s *Server) OnInvite(code string) {
	s.mu.Lock()
	s.broadcastLocked(Message{Type: TypeInvite, Code: code})
	s.mu.Unlock()
}

func (s *Server) broadcastLocked(msg Message) {
	for c := range s.clients {
		select {
		case c.outbox <- msg:
		default:
			util.Debugf("feed: slow subscriber, dropping %s message", msg.Type)
		}
	}
}

// Close stops the listener and disconnects every subscriber.
func (s *Server) Close() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, c)
		close(c.outbox)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range clients {
		c.conn.Close()
	}
}
