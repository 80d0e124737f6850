package app

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"overlaykit/api/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Widgets are embedded in OBS browser sources and arbitrary overlay
	// pages; scoping happens through the namespace token, not the Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketConn serializes writes; gorilla connections do not support
// concurrent writers.
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *socketConn) Close() error {
	return c.conn.Close()
}

func (s *HTTPServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := s.service.SocketToken(r)
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	conn := &socketConn{conn: raw}
	client := s.service.Hub().Register(conn, token)
	defer func() {
		s.service.Hub().Unregister(client)
		_ = conn.Close()
	}()

	_ = conn.WriteJSON(hub.Envelope{Type: "hello", Data: map[string]any{"scoped": token != ""}})

	raw.SetReadLimit(4096)
	for {
		// Inbound frames are drained only to detect disconnects.
		if _, _, err := raw.ReadMessage(); err != nil {
			return
		}
	}
}
