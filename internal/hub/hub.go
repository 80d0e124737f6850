// Package hub fans configuration change events out to live widget
// connections, scoped by namespace token. A message addressed to one token
// is never delivered to a connection registered under a different token, or
// under no token.
package hub

import (
	"log"
	"sync"
)

// Envelope is the wire shape of every broadcast message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Conn is the slice of a WebSocket connection the hub needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one registered connection. An empty token marks a
// legacy/self-hosted connection that only receives untargeted broadcasts.
type Client struct {
	conn  Conn
	token string
}

type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}

	privateEvents map[string]struct{}
	relayPrivate  bool
}

// New builds a hub. privateEvents lists message types that must not be
// relayed to paired public tokens unless relayPrivate is set for the
// deployment.
func New(privateEvents []string, relayPrivate bool) *Hub {
	private := make(map[string]struct{}, len(privateEvents))
	for _, event := range privateEvents {
		if event != "" {
			private[event] = struct{}{}
		}
	}
	return &Hub{
		clients:       make(map[*Client]struct{}),
		privateEvents: private,
		relayPrivate:  relayPrivate,
	}
}

func (h *Hub) Register(conn Conn, token string) *Client {
	client := &Client{conn: conn, token: token}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast delivers msg to the connections owned by token. An empty token
// targets only the untokened legacy connections. Delivery is best-effort:
// a broken connection is dropped, never retried, and never fails the
// triggering write.
func (h *Hub) Broadcast(token string, msg Envelope) {
	h.deliver(msg, func(c *Client) bool {
		if token == "" {
			return c.token == ""
		}
		return c.token == token
	})
}

// BroadcastWithPublic delivers to the admin token's connections and relays
// to the paired public token, unless the message type is marked private for
// this deployment.
func (h *Hub) BroadcastWithPublic(token, publicToken string, msg Envelope) {
	h.Broadcast(token, msg)
	if publicToken == "" || publicToken == token {
		return
	}
	if h.isPrivate(msg.Type) {
		return
	}
	h.Broadcast(publicToken, msg)
}

func (h *Hub) isPrivate(eventType string) bool {
	if h.relayPrivate {
		return false
	}
	_, ok := h.privateEvents[eventType]
	return ok
}

func (h *Hub) deliver(msg Envelope, match func(*Client) bool) {
	// Copy-on-iterate: the registry may be mutated by concurrent
	// connects/disconnects while writes are in flight.
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if match(client) {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()

	for _, client := range targets {
		if err := client.conn.WriteJSON(msg); err != nil {
			log.Printf("broadcast write failed, dropping connection: %v", err)
			h.Unregister(client)
			_ = client.conn.Close()
		}
	}
}
