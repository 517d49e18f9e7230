package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var _ service.Publisher = (*Hub)(nil)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// TokenParser validates the bearer token presented by a connecting client.
type TokenParser interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint. A client with a
// surebet or associate filter only receives events about that id.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	subject     string
	surebetID   *uuid.UUID
	associateID *uuid.UUID
}

func (c *Client) wants(evt domain.Event) bool {
	if c.surebetID != nil && (evt.SurebetID == nil || *evt.SurebetID != *c.surebetID) {
		return false
	}
	if c.associateID != nil && (evt.AssociateID == nil || *evt.AssociateID != *c.associateID) {
		return false
	}
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

type envelope struct {
	evt  domain.Event
	data []byte
}

// Hub maintains the set of active clients and routes events to them.
// Run must be started before ServeWs is used.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	auth     TokenParser
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a Hub. An empty allowedOrigins list accepts every origin.
func NewHub(auth TokenParser, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       auth,
		log:        slog.Default().With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(env.evt) {
					continue
				}
				select {
				case client.send <- env.data:
				default:
					// Slow client: drop rather than stall the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements service.Publisher. It never blocks: when the broadcast
// queue is full the event is dropped for WS clients.
func (h *Hub) Publish(_ context.Context, evt domain.Event) error {
	data, err := json.Marshal(EventMessage{Type: MsgTypeEvent, Event: evt})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{evt: evt, data: data}:
	default:
		h.log.Warn("broadcast channel full, event dropped", "type", evt.Type)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs authenticates the caller with the ?token= query parameter (or an
// Authorization bearer header), applies optional ?surebet_id= and
// ?associate_id= filters, and upgrades the connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := h.auth.ParseAccessToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	surebetID, err := optionalUUID(r, "surebet_id")
	if err != nil {
		http.Error(w, "invalid surebet_id", http.StatusBadRequest)
		return
	}
	associateID, err := optionalUUID(r, "associate_id")
	if err != nil {
		http.Error(w, "invalid associate_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		subject:     claims.Subject,
		surebetID:   surebetID,
		associateID: associateID,
	}
	hello, _ := json.Marshal(ConnectedMessage{
		Type:        MsgTypeConnected,
		Subject:     claims.Subject,
		SurebetID:   surebetID,
		AssociateID: associateID,
		Timestamp:   time.Now().UTC(),
	})
	client.send <- hello

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func optionalUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and pings every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles pongs; the protocol is server-push. When the
// connection drops the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close", "subject", c.subject, "error", err)
			}
			return
		}
	}
}
