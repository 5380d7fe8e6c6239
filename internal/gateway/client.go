package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/livedesk/internal/logging"
)

// Client represents an authenticated WebSocket connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	OrgID       string
	RemoteIP    string
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient creates a Client for a newly authenticated WebSocket connection.
func NewClient(conn *websocket.Conn, info ClientInfo, orgID string, authResult AuthResult, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		OrgID:       orgID,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// IsAgent reports whether the client connected as a support agent.
func (c *Client) IsAgent() bool { return c.Info.Mode == ModeAgent }

// Send sends a frame to the client. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.Socket == nil {
		return nil
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return DecodeFrame(msg)
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	return c.Socket.Close()
}

// ClientRegistry manages connected clients and their conversation rooms.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID → Client
	rooms   map[string]map[string]*Client // conversationID → connID → Client
	joined  map[string]map[string]bool    // connID → conversationIDs
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]bool),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("mode", c.Info.Mode).Msg("client connected")
}

// Remove unregisters a client and drops it from every room.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for convID := range r.joined[connID] {
		r.leaveLocked(connID, convID)
	}
	delete(r.joined, connID)
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Join subscribes a connected client to a conversation room.
func (r *ClientRegistry) Join(connID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return false
	}
	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Client)
		r.rooms[conversationID] = room
	}
	room[connID] = c
	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]bool)
	}
	r.joined[connID][conversationID] = true
	return true
}

// Leave unsubscribes a client from a conversation room.
func (r *ClientRegistry) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, conversationID)
	if j := r.joined[connID]; j != nil {
		delete(j, conversationID)
	}
}

func (r *ClientRegistry) leaveLocked(connID, conversationID string) {
	room := r.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
}

// InRoom reports whether the client has joined the conversation.
func (r *ClientRegistry) InRoom(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][connID]
	return ok
}

// HasWidget reports whether any widget connection is in the conversation room.
func (r *ClientRegistry) HasWidget(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[conversationID] {
		if !c.IsAgent() {
			return true
		}
	}
	return false
}

// SendRoom sends an event to every client in a conversation room.
func (r *ClientRegistry) SendRoom(conversationID, event string, payload any, seq int64) int {
	return r.sendTo(r.snapshot(func(add func(*Client)) {
		for _, c := range r.rooms[conversationID] {
			add(c)
		}
	}), event, payload, seq)
}

// SendAgents sends an event to every connected agent.
func (r *ClientRegistry) SendAgents(event string, payload any, seq int64) int {
	return r.sendTo(r.snapshot(func(add func(*Client)) {
		for _, c := range r.clients {
			if c.IsAgent() {
				add(c)
			}
		}
	}), event, payload, seq)
}

// Broadcast sends an event frame to all connected clients.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	return r.sendTo(r.snapshot(func(add func(*Client)) {
		for _, c := range r.clients {
			add(c)
		}
	}), event, payload, seq)
}

// snapshot collects targets under the read lock so sends never hold it.
func (r *ClientRegistry) snapshot(each func(add func(*Client))) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	each(func(c *Client) { out = append(out, c) })
	return out
}

func (r *ClientRegistry) sendTo(targets []*Client, event string, payload any, seq int64) int {
	sent := 0
	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("event send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
	r.rooms = make(map[string]map[string]*Client)
	r.joined = make(map[string]map[string]bool)
}
