package stub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/chat"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/realtime"
)

// Hub is the stub realtime gateway: one goroutine per connection
// reading, one writing through a buffered channel. A slow client drops
// frames instead of blocking the broadcast path.
type Hub struct {
	mu       sync.RWMutex
	log      *zap.Logger
	upgrader websocket.Upgrader
	clients  map[*wsClient]bool
	rooms    map[string]map[*wsClient]bool
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan realtime.Event
	userID string
	role   string
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
		rooms:   make(map[string]map[*wsClient]bool),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		conn:   conn,
		send:   make(chan realtime.Event, 32),
		userID: r.URL.Query().Get("userId"),
		role:   r.URL.Query().Get("role"),
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	h.readPump(c)
}

func (c *wsClient) writePump() {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer h.drop(c)
	for {
		var ev realtime.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		h.handle(c, ev)
	}
}

func (h *Hub) handle(c *wsClient, ev realtime.Event) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		IsTyping       bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return
	}

	switch ev.Name {
	case "join_conversation":
		h.mu.Lock()
		if h.rooms[payload.ConversationID] == nil {
			h.rooms[payload.ConversationID] = make(map[*wsClient]bool)
		}
		h.rooms[payload.ConversationID][c] = true
		h.mu.Unlock()
	case "leave_conversation":
		h.mu.Lock()
		delete(h.rooms[payload.ConversationID], c)
		h.mu.Unlock()
	case "typing":
		h.broadcastRoom(payload.ConversationID, c, event(realtime.EventUserTyping, map[string]any{
			"userId":   c.userID,
			"userRole": c.role,
			"isTyping": payload.IsTyping,
		}))
	case "mark_read":
		h.broadcastRoom(payload.ConversationID, c, event(realtime.EventMessagesMarkedRead, map[string]string{
			"userId":         c.userID,
			"conversationId": payload.ConversationID,
		}))
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	for _, room := range h.rooms {
		delete(room, c)
	}
	h.mu.Unlock()
	close(c.send)
	c.conn.Close()
}

// BroadcastMessage fans a confirmed chat message out to the
// conversation room and, for customer messages, to every admin.
func (h *Hub) BroadcastMessage(conversationID string, msg chat.Message) {
	ev := event(realtime.EventMessageReceived, map[string]any{
		"message":        msg,
		"conversationId": conversationID,
	})
	h.broadcastRoom(conversationID, nil, ev)
	if msg.SenderRole == chat.RoleUser {
		h.broadcastAdminsOutsideRoom(conversationID, ev)
	}
}

func (h *Hub) BroadcastNewConversation(conv chat.Conversation) {
	h.broadcastAdmins(event(realtime.EventNewConversation, map[string]any{"conversation": conv}))
}

func (h *Hub) BroadcastConversationUpdated(conv chat.Conversation) {
	h.broadcastAdmins(event(realtime.EventConversationUpdated, map[string]any{"conversation": conv}))
}

func (h *Hub) BroadcastMarkedRead(conversationID, userID string) {
	h.broadcastRoom(conversationID, nil, event(realtime.EventMessagesMarkedRead, map[string]string{
		"userId":         userID,
		"conversationId": conversationID,
	}))
}

func (h *Hub) broadcastRoom(conversationID string, except *wsClient, ev realtime.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[conversationID] {
		if c == except {
			continue
		}
		h.offer(c, ev)
	}
}

func (h *Hub) broadcastAdmins(ev realtime.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.role == chat.RoleAdmin {
			h.offer(c, ev)
		}
	}
}

// broadcastAdminsOutsideRoom avoids double delivery to admins already
// joined to the room.
func (h *Hub) broadcastAdminsOutsideRoom(conversationID string, ev realtime.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[conversationID]
	for c := range h.clients {
		if c.role != chat.RoleAdmin {
			continue
		}
		if room != nil && room[c] {
			continue
		}
		h.offer(c, ev)
	}
}

func (h *Hub) offer(c *wsClient, ev realtime.Event) {
	select {
	case c.send <- ev:
	default:
		h.log.Warn("dropping frame for slow client", zap.String("userId", c.userID))
	}
}

func event(name string, v any) realtime.Event {
	raw, _ := json.Marshal(v)
	return realtime.Event{Name: name, Data: raw}
}
