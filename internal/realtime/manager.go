package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("realtime: not connected")

// Status observed by the chat containers. disconnected and error are
// equally "not live"; nothing buffered survives either.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Synthetic events dispatched alongside server events.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Server event names.
const (
	EventMessageReceived     = "message_received"
	EventNewConversation     = "new_conversation"
	EventConversationUpdated = "conversation_updated"
	EventUserTyping          = "user_typing"
	EventMessagesMarkedRead  = "messages_marked_read"
)

// Credentials identify the connection; one identity per connection.
type Credentials struct {
	UserID string
	Role   string
}

// Event is the wire envelope in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type HandlerFunc func(data json.RawMessage)

// Subscription identifies one registered handler so unsubscribe removes
// exactly that handler and nothing else.
type Subscription struct {
	event string
	id    int
}

// Manager owns the single shared WebSocket connection per session and
// the room-scoped signaling primitives both chat containers use.
type Manager struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	url      string
	log      *zap.Logger
	conn     *websocket.Conn
	creds    Credentials
	status   Status
	handlers map[string]map[int]HandlerFunc
	nextID   int
	rooms    map[string]bool
	gen      int
}

func NewManager(wsURL string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		url:      wsURL,
		log:      log,
		status:   StatusDisconnected,
		handlers: make(map[string]map[int]HandlerFunc),
		rooms:    make(map[string]bool),
	}
}

// Connect establishes the connection for the given identity. Calling it
// again with the same identity while connected is a no-op; a different
// identity tears the old connection down first.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if m.conn != nil && m.status == StatusConnected && m.creds == creds {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.teardownLocked()
	}
	m.status = StatusConnecting
	m.creds = creds
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	q := url.Values{}
	q.Set("userId", creds.UserID)
	q.Set("role", creds.Role)
	target := m.url + "?" + q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		m.mu.Lock()
		if gen == m.gen {
			m.status = StatusError
		}
		m.mu.Unlock()
		m.dispatch(EventConnectError, nil)
		return fmt.Errorf("realtime: dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	if gen != m.gen {
		// a newer Connect/Disconnect superseded this dial
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.status = StatusConnected
	rooms := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		rooms = append(rooms, id)
	}
	m.mu.Unlock()

	go m.readPump(conn, gen)

	// rooms joined before a dropped connection are re-joined on the
	// fresh one; an explicit Disconnect cleared them instead
	for _, id := range rooms {
		if err := m.emit("join_conversation", map[string]string{"conversationId": id}); err != nil {
			m.log.Warn("rejoin conversation", zap.String("conversationId", id), zap.Error(err))
		}
	}
	m.dispatch(EventConnect, nil)
	return nil
}

// Disconnect tears down the active connection and clears room
// subscriptions. Handler registrations survive; they belong to the
// containers, not the connection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.status = StatusDisconnected
	m.mu.Unlock()
}

func (m *Manager) teardownLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.rooms = make(map[string]bool)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) JoinConversation(conversationID string) error {
	if err := m.emit("join_conversation", map[string]string{"conversationId": conversationID}); err != nil {
		return err
	}
	m.mu.Lock()
	m.rooms[conversationID] = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) LeaveConversation(conversationID string) error {
	m.mu.Lock()
	delete(m.rooms, conversationID)
	m.mu.Unlock()
	return m.emit("leave_conversation", map[string]string{"conversationId": conversationID})
}

// SendTyping is fire-and-forget; a failed write only reports the error.
func (m *Manager) SendTyping(conversationID string, isTyping bool) error {
	return m.emit("typing", map[string]any{"conversationId": conversationID, "isTyping": isTyping})
}

func (m *Manager) MarkRead(conversationID string) error {
	return m.emit("mark_read", map[string]string{"conversationId": conversationID})
}

// Subscribe registers a named event handler and returns the token that
// removes exactly this registration.
func (m *Manager) Subscribe(event string, fn HandlerFunc) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]HandlerFunc)
	}
	id := m.nextID
	m.nextID++
	m.handlers[event][id] = fn
	return Subscription{event: event, id: id}
}

// Unsubscribe removes the one handler the subscription refers to.
// Never a blanket removal: other registrations for the same event stay.
func (m *Manager) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hs, ok := m.handlers[sub.event]; ok {
		delete(hs, sub.id)
		if len(hs) == 0 {
			delete(m.handlers, sub.event)
		}
	}
}

func (m *Manager) emit(event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// gorilla allows one concurrent writer
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(Event{Name: event, Data: raw}); err != nil {
		return fmt.Errorf("realtime: emit %s: %w", event, err)
	}
	return nil
}

func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			m.mu.Lock()
			if gen != m.gen {
				// stale pump, a newer connection owns the state
				m.mu.Unlock()
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.status = StatusDisconnected
			} else {
				m.status = StatusError
			}
			m.conn = nil
			m.mu.Unlock()
			m.log.Debug("read loop ended", zap.Error(err))
			m.dispatch(EventDisconnect, nil)
			return
		}

		m.mu.Lock()
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.dispatch(ev.Name, ev.Data)
	}
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	fns := make([]HandlerFunc, 0, len(m.handlers[event]))
	for _, fn := range m.handlers[event] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}
