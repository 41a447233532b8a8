package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/realtime"
)

type fakeAuth struct {
	authed bool
	userID string
}

func (f *fakeAuth) IsAuthenticated() bool { return f.authed }
func (f *fakeAuth) UserID() string        { return f.userID }

// wsAcceptor accepts upgrades and swallows inbound frames so Connect and
// the room signals succeed.
func wsAcceptor(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendMessageValidation(t *testing.T) {
	client := api.NewClient("http://localhost", nil)
	rt := realtime.NewManager("ws://localhost:1", nil)

	guest := NewStore(client, &fakeAuth{authed: false}, rt, nil)
	if _, err := guest.SendMessage(context.Background(), "hi"); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)
	if _, err := s.SendMessage(context.Background(), "   "); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage for whitespace, got %v", err)
	}
	if _, err := s.SendMessage(context.Background(), strings.Repeat("x", MaxMessageLength+1)); err != ErrMessageTooLong {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}

	// length is counted in runes, not bytes
	long := strings.Repeat("ä", MaxMessageLength)
	s2 := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)
	s2.sending = true
	if _, err := s2.SendMessage(context.Background(), long); err != ErrSendInFlight {
		t.Fatalf("expected ErrSendInFlight (rune-length message accepted), got %v", err)
	}
}

func TestSendMessageReconcilesByTempID(t *testing.T) {
	var gotTempID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/messages" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"not found"}`))
			return
		}
		var body struct {
			Message string `json:"message"`
			TempID  string `json:"tempId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotTempID = body.TempID
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"message": Message{
				ID: "m1", ConversationID: "c1", SenderID: "u1",
				SenderRole: RoleUser, Message: body.Message, TempID: body.TempID,
				CreatedAt: time.Now().UTC(),
			},
			"conversation": Conversation{ID: "c1", Status: StatusOpen, CustomerID: "u1"},
		})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	rt := realtime.NewManager("ws://localhost:1", nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	msg, err := s.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("expected confirmed id, got %q", msg.ID)
	}
	if gotTempID == "" {
		t.Fatalf("expected tempId sent to the server")
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message after reconcile, got %d", len(msgs))
	}
	if msgs[0].Temp {
		t.Fatalf("expected temp entry replaced by confirmation")
	}
	if conv := s.Conversation(); conv == nil || conv.ID != "c1" {
		t.Fatalf("expected conversation adopted from the send response, got %+v", conv)
	}
}

func TestSendMessageFailureRemovesTemp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	rt := realtime.NewManager("ws://localhost:1", nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	if _, err := s.SendMessage(context.Background(), "hello"); err == nil {
		t.Fatalf("expected send error")
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("expected temp message removed on failure, got %d messages", got)
	}
}

func TestRealtimeEchoDoesNotDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			TempID  string `json:"tempId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"message": Message{
				ID: "m1", ConversationID: "c1", SenderID: "u1",
				SenderRole: RoleUser, Message: body.Message, TempID: body.TempID,
			},
			"conversation": Conversation{ID: "c1", CustomerID: "u1"},
		})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	rt := realtime.NewManager("ws://localhost:1", nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	if _, err := s.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// the websocket echo of our own message arrives after the HTTP
	// confirmation; same id, must not duplicate
	echo, _ := json.Marshal(map[string]any{
		"message":        Message{ID: "m1", ConversationID: "c1", SenderID: "u1", SenderRole: RoleUser, Message: "hello"},
		"conversationId": "c1",
	})
	s.onMessageReceived(echo)

	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected one message after echo, got %d", got)
	}
	if s.UnreadCount() != 0 {
		t.Fatalf("own message must not count as unread, got %d", s.UnreadCount())
	}
}

func TestIncomingAdminMessageIncrementsUnread(t *testing.T) {
	client := api.NewClient("http://localhost", nil)
	rt := realtime.NewManager("ws://localhost:1", nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)
	s.conversation = &Conversation{ID: "c1", CustomerID: "u1"}

	payload, _ := json.Marshal(map[string]any{
		"message":        Message{ID: "m2", ConversationID: "c1", SenderID: "adm", SenderRole: RoleAdmin, Message: "hi"},
		"conversationId": "c1",
	})
	s.onMessageReceived(payload)

	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected one message, got %d", got)
	}
	if s.UnreadCount() != 1 {
		t.Fatalf("expected unread count 1, got %d", s.UnreadCount())
	}

	// a message for a different conversation is ignored
	other, _ := json.Marshal(map[string]any{
		"message":        Message{ID: "m3", ConversationID: "c9", SenderRole: RoleAdmin, Message: "spam"},
		"conversationId": "c9",
	})
	s.onMessageReceived(other)
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected foreign-conversation message ignored, got %d", got)
	}
}

func TestMarkAsReadShortCircuitsAtZero(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	rt := realtime.NewManager("ws://localhost:1", nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	if err := s.MarkAsRead(context.Background()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if called {
		t.Fatalf("expected no network call with zero unread")
	}

	s.conversation = &Conversation{ID: "c1"}
	s.unreadCount = 2
	s.messages = []Message{
		{ID: "m1", SenderRole: RoleAdmin},
		{ID: "m2", SenderRole: RoleUser},
	}
	if err := s.MarkAsRead(context.Background()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !called {
		t.Fatalf("expected network call with unread messages")
	}
	if s.UnreadCount() != 0 {
		t.Fatalf("expected unread reset, got %d", s.UnreadCount())
	}
	msgs := s.Messages()
	if !msgs[0].IsRead {
		t.Fatalf("expected admin message flipped to read")
	}
	if msgs[1].IsRead {
		t.Fatalf("own message must not be flipped by our read")
	}
}

func TestInitializeLoadsConversationAndSubscribes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/conversation":
			json.NewEncoder(w).Encode(map[string]any{
				"conversation": Conversation{ID: "c1", Status: StatusOpen, CustomerID: "u1", UnreadCount: 1},
			})
		case "/chat/messages":
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []Message{{ID: "m1", ConversationID: "c1", SenderRole: RoleAdmin, Message: "hi"}},
			})
		case "/chat/unread-count":
			json.NewEncoder(w).Encode(map[string]int{"unreadCount": 1})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	rt := realtime.NewManager(wsAcceptor(t), nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if conv := s.Conversation(); conv == nil || conv.ID != "c1" {
		t.Fatalf("expected conversation loaded, got %+v", conv)
	}
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected messages loaded, got %d", got)
	}
	if s.UnreadCount() != 1 {
		t.Fatalf("expected unread count 1, got %d", s.UnreadCount())
	}
	if !s.IsSubscribed() {
		t.Fatalf("expected subscribed after initialize")
	}

	// a second subscribe is a no-op
	if err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
}

func TestResetClearsEverything(t *testing.T) {
	client := api.NewClient("http://localhost", nil)
	rt := realtime.NewManager(wsAcceptor(t), nil)
	s := NewStore(client, &fakeAuth{authed: true, userID: "u1"}, rt, nil)

	if err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.mu.Lock()
	s.conversation = &Conversation{ID: "c1"}
	s.messages = []Message{{ID: "m1"}}
	s.unreadCount = 3
	s.lastErr = "old error"
	s.mu.Unlock()

	s.Reset()

	if s.Conversation() != nil {
		t.Fatalf("expected conversation cleared")
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("expected messages cleared")
	}
	if s.UnreadCount() != 0 || s.Err() != "" {
		t.Fatalf("expected counters and error cleared")
	}
	if s.IsSubscribed() {
		t.Fatalf("expected unsubscribed after reset")
	}
}

func TestReconcileAppendsUnknownMessages(t *testing.T) {
	msgs := []Message{{ID: "m1", Message: "same text"}}
	// identical text but a different id is a distinct message
	msgs = Reconcile(msgs, Message{ID: "m2", Message: "same text"})
	if len(msgs) != 2 {
		t.Fatalf("expected append for unknown id, got %d entries", len(msgs))
	}

	// a confirmation replaces its temp by TempID
	msgs = []Message{{TempID: "t1", Temp: true, Message: "hello"}}
	msgs = Reconcile(msgs, Message{ID: "m3", TempID: "t1", Message: "hello"})
	if len(msgs) != 1 || msgs[0].ID != "m3" || msgs[0].Temp {
		t.Fatalf("expected temp replaced, got %+v", msgs)
	}
}
