package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/realtime"
)

// AuthState is the slice of the auth container the chat needs.
type AuthState interface {
	IsAuthenticated() bool
	UserID() string
}

// Store is the customer-side support chat container. It manages exactly
// one conversation: fetch-or-absent, optimistic send, realtime stream
// and read tracking.
type Store struct {
	mu     sync.Mutex
	client *api.Client
	auth   AuthState
	rt     *realtime.Manager
	log    *zap.Logger

	conversation *Conversation
	messages     []Message
	unreadCount  int
	adminTyping  bool
	loading      bool
	sending      bool
	lastErr      string
	isSubscribed bool
	subs         []realtime.Subscription
}

func NewStore(client *api.Client, auth AuthState, rt *realtime.Manager, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, auth: auth, rt: rt, log: log}
}

type conversationResponse struct {
	Conversation *Conversation `json:"conversation"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type sendResponse struct {
	Message      Message       `json:"message"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

type unreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// Initialize fetches the conversation if one exists, loads its messages
// and subscribes to realtime. The state machine runs
// no-conversation -> conversation-without-messages -> live.
func (s *Store) Initialize(ctx context.Context) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	var convRes conversationResponse
	if err := s.client.Get(ctx, "/chat/conversation", &convRes); err != nil {
		s.setErr(err)
		return err
	}

	if convRes.Conversation != nil {
		var msgRes messagesResponse
		if err := s.client.Get(ctx, "/chat/messages?limit=50", &msgRes); err != nil {
			s.setErr(err)
			return err
		}
		var unread unreadResponse
		if err := s.client.Get(ctx, "/chat/unread-count", &unread); err != nil {
			s.log.Warn("unread count fetch failed", zap.Error(err))
		}
		s.mu.Lock()
		s.conversation = convRes.Conversation
		s.messages = msgRes.Messages
		s.unreadCount = unread.UnreadCount
		s.lastErr = ""
		s.mu.Unlock()
	}

	return s.Subscribe(ctx)
}

// Subscribe is idempotent: a second call while subscribed is a no-op.
func (s *Store) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.isSubscribed {
		s.mu.Unlock()
		return nil
	}
	s.isSubscribed = true
	convID := ""
	if s.conversation != nil {
		convID = s.conversation.ID
	}
	s.mu.Unlock()

	if err := s.rt.Connect(ctx, realtime.Credentials{UserID: s.auth.UserID(), Role: RoleUser}); err != nil {
		s.mu.Lock()
		s.isSubscribed = false
		s.mu.Unlock()
		s.setErr(err)
		return err
	}

	subs := []realtime.Subscription{
		s.rt.Subscribe(realtime.EventMessageReceived, s.onMessageReceived),
		s.rt.Subscribe(realtime.EventConversationUpdated, s.onConversationUpdated),
		s.rt.Subscribe(realtime.EventMessagesMarkedRead, s.onMessagesMarkedRead),
		s.rt.Subscribe(realtime.EventUserTyping, s.onUserTyping),
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()

	if convID != "" {
		if err := s.rt.JoinConversation(convID); err != nil {
			s.log.Warn("join conversation", zap.Error(err))
		}
	}
	return nil
}

// Unsubscribe removes exactly the handlers this container registered
// and leaves the room. Other subscribers of the shared connection are
// untouched.
func (s *Store) Unsubscribe() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.isSubscribed = false
	convID := ""
	if s.conversation != nil {
		convID = s.conversation.ID
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.rt.Unsubscribe(sub)
	}
	if convID != "" {
		_ = s.rt.LeaveConversation(convID)
	}
}

// SendMessage appends an optimistic temp message, posts it, and
// reconciles the confirmation by TempID. On failure the temp entry is
// removed; an unconfirmed message is never left rendered as sent.
func (s *Store) SendMessage(ctx context.Context, content string) (*Message, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending = true
	prevConvID := ""
	if s.conversation != nil {
		prevConvID = s.conversation.ID
	}
	temp := Message{
		TempID:         NewTempID(),
		Temp:           true,
		ConversationID: prevConvID,
		SenderID:       s.auth.UserID(),
		SenderRole:     RoleUser,
		Message:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages = append(s.messages, temp)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	payload := map[string]string{"message": content, "tempId": temp.TempID}
	var res sendResponse
	if err := s.client.Post(ctx, "/chat/messages", payload, &res); err != nil {
		s.removeTemp(temp.TempID)
		s.setErr(err)
		return nil, err
	}

	s.mu.Lock()
	if res.Message.TempID == "" {
		res.Message.TempID = temp.TempID
	}
	s.messages = Reconcile(s.messages, res.Message)
	newConvID := prevConvID
	if res.Conversation != nil {
		s.conversation = res.Conversation
		newConvID = res.Conversation.ID
	}
	s.lastErr = ""
	s.mu.Unlock()

	// the first message creates the conversation server-side; the room
	// subscription has to follow the new id
	if newConvID != prevConvID {
		if prevConvID != "" {
			_ = s.rt.LeaveConversation(prevConvID)
		}
		if err := s.rt.JoinConversation(newConvID); err != nil {
			s.log.Warn("join conversation", zap.Error(err))
		}
	}

	confirmed := res.Message
	return &confirmed, nil
}

// MarkAsRead flips admin-authored messages to read. A zero unread count
// short-circuits without a network call.
func (s *Store) MarkAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.unreadCount == 0 {
		s.mu.Unlock()
		return nil
	}
	convID := ""
	if s.conversation != nil {
		convID = s.conversation.ID
	}
	s.mu.Unlock()

	if err := s.client.Put(ctx, "/chat/messages/mark-read", nil, nil); err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].SenderRole == RoleAdmin {
			s.messages[i].IsRead = true
		}
	}
	s.unreadCount = 0
	s.lastErr = ""
	s.mu.Unlock()

	if convID != "" {
		_ = s.rt.MarkRead(convID)
	}
	return nil
}

func (s *Store) SendTyping(isTyping bool) {
	s.mu.Lock()
	convID := ""
	if s.conversation != nil {
		convID = s.conversation.ID
	}
	s.mu.Unlock()
	if convID != "" {
		_ = s.rt.SendTyping(convID, isTyping)
	}
}

type inboundMessage struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

func (s *Store) onMessageReceived(data json.RawMessage) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Warn("bad message_received payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation == nil || in.ConversationID != s.conversation.ID {
		return
	}
	before := len(s.messages)
	s.messages = Reconcile(s.messages, in.Message)
	appended := len(s.messages) > before
	s.conversation.LastMessage = in.Message.Message
	s.conversation.LastMessageAt = in.Message.CreatedAt
	if appended && in.Message.SenderRole == RoleAdmin {
		s.unreadCount++
	}
}

func (s *Store) onConversationUpdated(data json.RawMessage) {
	var in struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation != nil && s.conversation.ID == in.Conversation.ID {
		s.conversation = &in.Conversation
	}
}

func (s *Store) onMessagesMarkedRead(data json.RawMessage) {
	var in struct {
		UserID         string `json:"userId"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation == nil || in.ConversationID != s.conversation.ID {
		return
	}
	// the admin read our messages
	for i := range s.messages {
		if s.messages[i].SenderRole == RoleUser {
			s.messages[i].IsRead = true
		}
	}
}

func (s *Store) onUserTyping(data json.RawMessage) {
	var in struct {
		UserID   string `json:"userId"`
		UserRole string `json:"userRole"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.UserRole == RoleAdmin {
		s.adminTyping = in.IsTyping
	}
}

func (s *Store) removeTemp(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.Temp && m.TempID == tempID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Store) Conversation() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation == nil {
		return nil
	}
	copied := *s.conversation
	return &copied
}

func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCount
}

func (s *Store) AdminTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminTyping
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Store) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSubscribed
}

func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reset clears the subscription and returns every field to its initial
// value.
func (s *Store) Reset() {
	s.Unsubscribe()
	s.mu.Lock()
	s.conversation = nil
	s.messages = nil
	s.unreadCount = 0
	s.adminTyping = false
	s.loading = false
	s.sending = false
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}
