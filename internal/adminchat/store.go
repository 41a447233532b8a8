package adminchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/chat"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/realtime"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAdmin         = errors.New("admin role required")
)

const defaultPageSize = 20

// AuthState is the slice of the auth container the admin chat needs.
type AuthState interface {
	IsAuthenticated() bool
	UserID() string
	Role() string
}

// Filter narrows the conversation list server-side.
type Filter struct {
	Status string
	Search string
}

// Pagination mirrors the list endpoint's paging block.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Store is the admin-side chat container: the list of all customer
// conversations with realtime fan-in, plus the message stream of the
// selected one. Selection is guarded by a monotonic token so a slow
// fetch for a previously selected conversation can never overwrite the
// view of the current one.
type Store struct {
	mu     sync.Mutex
	client *api.Client
	auth   AuthState
	rt     *realtime.Manager
	log    *zap.Logger

	conversations  []chat.Conversation
	selected       *chat.Conversation
	messages       []chat.Message
	pagination     Pagination
	filter         Filter
	unreadTotal    int
	customerTyping bool
	loading        bool
	sending        bool
	lastErr        string
	isSubscribed   bool
	subs           []realtime.Subscription
	selectionGen   int
}

func NewStore(client *api.Client, auth AuthState, rt *realtime.Manager, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, auth: auth, rt: rt, log: log}
}

func (s *Store) requireAdmin() error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if s.auth.Role() != chat.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

type conversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
	Pagination    Pagination          `json:"pagination"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type sendResponse struct {
	Message chat.Message `json:"message"`
}

// SetFilter changes the server-side filter for subsequent fetches.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// FetchConversations loads one page of the (filtered) conversation list
// and subscribes to realtime exactly once, after the first successful
// fetch.
func (s *Store) FetchConversations(ctx context.Context, page int) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	s.loading = true
	f := s.filter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(defaultPageSize))
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}

	var res conversationsResponse
	if err := s.client.Get(ctx, "/admin/chat/conversations?"+q.Encode(), &res); err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.conversations = res.Conversations
	s.pagination = res.Pagination
	s.unreadTotal = sumUnread(res.Conversations)
	s.lastErr = ""
	s.mu.Unlock()

	return s.subscribe(ctx)
}

// subscribe is idempotent; only the first call after a fetch registers
// handlers and connects.
func (s *Store) subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.isSubscribed {
		s.mu.Unlock()
		return nil
	}
	s.isSubscribed = true
	s.mu.Unlock()

	creds := realtime.Credentials{UserID: s.auth.UserID(), Role: chat.RoleAdmin}
	if err := s.rt.Connect(ctx, creds); err != nil {
		s.mu.Lock()
		s.isSubscribed = false
		s.mu.Unlock()
		s.setErr(err)
		return err
	}

	subs := []realtime.Subscription{
		s.rt.Subscribe(realtime.EventMessageReceived, s.onMessageReceived),
		s.rt.Subscribe(realtime.EventNewConversation, s.onNewConversation),
		s.rt.Subscribe(realtime.EventConversationUpdated, s.onConversationUpdated),
		s.rt.Subscribe(realtime.EventMessagesMarkedRead, s.onMessagesMarkedRead),
		s.rt.Subscribe(realtime.EventUserTyping, s.onUserTyping),
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	return nil
}

// Unsubscribe removes exactly the handlers this container registered.
func (s *Store) Unsubscribe() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.isSubscribed = false
	selectedID := ""
	if s.selected != nil {
		selectedID = s.selected.ID
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.rt.Unsubscribe(sub)
	}
	if selectedID != "" {
		_ = s.rt.LeaveConversation(selectedID)
	}
}

// SelectConversation switches the active conversation: leave the old
// room, join the new one, fetch its messages and mark it read. Every
// async continuation compares its captured token against the current
// one and discards its result when a newer selection superseded it.
func (s *Store) SelectConversation(ctx context.Context, conv chat.Conversation) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}

	s.mu.Lock()
	s.selectionGen++
	token := s.selectionGen
	prev := s.selected
	copied := conv
	s.selected = &copied
	s.messages = nil
	s.customerTyping = false
	s.mu.Unlock()

	if prev != nil && prev.ID != conv.ID {
		_ = s.rt.LeaveConversation(prev.ID)
	}
	if err := s.rt.JoinConversation(conv.ID); err != nil {
		s.log.Warn("join conversation", zap.Error(err))
	}

	var res messagesResponse
	err := s.client.Get(ctx, "/admin/chat/conversations/"+conv.ID+"/messages?limit=100", &res)

	s.mu.Lock()
	if token != s.selectionGen {
		// a newer selection owns the view now; drop this result
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.lastErr = err.Error()
		s.mu.Unlock()
		return err
	}
	s.messages = res.Messages
	s.lastErr = ""
	needsRead := conv.UnreadCount > 0
	s.mu.Unlock()

	if needsRead {
		if err := s.markConversationRead(ctx, conv.ID, token); err != nil {
			s.log.Warn("mark conversation read", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) markConversationRead(ctx context.Context, conversationID string, token int) error {
	if err := s.client.Put(ctx, "/admin/chat/conversations/"+conversationID+"/mark-read", nil, nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.selectionGen {
		return nil
	}
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount = 0
		}
	}
	if s.selected != nil && s.selected.ID == conversationID {
		s.selected.UnreadCount = 0
	}
	for i := range s.messages {
		if s.messages[i].SenderRole == chat.RoleUser {
			s.messages[i].IsRead = true
		}
	}
	// recalculated locally, not refetched
	s.unreadTotal = sumUnread(s.conversations)
	return nil
}

// SendMessage posts an admin reply into the selected conversation with
// the same optimistic temp-message reconciliation the customer side
// uses.
func (s *Store) SendMessage(ctx context.Context, content string) (*chat.Message, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, chat.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > chat.MaxMessageLength {
		return nil, chat.ErrMessageTooLong
	}

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return nil, errors.New("no conversation selected")
	}
	if s.sending {
		s.mu.Unlock()
		return nil, chat.ErrSendInFlight
	}
	s.sending = true
	convID := s.selected.ID
	temp := chat.Message{
		TempID:         chat.NewTempID(),
		Temp:           true,
		ConversationID: convID,
		SenderID:       s.auth.UserID(),
		SenderRole:     chat.RoleAdmin,
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

	payload := map[string]string{
		"conversationId": convID,
		"message":        content,
		"tempId":         temp.TempID,
	}
	var res sendResponse
	if err := s.client.Post(ctx, "/admin/chat/messages", payload, &res); err != nil {
		s.removeTemp(temp.TempID)
		s.setErr(err)
		return nil, err
	}

	s.mu.Lock()
	if res.Message.TempID == "" {
		res.Message.TempID = temp.TempID
	}
	s.messages = chat.Reconcile(s.messages, res.Message)
	s.touchConversationLocked(convID, res.Message)
	s.lastErr = ""
	s.mu.Unlock()

	confirmed := res.Message
	return &confirmed, nil
}

// UpdateConversationStatus moves a conversation between open, pending
// and closed.
func (s *Store) UpdateConversationStatus(ctx context.Context, conversationID string, status chat.ConversationStatus) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	payload := map[string]string{"status": string(status)}
	var updated chat.Conversation
	if err := s.client.Put(ctx, "/admin/chat/conversations/"+conversationID+"/status", payload, &updated); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.replaceConversationLocked(updated)
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) SendTyping(isTyping bool) {
	s.mu.Lock()
	convID := ""
	if s.selected != nil {
		convID = s.selected.ID
	}
	s.mu.Unlock()
	if convID != "" {
		_ = s.rt.SendTyping(convID, isTyping)
	}
}

type inboundMessage struct {
	Message        chat.Message `json:"message"`
	ConversationID string       `json:"conversationId"`
}

func (s *Store) onMessageReceived(data json.RawMessage) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Warn("bad message_received payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected != nil && s.selected.ID == in.ConversationID {
		s.messages = chat.Reconcile(s.messages, in.Message)
	}
	if in.Message.SenderRole == chat.RoleUser {
		for i := range s.conversations {
			if s.conversations[i].ID == in.ConversationID {
				s.conversations[i].UnreadCount++
			}
		}
		s.unreadTotal++
	}
	s.touchConversationLocked(in.ConversationID, in.Message)
}

func (s *Store) onNewConversation(data json.RawMessage) {
	var in struct {
		Conversation chat.Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == in.Conversation.ID {
			return
		}
	}
	s.conversations = append(s.conversations, in.Conversation)
	s.sortConversationsLocked()
	s.unreadTotal = sumUnread(s.conversations)
}

func (s *Store) onConversationUpdated(data json.RawMessage) {
	var in struct {
		Conversation chat.Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceConversationLocked(in.Conversation)
	s.unreadTotal = sumUnread(s.conversations)
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
	if s.selected == nil || s.selected.ID != in.ConversationID {
		return
	}
	// the customer read our replies
	for i := range s.messages {
		if s.messages[i].SenderRole == chat.RoleAdmin {
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
	if in.UserRole == chat.RoleUser {
		s.customerTyping = in.IsTyping
	}
}

// touchConversationLocked updates a list entry's last-message fields in
// place and re-sorts; no refetch.
func (s *Store) touchConversationLocked(conversationID string, msg chat.Message) {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].LastMessage = msg.Message
			s.conversations[i].LastMessageAt = msg.CreatedAt
		}
	}
	if s.selected != nil && s.selected.ID == conversationID {
		s.selected.LastMessage = msg.Message
		s.selected.LastMessageAt = msg.CreatedAt
	}
	s.sortConversationsLocked()
}

func (s *Store) replaceConversationLocked(conv chat.Conversation) {
	found := false
	for i := range s.conversations {
		if s.conversations[i].ID == conv.ID {
			s.conversations[i] = conv
			found = true
		}
	}
	if !found {
		s.conversations = append(s.conversations, conv)
	}
	if s.selected != nil && s.selected.ID == conv.ID {
		copied := conv
		s.selected = &copied
	}
	s.sortConversationsLocked()
}

func (s *Store) sortConversationsLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].LastMessageAt.After(s.conversations[j].LastMessageAt)
	})
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

func (s *Store) Conversations() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *Store) Selected() *chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	copied := *s.selected
	return &copied
}

func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Pagination() Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination
}

// UnreadTotal is the running sum across all conversations.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadTotal
}

// CustomerTyping reports whether the customer in the selected
// conversation is currently typing.
func (s *Store) CustomerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerTyping
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
	s.conversations = nil
	s.selected = nil
	s.messages = nil
	s.pagination = Pagination{}
	s.filter = Filter{}
	s.unreadTotal = 0
	s.customerTyping = false
	s.loading = false
	s.sending = false
	s.lastErr = ""
	s.selectionGen = 0
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func sumUnread(convs []chat.Conversation) int {
	total := 0
	for _, c := range convs {
		total += c.UnreadCount
	}
	return total
}
