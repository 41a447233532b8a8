package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrSendInFlight     = errors.New("a send is already in flight")
)

// MaxMessageLength bounds one chat message, counted in runes.
const MaxMessageLength = 5000

type ConversationStatus string

const (
	StatusOpen    ConversationStatus = "open"
	StatusPending ConversationStatus = "pending"
	StatusClosed  ConversationStatus = "closed"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Conversation is a support thread. The backend guarantees exactly one
// conversation per customer; the client only ever fetches, it never
// creates a second one for the same customer.
type Conversation struct {
	ID            string             `json:"id"`
	Status        ConversationStatus `json:"status"`
	CustomerID    string             `json:"customerId"`
	LastMessage   string             `json:"lastMessage,omitempty"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	UnreadCount   int                `json:"unreadCount"`
}

// Message is one chat message. Temp marks a locally-synthesized entry
// that has not been confirmed yet; TempID is the only key reconciliation
// may match on, never the message text, since two distinct messages can
// be textually identical.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderRole     string    `json:"senderRole"`
	Message        string    `json:"message"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
	TempID         string    `json:"tempId,omitempty"`
	Temp           bool      `json:"-"`
}

// NewTempID yields a locally-unique id for an optimistic message. The
// timestamp plus random suffix keeps two rapid sends from the same
// client distinct during reconciliation.
func NewTempID() string {
	return fmt.Sprintf("tmp-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Reconcile folds an incoming confirmed message into the list:
// a matching ID updates in place, a matching TempID replaces the temp
// entry, anything else appends. Exactly one entry per logical message
// survives any interleaving of optimistic send and realtime echo.
func Reconcile(messages []Message, incoming Message) []Message {
	if incoming.ID != "" {
		for i, m := range messages {
			if m.ID == incoming.ID {
				messages[i] = incoming
				return messages
			}
		}
	}
	if incoming.TempID != "" {
		for i, m := range messages {
			if m.Temp && m.TempID == incoming.TempID {
				messages[i] = incoming
				return messages
			}
		}
	}
	return append(messages, incoming)
}
