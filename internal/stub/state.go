package stub

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/address"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/auth"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/cart"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/chat"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/order"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Account is a stub user record.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	Role         string
	AvatarURL    string
}

// State is the stub backend's in-memory world. It exists for local
// development and tests; nothing here survives a restart.
type State struct {
	mu sync.Mutex

	accounts      map[string]*Account // by id
	carts         map[string][]cart.Item
	favorites     map[string][]favoriteItem
	addresses     map[string][]address.Address
	orders        map[string][]order.Order
	conversations map[string]*chat.Conversation // by customer id
	messages      map[string][]chat.Message     // by conversation id
	orderSeq      int
}

type favoriteItem struct {
	ProductID string    `json:"productId"`
	AddedAt   time.Time `json:"addedAt"`
}

func NewState() *State {
	return &State{
		accounts:      make(map[string]*Account),
		carts:         make(map[string][]cart.Item),
		favorites:     make(map[string][]favoriteItem),
		addresses:     make(map[string][]address.Address),
		orders:        make(map[string][]order.Order),
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

func (s *State) CreateAccount(email, passwordHash, fullName, role string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return nil, ErrEmailExists
		}
	}
	a := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
		Role:         role,
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *State) AccountByEmail(email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *State) Account(id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (s *State) Profile(id string) (*auth.Profile, error) {
	a, err := s.Account(id)
	if err != nil {
		return nil, err
	}
	return &auth.Profile{ID: a.ID, FullName: a.FullName, Role: a.Role, AvatarURL: a.AvatarURL}, nil
}

// Cart merges by variant like the real backend: one row per variant,
// re-adding increments.
func (s *State) Cart(userID string) []cart.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.Item(nil), s.carts[userID]...)
}

func (s *State) AddCartItem(userID, productID, variantID string, qty int, unitPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.carts[userID]
	for i := range items {
		if items[i].VariantID == variantID {
			items[i].Quantity += qty
			if items[i].Quantity <= 0 {
				items = append(items[:i], items[i+1:]...)
			}
			s.carts[userID] = items
			return
		}
	}
	if qty <= 0 {
		return
	}
	s.carts[userID] = append(items, cart.Item{
		ID:        uuid.NewString(),
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		AddedAt:   time.Now().UTC(),
	})
}

func (s *State) UpdateCartItem(userID, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.carts[userID]
	for i := range items {
		if items[i].ID == itemID {
			if qty <= 0 {
				items = append(items[:i], items[i+1:]...)
			} else {
				items[i].Quantity = qty
			}
			s.carts[userID] = items
			return nil
		}
	}
	return ErrNotFound
}

func (s *State) RemoveCartItem(userID, itemID string) error {
	return s.UpdateCartItem(userID, itemID, 0)
}

func (s *State) ClearCart(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}

func (s *State) Favorites(userID string) []favoriteItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]favoriteItem(nil), s.favorites[userID]...)
}

func (s *State) AddFavorite(userID, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.favorites[userID] {
		if f.ProductID == productID {
			return
		}
	}
	s.favorites[userID] = append(s.favorites[userID], favoriteItem{ProductID: productID, AddedAt: time.Now().UTC()})
}

func (s *State) RemoveFavorite(userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.favorites[userID]
	for i, f := range items {
		if f.ProductID == productID {
			s.favorites[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *State) Addresses(userID string) []address.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]address.Address(nil), s.addresses[userID]...)
}

func (s *State) CreateAddress(userID string, a address.Address) address.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	existing := s.addresses[userID]
	if a.IsDefault || len(existing) == 0 {
		a.IsDefault = true
		for i := range existing {
			existing[i].IsDefault = false
		}
	}
	s.addresses[userID] = append(existing, a)
	return a
}

func (s *State) UpdateAddress(userID, id string, a address.Address) (address.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.addresses[userID]
	for i := range items {
		if items[i].ID == id {
			a.ID = id
			if a.IsDefault {
				for j := range items {
					items[j].IsDefault = false
				}
			} else if items[i].IsDefault {
				// the single default cannot be unset by an update
				a.IsDefault = true
			}
			items[i] = a
			s.addresses[userID] = items
			return a, nil
		}
	}
	return address.Address{}, ErrNotFound
}

func (s *State) DeleteAddress(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.addresses[userID]
	for i := range items {
		if items[i].ID == id {
			wasDefault := items[i].IsDefault
			items = append(items[:i], items[i+1:]...)
			if wasDefault && len(items) > 0 {
				items[0].IsDefault = true
			}
			s.addresses[userID] = items
			return nil
		}
	}
	return ErrNotFound
}

func (s *State) SetDefaultAddress(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.addresses[userID]
	found := false
	for i := range items {
		items[i].IsDefault = items[i].ID == id
		if items[i].IsDefault {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// CreateOrder snapshots the user's cart into an immutable order.
func (s *State) CreateOrder(userID string, addr address.Address, paymentMethod, note string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.carts[userID]
	if len(items) == 0 {
		return order.Order{}, errors.New("empty cart")
	}
	lines := make([]order.Item, 0, len(items))
	for _, it := range items {
		lines = append(lines, order.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Product:   it.Product,
		})
	}
	s.orderSeq++
	subtotal := cart.Subtotal(items)
	ord := order.Order{
		ID:            uuid.NewString(),
		OrderNumber:   fmt.Sprintf("SO-%06d", s.orderSeq),
		Status:        order.StatusPending,
		Items:         lines,
		Subtotal:      subtotal,
		Total:         subtotal,
		Address:       addr,
		PaymentMethod: paymentMethod,
		Note:          note,
		PlacedAt:      time.Now().UTC(),
	}
	s.orders[userID] = append([]order.Order{ord}, s.orders[userID]...)
	return ord, nil
}

func (s *State) Orders(userID string, page, limit int) ([]order.Order, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.orders[userID]
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return append([]order.Order(nil), all[start:end]...), total
}

func (s *State) Order(userID, id string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders[userID] {
		if o.ID == id {
			return o, nil
		}
	}
	return order.Order{}, ErrNotFound
}

func (s *State) LatestOrder(userID string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.orders[userID]) == 0 {
		return order.Order{}, ErrNotFound
	}
	return s.orders[userID][0], nil
}

// CancelOrder records a cancellation request. Pending and confirmed
// orders are approved immediately in the stub; later stages stay in
// their status with the request flag set, awaiting the (simulated)
// admin decision.
func (s *State) CancelOrder(userID, id string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.orders[userID]
	for i := range orders {
		if orders[i].ID == id {
			orders[i].CancellationRequested = true
			if orders[i].Status == order.StatusPending || orders[i].Status == order.StatusConfirmed {
				orders[i].Status = order.StatusCancelled
				orders[i].CancellationApproved = true
			}
			return orders[i], nil
		}
	}
	return order.Order{}, ErrNotFound
}

// ConversationFor implements fetch-or-create: exactly one conversation
// per customer, created lazily on the first message.
func (s *State) ConversationFor(customerID string, create bool) (*chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[customerID]; ok {
		return conv, false
	}
	if !create {
		return nil, false
	}
	conv := &chat.Conversation{
		ID:            uuid.NewString(),
		Status:        chat.StatusOpen,
		CustomerID:    customerID,
		LastMessageAt: time.Now().UTC(),
	}
	s.conversations[customerID] = conv
	return conv, true
}

func (s *State) ConversationByID(id string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, ErrNotFound
}

// Conversations lists all threads, filtered and newest-first.
func (s *State) Conversations(status, search string, page, limit int) ([]chat.Conversation, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if status != "" && string(conv.Status) != status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(conv.LastMessage), strings.ToLower(search)) {
			continue
		}
		all = append(all, *conv)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastMessageAt.After(all[j].LastMessageAt)
	})
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total
}

// AppendMessage stores a confirmed message and updates the thread's
// last-message fields and unread counter.
func (s *State) AppendMessage(conv *chat.Conversation, msg chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.ConversationID = conv.ID
	msg.CreatedAt = time.Now().UTC()
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)
	conv.LastMessage = msg.Message
	conv.LastMessageAt = msg.CreatedAt
	if msg.SenderRole == chat.RoleUser {
		conv.UnreadCount++
	}
	return msg
}

func (s *State) Messages(conversationID string, limit int) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...)
}

// MarkMessagesRead flips the counterpart role's messages to read.
// readerRole user marks admin messages and vice versa.
func (s *State) MarkMessagesRead(conversationID, readerRole string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	counterpart := chat.RoleAdmin
	if readerRole == chat.RoleAdmin {
		counterpart = chat.RoleUser
	}
	for i := range msgs {
		if msgs[i].SenderRole == counterpart {
			msgs[i].IsRead = true
		}
	}
	for _, conv := range s.conversations {
		if conv.ID == conversationID && readerRole == chat.RoleAdmin {
			conv.UnreadCount = 0
		}
	}
}

// UnreadCount counts unread admin messages for the customer.
func (s *State) UnreadCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderRole == chat.RoleAdmin && !m.IsRead {
			n++
		}
	}
	return n
}

func (s *State) SetConversationStatus(id string, status chat.ConversationStatus) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ID == id {
			conv.Status = status
			return conv, nil
		}
	}
	return nil, ErrNotFound
}
