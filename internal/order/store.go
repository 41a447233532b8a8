package order

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
)

type AuthState interface {
	IsAuthenticated() bool
}

// Store is the order state container: paginated history, a single-order
// detail cache, and the cancellation-request workflow. A mutation to an
// order is merged into every cached view of it so a list screen and a
// detail screen never diverge.
type Store struct {
	mu     sync.RWMutex
	client *api.Client
	auth   AuthState
	log    *zap.Logger

	orders       []Order
	currentOrder *Order
	latestOrder  *Order
	pagination   Pagination
	pendingCount int
	lastErr      string
}

func NewStore(client *api.Client, auth AuthState, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, auth: auth, log: log}
}

type listResponse struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

func (s *Store) FetchOrders(ctx context.Context, page, limit int) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	s.begin()
	defer s.end()

	var res listResponse
	path := fmt.Sprintf("/orders?page=%d&limit=%d", page, limit)
	if err := s.client.Get(ctx, path, &res); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.orders = res.Orders
	s.pagination = res.Pagination
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	var ord Order
	if err := s.client.Get(ctx, "/orders/"+id, &ord); err != nil {
		s.setErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.currentOrder = &ord
	s.lastErr = ""
	s.mu.Unlock()
	copied := ord
	return &copied, nil
}

func (s *Store) FetchLatestOrder(ctx context.Context) (*Order, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	var ord Order
	if err := s.client.Get(ctx, "/orders/latest", &ord); err != nil {
		s.setErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.latestOrder = &ord
	s.lastErr = ""
	s.mu.Unlock()
	copied := ord
	return &copied, nil
}

// CreateRequest carries everything needed to place an order from the
// current cart. Clearing the cart afterwards is the caller's job and
// must be sequenced after this call returns, never concurrently.
type CreateRequest struct {
	AddressID     string `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`
	Note          string `json:"note,omitempty"`
	CouponCode    string `json:"couponCode,omitempty"`
}

func (s *Store) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	var ord Order
	if err := s.client.Post(ctx, "/orders", req, &ord); err != nil {
		s.setErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.latestOrder = &ord
	s.lastErr = ""
	s.mu.Unlock()
	copied := ord
	return &copied, nil
}

// RequestCancellation submits a cancellation request. The server
// decides the resulting status; the returned order is merged into the
// list and into any cached single-order view with the same id.
func (s *Store) RequestCancellation(ctx context.Context, id, reason string) (*Order, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	payload := map[string]string{"reason": reason}
	var ord Order
	if err := s.client.Post(ctx, "/orders/"+id+"/cancel", payload, &ord); err != nil {
		s.setErr(err)
		return nil, err
	}
	s.mergeOrder(ord)
	copied := ord
	return &copied, nil
}

func (s *Store) mergeOrder(ord Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == ord.ID {
			s.orders[i] = ord
		}
	}
	if s.currentOrder != nil && s.currentOrder.ID == ord.ID {
		copied := ord
		s.currentOrder = &copied
	}
	if s.latestOrder != nil && s.latestOrder.ID == ord.ID {
		copied := ord
		s.latestOrder = &copied
	}
	s.lastErr = ""
}

func (s *Store) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Store) CurrentOrder() *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentOrder == nil {
		return nil
	}
	copied := *s.currentOrder
	return &copied
}

func (s *Store) LatestOrder() *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latestOrder == nil {
		return nil
	}
	copied := *s.latestOrder
	return &copied
}

func (s *Store) Pagination() Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagination
}

func (s *Store) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingCount > 0
}

func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.orders = nil
	s.currentOrder = nil
	s.latestOrder = nil
	s.pagination = Pagination{}
	s.pendingCount = 0
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) begin() {
	s.mu.Lock()
	s.pendingCount++
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	s.pendingCount--
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}
