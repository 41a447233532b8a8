package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

// AuthState is the slice of the auth container the cart depends on.
type AuthState interface {
	IsAuthenticated() bool
}

// Store is the cart state container. It mirrors whichever backend is
// active: the server cart when authenticated, the guest cart otherwise.
type Store struct {
	mu    sync.RWMutex
	auth  AuthState
	rest  *restBackend
	guest *guestBackend
	log   *zap.Logger

	items        []Item
	pendingCount int
	lastErr      string
}

func NewStore(client *api.Client, auth AuthState, st *storage.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		auth:  auth,
		rest:  &restBackend{client: client},
		guest: &guestBackend{storage: st},
		log:   log,
	}
}

func (s *Store) backend() Backend {
	if s.auth.IsAuthenticated() {
		return s.rest
	}
	return s.guest
}

func (s *Store) FetchCart(ctx context.Context) error {
	s.begin()
	defer s.end()
	items, err := s.backend().Fetch(ctx)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

// AddItem adds qty of a variant. Re-adding an existing variant
// increments its quantity. Guest rows default unitPrice to 0; pricing
// is revalidated server-side at checkout.
func (s *Store) AddItem(ctx context.Context, productID, variantID string, qty int, unitPrice float64) error {
	if qty <= 0 {
		return nil
	}
	s.begin()
	defer s.end()
	items, err := s.backend().Add(ctx, productID, variantID, qty, unitPrice)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

// UpdateItemQuantity sets an item's quantity. A non-positive quantity
// removes the item; a zero-quantity row is never persisted.
func (s *Store) UpdateItemQuantity(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, itemID)
	}
	s.begin()
	defer s.end()
	items, err := s.backend().UpdateQuantity(ctx, itemID, qty)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, itemID string) error {
	s.begin()
	defer s.end()
	items, err := s.backend().Remove(ctx, itemID)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

func (s *Store) ClearCart(ctx context.Context) error {
	s.begin()
	defer s.end()
	if err := s.backend().Clear(ctx); err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(nil)
	return nil
}

type syncRequest struct {
	Items []Item `json:"items"`
}

// SyncCart pushes the guest items to the server in one call after
// login. It is a one-way push with no per-item merging; callers must
// invoke it before the first authenticated FetchCart so the local cart
// is not clobbered.
func (s *Store) SyncCart(ctx context.Context) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	local, _ := s.guest.Fetch(ctx)
	if len(local) == 0 {
		return nil
	}
	s.begin()
	defer s.end()
	if err := s.rest.client.Post(ctx, "/cart/sync", syncRequest{Items: local}, nil); err != nil {
		s.setErr(err)
		return err
	}
	// the server cart is authoritative from here on
	if err := s.guest.Clear(ctx); err != nil {
		s.log.Warn("clear guest cart after sync", zap.Error(err))
	}
	items, err := s.rest.Fetch(ctx)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyItems(s.items)
}

func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ItemCount(s.items)
}

func (s *Store) Subtotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Subtotal(s.items)
}

func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items) == 0
}

// Pending reports whether any request is still in flight. A counter
// rather than a flag: overlapping calls must not mask each other.
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

// Reset returns the container to its initial value and drops the
// persisted guest projection.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.pendingCount = 0
	s.lastErr = ""
	s.mu.Unlock()
	_ = s.guest.Clear(context.Background())
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

func (s *Store) setItems(items []Item) {
	s.mu.Lock()
	s.items = items
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}
