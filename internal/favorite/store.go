package favorite

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

type AuthState interface {
	IsAuthenticated() bool
}

// Store is the favorites state container.
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

func (s *Store) FetchFavorites(ctx context.Context) error {
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

func (s *Store) AddFavorite(ctx context.Context, productID string) error {
	s.begin()
	defer s.end()
	items, err := s.backend().Add(ctx, productID)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

func (s *Store) RemoveFavorite(ctx context.Context, productID string) error {
	s.begin()
	defer s.end()
	items, err := s.backend().Remove(ctx, productID)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setItems(items)
	return nil
}

// ToggleFavorite flips membership and returns the resulting state, so
// callers can drive "liked" UI straight from the return value.
func (s *Store) ToggleFavorite(ctx context.Context, productID string) (bool, error) {
	if s.IsFavorite(productID) {
		if err := s.RemoveFavorite(ctx, productID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := s.AddFavorite(ctx, productID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) IsFavorite(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyItems(s.items)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
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
