package address

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
)

type AuthState interface {
	IsAuthenticated() bool
}

// Store is the address state container. pendingCount is a counter, not
// a flag: two overlapping requests must not let the faster one clear
// the in-flight state of the slower one.
type Store struct {
	mu     sync.RWMutex
	client *api.Client
	auth   AuthState
	log    *zap.Logger

	addresses    []Address
	pendingCount int
	lastErr      string
}

func NewStore(client *api.Client, auth AuthState, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, auth: auth, log: log}
}

type addressesResponse struct {
	Addresses []Address `json:"addresses"`
}

func (s *Store) FetchAddresses(ctx context.Context) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	s.begin()
	defer s.end()
	var res addressesResponse
	if err := s.client.Get(ctx, "/addresses", &res); err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.addresses = res.Addresses
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

// CreateAddress mirrors the server's single-default invariant before
// the authoritative response arrives: the first address ever, or one
// explicitly marked default, clears the flag on every sibling. The
// optimistic flip is rolled back if the request fails.
func (s *Store) CreateAddress(ctx context.Context, data Address) (*Address, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	s.mu.Lock()
	makeDefault := data.IsDefault || len(s.addresses) == 0
	var snapshot []Address
	if makeDefault {
		snapshot = copyAddresses(s.addresses)
		for i := range s.addresses {
			s.addresses[i].IsDefault = false
		}
		data.IsDefault = true
	}
	s.mu.Unlock()

	var created Address
	if err := s.client.Post(ctx, "/addresses", data, &created); err != nil {
		s.mu.Lock()
		if makeDefault {
			s.addresses = snapshot
		}
		s.lastErr = err.Error()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	if created.IsDefault {
		for i := range s.addresses {
			s.addresses[i].IsDefault = false
		}
	}
	s.addresses = append(s.addresses, created)
	s.lastErr = ""
	s.mu.Unlock()
	return &created, nil
}

func (s *Store) UpdateAddress(ctx context.Context, id string, data Address) (*Address, error) {
	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	var updated Address
	if err := s.client.Put(ctx, "/addresses/"+id, data, &updated); err != nil {
		s.setErr(err)
		return nil, err
	}

	s.mu.Lock()
	for i := range s.addresses {
		if updated.IsDefault && s.addresses[i].ID != updated.ID {
			s.addresses[i].IsDefault = false
		}
		if s.addresses[i].ID == updated.ID {
			s.addresses[i] = updated
		}
	}
	s.lastErr = ""
	s.mu.Unlock()
	return &updated, nil
}

// DeleteAddress removes an address. When the default is deleted, the
// first remaining address becomes the new default as a local guess;
// the next authoritative fetch overwrites it.
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	if err := s.client.Delete(ctx, "/addresses/"+id, nil); err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	wasDefault := false
	kept := make([]Address, 0, len(s.addresses))
	for _, a := range s.addresses {
		if a.ID == id {
			wasDefault = a.IsDefault
			continue
		}
		kept = append(kept, a)
	}
	if wasDefault && len(kept) > 0 {
		kept[0].IsDefault = true
	}
	s.addresses = kept
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) SetDefault(ctx context.Context, id string) error {
	if !s.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	s.begin()
	defer s.end()

	if err := s.client.Put(ctx, "/addresses/"+id+"/default", nil, nil); err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	for i := range s.addresses {
		s.addresses[i].IsDefault = s.addresses[i].ID == id
	}
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) Addresses() []Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyAddresses(s.addresses)
}

// DefaultAddress returns the current default, or nil when none exists.
func (s *Store) DefaultAddress() *Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.addresses {
		if a.IsDefault {
			copied := a
			return &copied
		}
	}
	return nil
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
	s.addresses = nil
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

func copyAddresses(in []Address) []Address {
	out := make([]Address, len(in))
	copy(out, in)
	return out
}
