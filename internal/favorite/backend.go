package favorite

import (
	"context"
	"sync"
	"time"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

// Backend abstracts where the favorite set lives, mirroring the cart's
// guest/REST split but without quantities. There is no bulk clear on
// the REST side; Reset only empties the guest copy, the server set is
// the authenticated user's to keep.
type Backend interface {
	Fetch(ctx context.Context) ([]Item, error)
	Add(ctx context.Context, productID string) ([]Item, error)
	Remove(ctx context.Context, productID string) ([]Item, error)
}

type restBackend struct {
	client *api.Client
}

type favoritesResponse struct {
	Items []Item `json:"items"`
}

func (b *restBackend) Fetch(ctx context.Context) ([]Item, error) {
	var res favoritesResponse
	if err := b.client.Get(ctx, "/favorites", &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

func (b *restBackend) Add(ctx context.Context, productID string) ([]Item, error) {
	if err := b.client.Post(ctx, "/favorites", map[string]string{"productId": productID}, nil); err != nil {
		return nil, err
	}
	return b.Fetch(ctx)
}

func (b *restBackend) Remove(ctx context.Context, productID string) ([]Item, error) {
	if err := b.client.Delete(ctx, "/favorites/"+productID, nil); err != nil {
		return nil, err
	}
	return b.Fetch(ctx)
}

const guestItemsKey = "favorites.guestItems"

type guestBackend struct {
	mu      sync.Mutex
	storage *storage.Store
	items   []Item
	loaded  bool
}

func (b *guestBackend) load() {
	if b.loaded {
		return
	}
	b.loaded = true
	if b.storage == nil {
		return
	}
	var items []Item
	if ok, err := b.storage.Get(guestItemsKey, &items); err == nil && ok {
		b.items = items
	}
}

func (b *guestBackend) persist() {
	if b.storage == nil {
		return
	}
	_ = b.storage.Set(guestItemsKey, b.items)
}

func (b *guestBackend) Fetch(context.Context) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	return copyItems(b.items), nil
}

func (b *guestBackend) Add(_ context.Context, productID string) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	for _, it := range b.items {
		if it.ProductID == productID {
			return copyItems(b.items), nil
		}
	}
	b.items = append(b.items, Item{ProductID: productID, AddedAt: time.Now().UTC()})
	b.persist()
	return copyItems(b.items), nil
}

func (b *guestBackend) Remove(_ context.Context, productID string) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	for i, it := range b.items {
		if it.ProductID == productID {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.persist()
			return copyItems(b.items), nil
		}
	}
	return nil, ErrNotFavorite
}

func (b *guestBackend) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.loaded = true
	b.persist()
	return nil
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
