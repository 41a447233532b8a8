package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/api"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

// Backend abstracts where cart rows live: the REST API for signed-in
// users, client storage for guests. The store selects a backend per
// call instead of branching inside every method.
type Backend interface {
	Fetch(ctx context.Context) ([]Item, error)
	Add(ctx context.Context, productID, variantID string, qty int, unitPrice float64) ([]Item, error)
	UpdateQuantity(ctx context.Context, itemID string, qty int) ([]Item, error)
	Remove(ctx context.Context, itemID string) ([]Item, error)
	Clear(ctx context.Context) error
}

// restBackend talks to the server-owned cart. Mutations do not merge
// optimistically; the caller refetches the full cart afterwards.
type restBackend struct {
	client *api.Client
}

type cartResponse struct {
	Items []Item `json:"items"`
}

func (b *restBackend) Fetch(ctx context.Context) ([]Item, error) {
	var res cartResponse
	if err := b.client.Get(ctx, "/cart", &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

func (b *restBackend) Add(ctx context.Context, productID, variantID string, qty int, unitPrice float64) ([]Item, error) {
	payload := map[string]any{
		"productId": productID,
		"variantId": variantID,
		"quantity":  qty,
		"unitPrice": unitPrice,
	}
	if err := b.client.Post(ctx, "/cart/items", payload, nil); err != nil {
		return nil, err
	}
	// correctness over latency: always refetch after a mutation
	return b.Fetch(ctx)
}

func (b *restBackend) UpdateQuantity(ctx context.Context, itemID string, qty int) ([]Item, error) {
	payload := map[string]any{"quantity": qty}
	if err := b.client.Put(ctx, "/cart/items/"+itemID, payload, nil); err != nil {
		return nil, err
	}
	return b.Fetch(ctx)
}

func (b *restBackend) Remove(ctx context.Context, itemID string) ([]Item, error) {
	if err := b.client.Delete(ctx, "/cart/items/"+itemID, nil); err != nil {
		return nil, err
	}
	return b.Fetch(ctx)
}

func (b *restBackend) Clear(ctx context.Context) error {
	return b.client.Delete(ctx, "/cart", nil)
}

const guestItemsKey = "cart.guestItems"
const guestCountKey = "cart.guestItemCount"

// guestBackend keeps cart rows in client storage. Guest rows are
// transient; they are pushed wholesale to the server on login and then
// replaced by the server cart.
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
	_ = b.storage.Set(guestCountKey, ItemCount(b.items))
}

func (b *guestBackend) Fetch(context.Context) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	return copyItems(b.items), nil
}

func (b *guestBackend) Add(_ context.Context, productID, variantID string, qty int, unitPrice float64) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	for i, it := range b.items {
		if it.VariantID == variantID {
			b.items[i].Quantity += qty
			if b.items[i].Quantity <= 0 {
				b.items = append(b.items[:i], b.items[i+1:]...)
			}
			b.persist()
			return copyItems(b.items), nil
		}
	}
	if qty <= 0 {
		return copyItems(b.items), nil
	}
	b.items = append(b.items, Item{
		ID:        uuid.NewString(),
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		AddedAt:   time.Now().UTC(),
	})
	b.persist()
	return copyItems(b.items), nil
}

func (b *guestBackend) UpdateQuantity(_ context.Context, itemID string, qty int) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	for i, it := range b.items {
		if it.ID == itemID {
			if qty <= 0 {
				b.items = append(b.items[:i], b.items[i+1:]...)
			} else {
				b.items[i].Quantity = qty
			}
			b.persist()
			return copyItems(b.items), nil
		}
	}
	return nil, ErrItemNotFound
}

func (b *guestBackend) Remove(_ context.Context, itemID string) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	for i, it := range b.items {
		if it.ID == itemID {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.persist()
			return copyItems(b.items), nil
		}
	}
	return nil, ErrItemNotFound
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
