package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/product"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrItemNotFound     = errors.New("cart item not found")
)

// Item is one row of the cart. At most one item exists per variant;
// re-adding a variant increments its quantity instead of duplicating.
type Item struct {
	ID        string           `json:"id"`
	CartID    string           `json:"cartId,omitempty"`
	ProductID string           `json:"productId"`
	VariantID string           `json:"variantId"`
	Quantity  int              `json:"quantity"`
	UnitPrice float64          `json:"unitPrice"`
	AddedAt   time.Time        `json:"addedAt"`
	Product   product.Summary  `json:"product,omitempty"`
	Variant   *product.Variant `json:"variant,omitempty"`
}

// ItemCount is the sum of quantities, not the number of rows.
func ItemCount(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.Quantity
	}
	return total
}

// Subtotal sums qty x effective unit price. The summation runs on
// decimals so repeated float addition cannot drift; float64 stays the
// wire type.
func Subtotal(items []Item) float64 {
	sum := decimal.Zero
	for _, it := range items {
		price := decimal.NewFromFloat(product.EffectivePrice(it.Variant, it.UnitPrice))
		sum = sum.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	f, _ := sum.Round(2).Float64()
	return f
}
