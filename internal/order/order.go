package order

import (
	"errors"
	"time"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/address"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/product"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Status is a forward-only chain; cancelled is reachable from any
// non-terminal state through the cancellation workflow. The backend
// owns the transition graph, the client never enforces it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipping   Status = "shipping"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Item is one line of a placed order.
type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Quantity  int             `json:"quantity"`
	UnitPrice float64         `json:"unitPrice"`
	Product   product.Summary `json:"product,omitempty"`
}

// Order is immutable once placed. Cancellation is a request/approval
// sub-workflow layered on top of status: an order can stay pending or
// confirmed while CancellationRequested is already true.
type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"orderNumber"`
	Status                Status          `json:"status"`
	Items                 []Item          `json:"items"`
	Subtotal              float64         `json:"subtotal"`
	ShippingFee           float64         `json:"shippingFee"`
	Discount              float64         `json:"discount"`
	Total                 float64         `json:"total"`
	Address               address.Address `json:"address"`
	PaymentMethod         string          `json:"paymentMethod"`
	Note                  string          `json:"note,omitempty"`
	PlacedAt              time.Time       `json:"placedAt"`
	CancellationRequested bool            `json:"cancellationRequested"`
	CancellationApproved  bool            `json:"cancellationApproved"`
}

// Pagination is refreshed wholesale on every list fetch; pages are
// never merged incrementally.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
