package favorite

import (
	"errors"
	"time"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/product"
)

var ErrNotFavorite = errors.New("product not in favorites")

// Item is a favorited product. ProductID is unique within the set.
// Guest items carry an empty summary; details are refetched after
// authentication before they are ever rendered.
type Item struct {
	ProductID string          `json:"productId"`
	AddedAt   time.Time       `json:"addedAt"`
	Product   product.Summary `json:"product,omitempty"`
}
