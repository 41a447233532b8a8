package address

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("address not found")
)

// Address is a shipping address. At most one address per user has
// IsDefault set; the server enforces it, the container mirrors it
// optimistically.
type Address struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	Phone       string `json:"phone"`
	AddressLine string `json:"addressLine"`
	Ward        string `json:"ward,omitempty"`
	District    string `json:"district,omitempty"`
	City        string `json:"city"`
	IsDefault   bool   `json:"isDefault"`
}
