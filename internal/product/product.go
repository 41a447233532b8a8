package product

// Summary is the projection of a catalog product carried inside cart,
// favorite and chat payloads. The full catalog record stays server-owned;
// the client only ever renders these fields.
// JSON tags follow the camelCase convention used elsewhere in the project.
type Summary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Slug     string  `json:"slug,omitempty"`
	ImageURL string  `json:"imageUrl,omitempty"`
	Price    float64 `json:"price"`
}

// Variant is a purchasable variation of a product (size, color). A
// populated variant price takes precedence over a row's stored unit price.
type Variant struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Price float64 `json:"price"`
	Stock int     `json:"stock,omitempty"`
}

// EffectivePrice prefers the variant price when one is populated and
// falls back to the stored unit price otherwise.
func EffectivePrice(v *Variant, unitPrice float64) float64 {
	if v != nil && v.Price > 0 {
		return v.Price
	}
	return unitPrice
}
