package model

// CartItem is one normalized cart line.
// CartLineID is only set for account-scoped carts; session carts are keyed by ProductID.
// Subtotal is computed by the server and trusted over any local value.
type CartItem struct {
	ProductID       string `json:"product_id"`
	CartLineID      string `json:"cart_line_id,omitempty"`
	Name            string `json:"name"`
	UnitPrice       int64  `json:"unit_price"` // minor units
	Quantity        int    `json:"quantity"`
	ImageRef        string `json:"image_ref,omitempty"`
	VariantID       string `json:"variant_id,omitempty"`
	Subtotal        int64  `json:"subtotal"` // minor units
	TracksInventory bool   `json:"tracks_inventory"`
	AvailableStock  *int   `json:"available_stock,omitempty"`
}

// LineRef is the identifier the backend expects for mutations on this line.
func (c CartItem) LineRef() string {
	if c.CartLineID != "" {
		return c.CartLineID
	}
	return c.ProductID
}

// CartTotals are displayed as-is; the client never derives them.
type CartTotals struct {
	Subtotal       int64  `json:"subtotal"`
	TaxAmount      int64  `json:"tax_amount"`
	ShippingAmount int64  `json:"shipping_amount"`
	TotalAmount    int64  `json:"total_amount"`
	Currency       string `json:"currency"`
}

// Consistent reports whether total == subtotal + tax + shipping.
func (t CartTotals) Consistent() bool {
	return t.TotalAmount == t.Subtotal+t.TaxAmount+t.ShippingAmount
}

// CartMetadata is informational, used for UI hints only.
type CartMetadata struct {
	TotalItemCount        int     `json:"total_item_count"`
	TaxRate               float64 `json:"tax_rate"`
	FreeShippingThreshold int64   `json:"free_shipping_threshold"` // minor units
}

// CartSnapshot is the full cart view. It is replaced wholesale on every sync.
type CartSnapshot struct {
	Items    []CartItem   `json:"items"`
	Totals   CartTotals   `json:"totals"`
	Metadata CartMetadata `json:"metadata"`
}

// Find returns the line for productID, if any.
func (s CartSnapshot) Find(productID string) (CartItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// Clone returns a deep copy so callers cannot mutate store state.
func (s CartSnapshot) Clone() CartSnapshot {
	out := s
	if s.Items != nil {
		out.Items = make([]CartItem, len(s.Items))
		for i, item := range s.Items {
			if item.AvailableStock != nil {
				stock := *item.AvailableStock
				item.AvailableStock = &stock
			}
			out.Items[i] = item
		}
	}
	return out
}
