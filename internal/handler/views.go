package handler

import (
	"storefront/internal/model"
)

// CartView is the cart as shown to people and agents: amounts are rendered
// for display next to their minor-unit values.
type CartView struct {
	Identity  string           `json:"identity" jsonschema:"anonymous or authenticated"`
	Items     []CartLineView   `json:"items"`
	ItemCount int              `json:"item_count"`
	Currency  string           `json:"currency"`
	Subtotal  string           `json:"subtotal"`
	Tax       string           `json:"tax"`
	Shipping  string           `json:"shipping"`
	Total     string           `json:"total"`
	Totals    model.CartTotals `json:"totals" jsonschema:"server totals in minor units"`
	Loading   bool             `json:"loading,omitempty"`
}

// CartLineView is one cart line.
type CartLineView struct {
	ProductID string `json:"product_id"`
	LineRef   string `json:"line_ref" jsonschema:"identifier to pass to update_cart_item and remove_cart_item"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
	InStock   *int   `json:"in_stock,omitempty" jsonschema:"remaining stock when the product tracks inventory"`
}

func newCartView(snap model.CartSnapshot, id model.Identity, loading bool) *CartView {
	cur := snap.Totals.Currency
	if cur == "" {
		cur = model.DefaultCurrency
	}

	v := &CartView{
		Identity:  id.Kind.String(),
		Items:     make([]CartLineView, 0, len(snap.Items)),
		ItemCount: snap.Metadata.TotalItemCount,
		Currency:  cur,
		Subtotal:  model.FormatAmount(snap.Totals.Subtotal, cur),
		Tax:       model.FormatAmount(snap.Totals.TaxAmount, cur),
		Shipping:  model.FormatAmount(snap.Totals.ShippingAmount, cur),
		Total:     model.FormatAmount(snap.Totals.TotalAmount, cur),
		Totals:    snap.Totals,
		Loading:   loading,
	}
	for _, item := range snap.Items {
		line := CartLineView{
			ProductID: item.ProductID,
			LineRef:   item.LineRef(),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: model.FormatAmount(item.UnitPrice, cur),
			Subtotal:  model.FormatAmount(item.Subtotal, cur),
		}
		if item.TracksInventory && item.AvailableStock != nil {
			stock := *item.AvailableStock
			line.InStock = &stock
		}
		v.Items = append(v.Items, line)
	}
	if v.ItemCount == 0 {
		for _, item := range snap.Items {
			v.ItemCount += item.Quantity
		}
	}
	return v
}

// OrderView is a placed order.
type OrderView struct {
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Total         string `json:"total"`
	TotalAmount   int64  `json:"total_amount" jsonschema:"minor units"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

func newOrderView(order *model.PlacedOrder, currency string) *OrderView {
	return &OrderView{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentMethod: string(order.PaymentMethod),
		Total:         model.FormatAmount(order.TotalAmount, currency),
		TotalAmount:   order.TotalAmount,
		CustomerEmail: order.CustomerEmail,
	}
}

// SessionView describes the active identity after login or logout.
type SessionView struct {
	Identity string `json:"identity"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}
