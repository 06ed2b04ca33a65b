package commerce

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"storefront/internal/model"
)

// cartSchema constrains a normalized snapshot. Aliases are resolved before
// this runs, so it is written against the canonical JSON shape. The totals
// sum rule spans fields and stays in code (CartTotals.Consistent).
var cartSchema = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"items", "totals"},
	Properties: map[string]*jsonschema.Schema{
		"items": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"product_id", "quantity", "unit_price", "subtotal"},
				Properties: map[string]*jsonschema.Schema{
					"product_id":      {Type: "string", MinLength: intPtr(1)},
					"cart_line_id":    {Type: "string"},
					"quantity":        {Type: "integer", Minimum: floatPtr(1)},
					"unit_price":      minorUnits(),
					"subtotal":        minorUnits(),
					"available_stock": {Type: "integer"},
				},
			},
		},
		"totals": {
			Type:     "object",
			Required: []string{"subtotal", "tax_amount", "shipping_amount", "total_amount", "currency"},
			Properties: map[string]*jsonschema.Schema{
				"subtotal":        minorUnits(),
				"tax_amount":      minorUnits(),
				"shipping_amount": minorUnits(),
				"total_amount":    minorUnits(),
				"currency":        {Type: "string", MinLength: intPtr(3)},
			},
		},
	},
})

func minorUnits() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Minimum: floatPtr(0)}
}

func intPtr(n int) *int             { return &n }
func floatPtr(f float64) *float64 { return &f }

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("commerce: invalid cart schema: %v", err))
	}
	return rs
}

// validateSnapshot checks snap against cartSchema and the totals rule.
func validateSnapshot(snap *model.CartSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return model.NewInvalidPayloadError(fmt.Sprintf("encoding cart: %v", err))
	}
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return model.NewInvalidPayloadError(fmt.Sprintf("decoding cart: %v", err))
	}
	if err := cartSchema.Validate(instance); err != nil {
		return model.NewInvalidPayloadError(fmt.Sprintf("cart schema: %v", err))
	}

	t := snap.Totals
	if !t.Consistent() {
		return model.NewInvalidPayloadError(fmt.Sprintf(
			"total %d does not equal subtotal %d + tax %d + shipping %d",
			t.TotalAmount, t.Subtotal, t.TaxAmount, t.ShippingAmount))
	}
	return nil
}
