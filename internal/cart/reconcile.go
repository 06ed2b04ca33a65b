package cart

import (
	"context"
	"fmt"
	"log/slog"

	"storefront/internal/model"
)

// Desired is one line of the cart contents a caller wants.
type Desired struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineChange is a quantity change for an existing line.
type LineChange struct {
	Item     model.CartItem
	Quantity int
}

// Plan lists the writes that turn one cart into another.
// Writes apply in order Remove → Update → Add, so an update never targets a
// line that is about to be removed.
type Plan struct {
	Remove []model.CartItem
	Update []LineChange
	Add    []Desired
}

// IsEmpty reports whether the carts already match.
func (p Plan) IsEmpty() bool {
	return len(p.Remove) == 0 && len(p.Update) == 0 && len(p.Add) == 0
}

// Writes is the number of backend calls the plan needs.
func (p Plan) Writes() int {
	return len(p.Remove) + len(p.Update) + len(p.Add)
}

// Diff computes the plan from current lines to desired contents. Lines
// match by product id. Repeated desired products are summed; a desired
// quantity of zero means absent. When several lines carry the same product
// the first is kept and the rest removed. Output follows input order.
func Diff(current []model.CartItem, desired []Desired) Plan {
	want := make(map[string]int, len(desired))
	var order []string
	for _, d := range desired {
		if _, seen := want[d.ProductID]; !seen {
			order = append(order, d.ProductID)
		}
		want[d.ProductID] += d.Quantity
	}

	var plan Plan
	kept := make(map[string]bool, len(current))
	for _, item := range current {
		qty := want[item.ProductID]
		if qty <= 0 || kept[item.ProductID] {
			plan.Remove = append(plan.Remove, item)
			continue
		}
		kept[item.ProductID] = true
		if item.Quantity != qty {
			plan.Update = append(plan.Update, LineChange{Item: item, Quantity: qty})
		}
	}

	for _, id := range order {
		if qty := want[id]; qty > 0 && !kept[id] {
			plan.Add = append(plan.Add, Desired{ProductID: id, Quantity: qty})
		}
	}
	return plan
}

// SetContents makes the cart hold exactly desired. The plan is computed
// against the current snapshot and every write goes through the backend.
// The cart is re-fetched once at the end, also after a partial failure, so
// the snapshot shows whatever the backend actually holds.
func (s *Store) SetContents(ctx context.Context, desired []Desired) error {
	for i, d := range desired {
		if d.ProductID == "" {
			return model.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "product is required")
		}
		if d.Quantity < 0 {
			return model.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "quantity cannot be negative")
		}
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	plan := Diff(s.Snapshot().Items, desired)
	if plan.IsEmpty() {
		return nil
	}
	for _, change := range plan.Update {
		if err := checkStock(change.Item, change.Quantity); err != nil {
			return err
		}
	}

	s.logger.DebugContext(ctx, "reconciling cart",
		slog.Int("remove", len(plan.Remove)),
		slog.Int("update", len(plan.Update)),
		slog.Int("add", len(plan.Add)),
		slog.Int("writes", plan.Writes()),
	)

	s.begin()
	defer s.end()

	opErr := s.apply(ctx, plan)
	refreshErr := s.refresh(ctx)
	if opErr != nil {
		s.setError(opErr)
		return opErr
	}
	return refreshErr
}

// apply stops at the first failed write.
func (s *Store) apply(ctx context.Context, plan Plan) error {
	for _, item := range plan.Remove {
		if err := s.backend.RemoveItem(ctx, item.LineRef()); err != nil {
			return err
		}
	}
	for _, change := range plan.Update {
		if err := s.backend.UpdateItem(ctx, change.Item.LineRef(), change.Quantity); err != nil {
			return err
		}
	}
	for _, add := range plan.Add {
		if err := s.backend.AddItem(ctx, add.ProductID, add.Quantity); err != nil {
			return err
		}
	}
	return nil
}
