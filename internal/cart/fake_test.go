package cart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"storefront/internal/commerce"
	"storefront/internal/identity"
	"storefront/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend keeps one cart per identity, the way the real backend does,
// and serves it through a commerce.Mock.
type fakeBackend struct {
	ids *identity.Resolver

	mu       sync.Mutex
	carts    map[string][]*model.CartItem
	prices   map[string]int64
	stock    map[string]int
	nextLine int

	// gate, when set, blocks the next cart fetch after its result is computed.
	gate chan struct{}
}

func newFakeBackend(ids *identity.Resolver) *fakeBackend {
	return &fakeBackend{
		ids:    ids,
		carts:  make(map[string][]*model.CartItem),
		prices: map[string]int64{"P1": 10000, "P2": 2500, "P3": 999},
		stock:  map[string]int{},
	}
}

func (f *fakeBackend) cartKey(ctx context.Context) string {
	id := f.ids.Current(ctx)
	if id.IsAuthenticated() {
		return "account:" + id.AccountToken
	}
	return "session:" + id.SessionID
}

// seed puts a line directly into the cart for the given identity key.
func (f *fakeBackend) seed(key, productID string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLine++
	f.carts[key] = append(f.carts[key], &model.CartItem{
		ProductID:  productID,
		CartLineID: fmt.Sprintf("L%d", f.nextLine),
		Quantity:   qty,
	})
}

func (f *fakeBackend) summary(key string, authenticated bool) *model.CartSnapshot {
	snap := &model.CartSnapshot{
		Items:  []model.CartItem{},
		Totals: model.CartTotals{Currency: model.DefaultCurrency},
	}
	lines := f.carts[key]
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	for _, line := range lines {
		item := *line
		item.Name = "Product " + item.ProductID
		item.UnitPrice = f.prices[item.ProductID]
		item.Subtotal = item.UnitPrice * int64(item.Quantity)
		if !authenticated {
			item.CartLineID = ""
		}
		if stock, ok := f.stock[item.ProductID]; ok {
			item.TracksInventory = true
			item.AvailableStock = &stock
		}
		snap.Items = append(snap.Items, item)
		snap.Totals.Subtotal += item.Subtotal
		snap.Metadata.TotalItemCount += item.Quantity
	}
	snap.Totals.ShippingAmount = 500
	snap.Totals.TotalAmount = snap.Totals.Subtotal + snap.Totals.ShippingAmount
	return snap
}

func (f *fakeBackend) find(key, ref string) int {
	for i, line := range f.carts[key] {
		if line.ProductID == ref || line.CartLineID == ref {
			return i
		}
	}
	return -1
}

func (f *fakeBackend) mock() *commerce.Mock {
	return &commerce.Mock{
		FetchCartSummaryFunc: func(ctx context.Context) (*model.CartSnapshot, error) {
			key := f.cartKey(ctx)
			f.mu.Lock()
			snap := f.summary(key, f.ids.Current(ctx).IsAuthenticated())
			gate := f.gate
			f.gate = nil
			f.mu.Unlock()
			if gate != nil {
				<-gate
			}
			return snap, nil
		},
		AddItemFunc: func(ctx context.Context, productID string, qty int) error {
			key := f.cartKey(ctx)
			f.mu.Lock()
			defer f.mu.Unlock()
			if i := f.find(key, productID); i >= 0 {
				f.carts[key][i].Quantity += qty
				return nil
			}
			f.nextLine++
			f.carts[key] = append(f.carts[key], &model.CartItem{
				ProductID:  productID,
				CartLineID: fmt.Sprintf("L%d", f.nextLine),
				Quantity:   qty,
			})
			return nil
		},
		UpdateItemFunc: func(ctx context.Context, lineRef string, qty int) error {
			key := f.cartKey(ctx)
			f.mu.Lock()
			defer f.mu.Unlock()
			i := f.find(key, lineRef)
			if i < 0 {
				return model.NewNotFoundError("cart item")
			}
			f.carts[key][i].Quantity = qty
			return nil
		},
		RemoveItemFunc: func(ctx context.Context, lineRef string) error {
			key := f.cartKey(ctx)
			f.mu.Lock()
			defer f.mu.Unlock()
			i := f.find(key, lineRef)
			if i < 0 {
				return model.NewNotFoundError("cart item")
			}
			f.carts[key] = append(f.carts[key][:i], f.carts[key][i+1:]...)
			return nil
		},
		ClearCartFunc: func(ctx context.Context) error {
			key := f.cartKey(ctx)
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.carts, key)
			return nil
		},
	}
}
