package commerce

import (
	"context"
	"sync"

	"storefront/internal/model"
)

// Mock implements API for testing.
// Each method can be configured via function fields; Calls counts invocations.
type Mock struct {
	FetchCartSummaryFunc    func(ctx context.Context) (*model.CartSnapshot, error)
	AddItemFunc             func(ctx context.Context, productID string, qty int) error
	UpdateItemFunc          func(ctx context.Context, lineRef string, qty int) error
	RemoveItemFunc          func(ctx context.Context, lineRef string) error
	ClearCartFunc           func(ctx context.Context) error
	SubmitCheckoutFunc      func(ctx context.Context, draft *model.OrderDraft) (*model.PlacedOrder, error)
	CreatePaymentIntentFunc func(ctx context.Context, draft *model.OrderDraft) (*model.PaymentIntent, error)
	VerifyPaymentFunc       func(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft) (*model.PlacedOrder, error)
	LoginFunc               func(ctx context.Context, email, password string) (*model.AuthSession, error)
	CurrentUserFunc         func(ctx context.Context) (*model.Account, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ API = (*Mock)(nil)

func (m *Mock) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (m *Mock) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns the number of invocations across all methods.
func (m *Mock) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// FetchCartSummary calls the configured FetchCartSummaryFunc or returns an empty cart.
func (m *Mock) FetchCartSummary(ctx context.Context) (*model.CartSnapshot, error) {
	m.record("FetchCartSummary")
	if m.FetchCartSummaryFunc != nil {
		return m.FetchCartSummaryFunc(ctx)
	}
	return &model.CartSnapshot{
		Items:  []model.CartItem{},
		Totals: model.CartTotals{Currency: model.DefaultCurrency},
	}, nil
}

// AddItem calls the configured AddItemFunc or succeeds.
func (m *Mock) AddItem(ctx context.Context, productID string, qty int) error {
	m.record("AddItem")
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, productID, qty)
	}
	return nil
}

// UpdateItem calls the configured UpdateItemFunc or succeeds.
func (m *Mock) UpdateItem(ctx context.Context, lineRef string, qty int) error {
	m.record("UpdateItem")
	if m.UpdateItemFunc != nil {
		return m.UpdateItemFunc(ctx, lineRef, qty)
	}
	return nil
}

// RemoveItem calls the configured RemoveItemFunc or succeeds.
func (m *Mock) RemoveItem(ctx context.Context, lineRef string) error {
	m.record("RemoveItem")
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, lineRef)
	}
	return nil
}

// ClearCart calls the configured ClearCartFunc or succeeds.
func (m *Mock) ClearCart(ctx context.Context) error {
	m.record("ClearCart")
	if m.ClearCartFunc != nil {
		return m.ClearCartFunc(ctx)
	}
	return nil
}

// SubmitCheckout calls the configured SubmitCheckoutFunc or returns an error.
func (m *Mock) SubmitCheckout(ctx context.Context, draft *model.OrderDraft) (*model.PlacedOrder, error) {
	m.record("SubmitCheckout")
	if m.SubmitCheckoutFunc != nil {
		return m.SubmitCheckoutFunc(ctx, draft)
	}
	return nil, model.NewServerRejection(500, "", "")
}

// CreatePaymentIntent calls the configured CreatePaymentIntentFunc or returns an error.
func (m *Mock) CreatePaymentIntent(ctx context.Context, draft *model.OrderDraft) (*model.PaymentIntent, error) {
	m.record("CreatePaymentIntent")
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, draft)
	}
	return nil, model.NewServerRejection(500, "", "")
}

// VerifyPayment calls the configured VerifyPaymentFunc or returns an error.
func (m *Mock) VerifyPayment(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft) (*model.PlacedOrder, error) {
	m.record("VerifyPayment")
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, receipt, draft)
	}
	return nil, model.NewServerRejection(500, "", "")
}

// Login calls the configured LoginFunc or returns an unauthorized error.
func (m *Mock) Login(ctx context.Context, email, password string) (*model.AuthSession, error) {
	m.record("Login")
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, model.NewUnauthorizedError("invalid credentials")
}

// CurrentUser calls the configured CurrentUserFunc or returns an unauthorized error.
func (m *Mock) CurrentUser(ctx context.Context) (*model.Account, error) {
	m.record("CurrentUser")
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx)
	}
	return nil, model.NewUnauthorizedError("not signed in")
}
