package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/commerce"
	"storefront/internal/identity"
	"storefront/internal/model"
	"storefront/internal/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var prices = map[string]int64{"P1": 10000, "P2": 2500}

// fakeStore backs commerce.Mock with one in-memory cart.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]int
	down  bool
}

func (s *fakeStore) snapshot() (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, model.NewTransportError("the store", errors.New("connection refused"))
	}
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	snap := &model.CartSnapshot{Items: []model.CartItem{}, Totals: model.CartTotals{Currency: "INR"}}
	for _, id := range ids {
		qty := s.items[id]
		sub := prices[id] * int64(qty)
		snap.Items = append(snap.Items, model.CartItem{
			ProductID: id, Name: "Product " + id, UnitPrice: prices[id], Quantity: qty, Subtotal: sub,
		})
		snap.Totals.Subtotal += sub
		snap.Metadata.TotalItemCount += qty
	}
	if snap.Totals.Subtotal > 0 {
		snap.Totals.ShippingAmount = 500
	}
	snap.Totals.TotalAmount = snap.Totals.Subtotal + snap.Totals.ShippingAmount
	return snap, nil
}

type fixture struct {
	api   *commerce.Mock
	ids   *identity.Resolver
	store *cart.Store
	data  *fakeStore
	mux   *http.ServeMux
}

type dismissingWidget struct{}

func (dismissingWidget) Load(context.Context) error { return nil }

func (dismissingWidget) Open(_ context.Context, _ payment.Session, cb payment.Callbacks) error {
	go cb.OnDismiss()
	return nil
}

type compat struct {
	version string
	err     error
}

func (c compat) CheckCompatibility(context.Context, string) (string, error) {
	return c.version, c.err
}

func newFixture(t *testing.T, backend Compatibility) *fixture {
	t.Helper()
	f := &fixture{
		ids:  identity.NewResolver(identity.NewMemoryStore(), testLogger()),
		data: &fakeStore{items: map[string]int{}},
	}
	f.api = &commerce.Mock{
		FetchCartSummaryFunc: func(context.Context) (*model.CartSnapshot, error) {
			return f.data.snapshot()
		},
		AddItemFunc: func(_ context.Context, productID string, qty int) error {
			if _, ok := prices[productID]; !ok {
				return model.NewNotFoundError("product")
			}
			f.data.mu.Lock()
			defer f.data.mu.Unlock()
			f.data.items[productID] += qty
			return nil
		},
		UpdateItemFunc: func(_ context.Context, ref string, qty int) error {
			f.data.mu.Lock()
			defer f.data.mu.Unlock()
			f.data.items[ref] = qty
			return nil
		},
		RemoveItemFunc: func(_ context.Context, ref string) error {
			f.data.mu.Lock()
			defer f.data.mu.Unlock()
			delete(f.data.items, ref)
			return nil
		},
		ClearCartFunc: func(context.Context) error {
			f.data.mu.Lock()
			defer f.data.mu.Unlock()
			f.data.items = map[string]int{}
			return nil
		},
		SubmitCheckoutFunc: func(_ context.Context, d *model.OrderDraft) (*model.PlacedOrder, error) {
			snap, _ := f.data.snapshot()
			email := ""
			if d.Contact != nil {
				email = d.Contact.Email
			}
			return &model.PlacedOrder{
				OrderNumber: "ORD-1001", TotalAmount: snap.Totals.TotalAmount,
				PaymentMethod: d.PaymentMethod, Status: "pending", CustomerEmail: email,
			}, nil
		},
		CreatePaymentIntentFunc: func(context.Context, *model.OrderDraft) (*model.PaymentIntent, error) {
			return &model.PaymentIntent{GatewayOrderID: "order_1", Amount: 1000, Currency: "INR", GatewayAccountKey: "k"}, nil
		},
		LoginFunc: func(_ context.Context, email, password string) (*model.AuthSession, error) {
			if password != "secret" {
				return nil, model.NewUnauthorizedError("invalid email or password")
			}
			return &model.AuthSession{
				Token:   "tok-1",
				Account: model.Account{ID: "u1", Email: email, FirstName: "Asha", LastName: "Rao"},
			}, nil
		},
	}

	f.store = cart.New(f.api, f.ids, testLogger())
	t.Cleanup(f.store.Close)
	payer := payment.NewAdapter(f.api, dismissingWidget{}, payment.Options{}, testLogger())

	h := New(Deps{
		Cart:     f.store,
		Accounts: f.api,
		Sessions: f.ids,
		Backend:  backend,
		NewCheckout: func() *checkout.Orchestrator {
			return checkout.New(checkout.Deps{Backend: f.api, Payer: payer, Cart: f.store, Identity: f.ids}, testLogger())
		},
	}, testLogger())
	f.mux = http.NewServeMux()
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) seed(items map[string]int) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	for id, qty := range items {
		f.data.items[id] = qty
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		backend    Compatibility
		wantStatus int
		want       healthResponse
	}{
		{
			name:       "no backend probe",
			wantStatus: http.StatusOK,
			want:       healthResponse{Status: "ok"},
		},
		{
			name:       "compatible backend",
			backend:    compat{version: "1.4.0"},
			wantStatus: http.StatusOK,
			want:       healthResponse{Status: "ok", APIVersion: "1.4.0"},
		},
		{
			name:       "unreachable backend",
			backend:    compat{err: model.NewTransportError("the store", errors.New("refused"))},
			wantStatus: http.StatusServiceUnavailable,
			want:       healthResponse{Status: "degraded", Backend: "could not reach the store, please try again"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.backend)

			w := httptest.NewRecorder()
			f.mux.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			var got healthResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("body = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleLiveness(t *testing.T) {
	f := newFixture(t, compat{err: errors.New("should not be called")})

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleCart(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(map[string]int{"P1": 2, "P2": 1})

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest("GET", "/cart", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var view CartView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Identity != "anonymous" {
		t.Errorf("Identity = %q, want anonymous", view.Identity)
	}
	if len(view.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(view.Items))
	}
	if view.Items[0].LineRef != "P1" {
		t.Errorf("LineRef = %q, want P1 for a guest cart", view.Items[0].LineRef)
	}
	if view.ItemCount != 3 {
		t.Errorf("ItemCount = %d, want 3", view.ItemCount)
	}
	if view.Totals.TotalAmount != 23000 {
		t.Errorf("TotalAmount = %d, want 23000", view.Totals.TotalAmount)
	}
	if want := model.FormatAmount(23000, "INR"); view.Total != want {
		t.Errorf("Total = %q, want %q", view.Total, want)
	}
	if f.api.Calls("FetchCartSummary") != 1 {
		t.Errorf("FetchCartSummary calls = %d, want 1", f.api.Calls("FetchCartSummary"))
	}

	// A loaded cart is served from the snapshot unless a refresh is asked for
	f.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cart", nil))
	if f.api.Calls("FetchCartSummary") != 1 {
		t.Errorf("expected the cached snapshot to be served")
	}
	f.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cart?refresh=true", nil))
	if f.api.Calls("FetchCartSummary") != 2 {
		t.Errorf("expected refresh=true to re-fetch")
	}
}

func TestHandleCart_BackendDown(t *testing.T) {
	f := newFixture(t, nil)
	f.data.mu.Lock()
	f.data.down = true
	f.data.mu.Unlock()

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest("GET", "/cart", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "TRANSPORT_ERROR" {
		t.Errorf("Code = %q, want TRANSPORT_ERROR", resp.Error.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewValidationError("quantity", "bad"), http.StatusBadRequest},
		{model.ValidationErrors{model.NewValidationError("a", "b")}, http.StatusBadRequest},
		{model.NewUnauthorizedError("sign in"), http.StatusUnauthorized},
		{model.NewNotFoundError("product"), http.StatusNotFound},
		{model.NewServerRejection(409, "OUT_OF_STOCK", "gone"), http.StatusConflict},
		{model.NewServerRejection(500, "", ""), http.StatusBadGateway},
		{model.NewTransportError("the store", errors.New("x")), http.StatusBadGateway},
		{model.NewInvalidPayloadError("x"), http.StatusBadGateway},
		{model.NewGatewayUnavailableError(errors.New("x")), http.StatusServiceUnavailable},
		{model.NewPaymentRejectedError(""), http.StatusPaymentRequired},
		{model.NewPaymentCancelledError(""), http.StatusConflict},
		{model.NewVerificationError("order_1", "pay_1", errors.New("x")), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", model.NewNotFoundError("cart")), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
